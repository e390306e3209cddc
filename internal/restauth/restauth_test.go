package restauth

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateCredentials(t *testing.T) {
	t.Parallel()

	secret := "test-secret-key"
	callerID := "home-server"

	username, password := GenerateCredentials(secret, callerID, DefaultCredentialLifetime)

	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("username format: got %q, want '<expiry>:<callerID>'", username)
	}
	if parts[1] != callerID {
		t.Errorf("caller ID: got %q, want %q", parts[1], callerID)
	}
	if password == "" {
		t.Fatal("password is empty")
	}
}

func TestGenerateCredentialsDefaultLifetime(t *testing.T) {
	t.Parallel()

	username, _ := GenerateCredentials("secret", "peer", 0)

	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("username format: got %q", username)
	}
	expected := time.Now().Add(DefaultCredentialLifetime).Unix()
	got := mustParseInt(t, parts[0])
	if abs(got-expected) > 5 {
		t.Errorf("expiry: got %d, want ~%d (within 5s)", got, expected)
	}
}

func TestValidateCredentialsValid(t *testing.T) {
	t.Parallel()

	secret := "shared-secret"
	username, password := GenerateCredentials(secret, "laptop", DefaultCredentialLifetime)

	if err := ValidateCredentials(secret, username, password); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
}

func TestValidateCredentialsExpired(t *testing.T) {
	t.Parallel()

	secret := "shared-secret"
	username := "1:laptop" // Unix timestamp 1 is far in the past.
	password := computePassword(secret, username)

	err := ValidateCredentials(secret, username, password)
	if err == nil {
		t.Fatal("expired credentials accepted")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("error should mention 'expired': %v", err)
	}
}

func TestValidateCredentialsWrongSecret(t *testing.T) {
	t.Parallel()

	username, password := GenerateCredentials("secret-A", "peer", DefaultCredentialLifetime)

	err := ValidateCredentials("secret-B", username, password)
	if err == nil {
		t.Fatal("wrong secret accepted")
	}
	if !strings.Contains(err.Error(), "invalid password") {
		t.Errorf("error should mention 'invalid password': %v", err)
	}
}

func TestValidateCredentialsMalformedUsername(t *testing.T) {
	t.Parallel()

	err := ValidateCredentials("secret", "no-colon-here", "password")
	if err == nil {
		t.Fatal("malformed username accepted")
	}
	if !strings.Contains(err.Error(), "invalid username format") {
		t.Errorf("error should mention 'invalid username format': %v", err)
	}
}

func TestValidateCredentialsBadExpiry(t *testing.T) {
	t.Parallel()

	err := ValidateCredentials("secret", "notanumber:peer", "password")
	if err == nil {
		t.Fatal("bad expiry accepted")
	}
	if !strings.Contains(err.Error(), "invalid expiry") {
		t.Errorf("error should mention 'invalid expiry': %v", err)
	}
}

func TestDeriveAuthKey(t *testing.T) {
	t.Parallel()

	key := DeriveAuthKey("user", "realm", "pass")
	if len(key) != 16 {
		t.Fatalf("auth key length: got %d, want 16", len(key))
	}

	key2 := DeriveAuthKey("user", "realm", "pass")
	if string(key) != string(key2) {
		t.Error("same inputs produced different keys")
	}

	key3 := DeriveAuthKey("user", "realm", "different")
	if string(key) == string(key3) {
		t.Error("different inputs produced same key")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()

	secret := "my-turn-secret"
	callerID := "phone"

	username, password := GenerateCredentials(secret, callerID, DefaultCredentialLifetime)

	clientKey := DeriveAuthKey(username, DefaultRealm, password)

	if err := ValidateCredentials(secret, username, password); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	serverKey := DeriveAuthKey(username, DefaultRealm, password)

	if string(clientKey) != string(serverKey) {
		t.Error("client and server derived different auth keys")
	}
}

func mustParseInt(t *testing.T, s string) int64 {
	t.Helper()
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a number: %q", s)
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
