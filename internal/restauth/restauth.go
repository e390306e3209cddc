// Package restauth implements the TURN REST API time-limited credential
// convention (as used by coturn and supported by most TURN clients): a
// shared secret on the server mints short-lived username/password pairs
// without a database round trip, and the server re-derives the same values
// to validate a client's credentials.
package restauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kuuji/turngate/stun/stunutil"
)

const (
	// DefaultCredentialLifetime is the default validity period for minted
	// REST API credentials.
	DefaultCredentialLifetime = 24 * time.Hour

	// DefaultRealm is a fallback realm name for deriving keys. The server
	// itself never applies it: the config loader rejects an empty realm, so
	// 401 challenges always carry the configured one.
	DefaultRealm = "turngate"
)

// GenerateCredentials creates time-limited TURN REST API credentials from a
// shared secret. The username encodes the expiry timestamp and caller ID.
// The password is an HMAC-SHA1 of the username, keyed by the shared secret.
//
//	username = "<unix_expiry>:<callerID>"
//	password = base64(HMAC-SHA1(secret, username))
func GenerateCredentials(secret, callerID string, lifetime time.Duration) (username, password string) {
	if lifetime == 0 {
		lifetime = DefaultCredentialLifetime
	}
	expiry := time.Now().Add(lifetime).Unix()
	username = fmt.Sprintf("%d:%s", expiry, callerID)
	password = computePassword(secret, username)
	return username, password
}

// ValidateCredentials checks that TURN REST API credentials are valid and
// not expired, recomputing the password from the shared secret.
func ValidateCredentials(secret, username, password string) error {
	expected, err := PasswordForUsername(secret, username)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(password), []byte(expected)) {
		return fmt.Errorf("invalid password")
	}
	return nil
}

// PasswordForUsername derives the plaintext REST password for username
// under secret, failing if username is malformed or its encoded expiry has
// passed. Unlike ValidateCredentials, this doesn't need a password to check
// against — it's what an Observer.Auth hook uses, since only a username
// (never a password) crosses the wire under MESSAGE-INTEGRITY; the server
// reconstructs what the client's password must have been on its own.
func PasswordForUsername(secret, username string) (string, error) {
	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid username format: expected '<expiry>:<callerID>'")
	}

	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid expiry in username: %w", err)
	}
	if time.Now().Unix() > expiry {
		return "", fmt.Errorf("credentials expired at %d", expiry)
	}

	return computePassword(secret, username), nil
}

// DeriveAuthKey computes the long-term credential key used for STUN
// MESSAGE-INTEGRITY, delegating to the same derivation the wire codec
// verifies against so REST-minted credentials and ad-hoc long-term
// credentials share one code path.
func DeriveAuthKey(username, realm, password string) []byte {
	key := stunutil.LongTermKey(username, realm, password)
	return key[:]
}

func computePassword(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
