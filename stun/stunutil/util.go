// Package stunutil provides the low-level primitives the stun package builds
// on: XOR address transforms, MESSAGE-INTEGRITY (HMAC-SHA1), FINGERPRINT
// (CRC-32), and long-term credential key derivation. Splitting these out
// keeps the attribute codec free of crypto details and matches the layering
// described for the wire codec.
package stunutil

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by RFC 8489 long-term credentials.
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
)

// MagicCookie is the fixed STUN magic cookie, present in every message header
// and used as the XOR mask for address attributes.
const MagicCookie uint32 = 0x2112A442

// FingerprintXOR is XORed into the CRC-32 checksum before it is written to
// the FINGERPRINT attribute, per RFC 8489 Section 14.7.
const FingerprintXOR uint32 = 0x5354554E

// XORPort returns port XORed with the high 16 bits of the magic cookie. The
// transform is an involution: calling it twice recovers the original port.
func XORPort(port uint16) uint16 {
	return port ^ uint16(MagicCookie>>16)
}

// XORIPv4 XORs a 4-byte IPv4 address with the magic cookie.
func XORIPv4(ip [4]byte) [4]byte {
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)
	var out [4]byte
	for i := range out {
		out[i] = ip[i] ^ cookie[i]
	}
	return out
}

// XORIPv6 XORs a 16-byte IPv6 address with the magic cookie concatenated
// with the message's transaction ID, per RFC 8489 Section 14.2.
func XORIPv6(ip [16]byte, transactionID [12]byte) [16]byte {
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)
	var out [16]byte
	for i := 0; i < 4; i++ {
		out[i] = ip[i] ^ cookie[i]
	}
	for i := 0; i < 12; i++ {
		out[4+i] = ip[4+i] ^ transactionID[i]
	}
	return out
}

// Fingerprint computes the CRC-32 FINGERPRINT value over data (the message
// up to but not including the FINGERPRINT attribute itself).
func Fingerprint(data []byte) uint32 {
	return crc32.ChecksumIEEE(data) ^ FingerprintXOR
}

// Integrity computes the MESSAGE-INTEGRITY value: HMAC-SHA1 over data, keyed
// by the long-term credential key. data must be the message prefix that
// precedes the MESSAGE-INTEGRITY attribute, with the STUN header length
// field patched to end at the end of that attribute.
func Integrity(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyIntegrity reports whether mac is the correct MESSAGE-INTEGRITY value
// for data under key, using a constant-time comparison.
func VerifyIntegrity(key, data, mac []byte) bool {
	return hmac.Equal(Integrity(key, data), mac)
}

// LongTermKey derives the long-term credential key used for
// MESSAGE-INTEGRITY: MD5(username ":" realm ":" password), per RFC 8489
// Section 9.2.2.
func LongTermKey(username, realm, password string) [16]byte {
	h := md5.New() //nolint:gosec // MD5 is mandated by the STUN long-term credential mechanism.
	h.Write([]byte(username))
	h.Write([]byte{':'})
	h.Write([]byte(realm))
	h.Write([]byte{':'})
	h.Write([]byte(password))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
