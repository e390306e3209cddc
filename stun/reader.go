package stun

import (
	"encoding/binary"
	"net"

	"github.com/kuuji/turngate/stun/stunutil"
)

type attrSpan struct {
	Type  AttrType
	Start int
	End   int
}

// PayloadKind distinguishes the two frame types a socket can receive.
type PayloadKind int

const (
	PayloadMessage PayloadKind = iota
	PayloadChannelData
)

// Payload is the result of decoding one frame: either a parsed STUN message
// or a ChannelData frame, never both.
type Payload struct {
	Kind        PayloadKind
	Message     *MessageReader
	ChannelData *ChannelData
}

// Decoder classifies and parses inbound frames. It is reusable across calls:
// the attribute index is cleared and reused on every Decode, so the
// MessageReader returned by one call is only valid until the next call to
// Decode on the same Decoder. Transports that need to hold onto a message
// past that point (e.g. to forward it) must copy out what they need first.
type Decoder struct {
	scratch []attrSpan
}

// NewDecoder creates a Decoder with a small pre-sized attribute scratch
// buffer; it grows on demand for messages with more attributes.
func NewDecoder() *Decoder {
	return &Decoder{scratch: make([]attrSpan, 0, 12)}
}

// Decode classifies buf and parses it into a Payload. buf is not copied —
// both the returned MessageReader and ChannelData reference it directly, so
// the caller must not mutate or reuse buf while the Payload is in use.
func (d *Decoder) Decode(buf []byte) (Payload, error) {
	isCD, err := classify(buf)
	if err != nil {
		return Payload{}, err
	}
	if isCD {
		cd, err := parseChannelData(buf)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: PayloadChannelData, ChannelData: &cd}, nil
	}

	m, err := d.decodeMessage(buf)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: PayloadMessage, Message: m}, nil
}

// MessageReader is a zero-copy view over a decoded STUN message: attribute
// positions are stored as (kind, byte-range) pairs referencing the original
// buffer, so decoding never allocates proportionally to message size.
type MessageReader struct {
	Method        Method
	Class         Class
	TransactionID TransactionID

	buf   []byte
	attrs []attrSpan
}

func (d *Decoder) decodeMessage(buf []byte) (*MessageReader, error) {
	if len(buf) < HeaderSize {
		return nil, newErr(InvalidInput, "message shorter than header")
	}

	msgType := binary.BigEndian.Uint16(buf[0:2])
	msgLen := int(binary.BigEndian.Uint16(buf[2:4]))
	cookie := binary.BigEndian.Uint32(buf[4:8])

	if cookie != MagicCookie {
		return nil, newErrf(NotCookie, "got %#x", cookie)
	}
	if HeaderSize+msgLen > len(buf) {
		return nil, newErrf(InvalidInput, "length %d exceeds buffer", msgLen)
	}

	method, class, err := ParseMessageType(msgType)
	if err != nil {
		return nil, err
	}

	var txID TransactionID
	copy(txID[:], buf[8:20])

	d.scratch = d.scratch[:0]
	offset := HeaderSize
	end := HeaderSize + msgLen
	for offset+4 <= end {
		attrType := AttrType(binary.BigEndian.Uint16(buf[offset : offset+2]))
		attrLen := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		valStart := offset + 4
		valEnd := valStart + attrLen
		if valEnd > end {
			return nil, newErrf(InvalidInput, "attribute %#x length %d exceeds message", attrType, attrLen)
		}
		d.scratch = append(d.scratch, attrSpan{Type: attrType, Start: valStart, End: valEnd})
		offset = valStart + pad4(attrLen)
	}

	return &MessageReader{
		Method:        method,
		Class:         class,
		TransactionID: txID,
		buf:           buf[:end],
		attrs:         d.scratch,
	}, nil
}

// Get returns the raw value of the first attribute of type t, or false if
// not present.
func (m *MessageReader) Get(t AttrType) ([]byte, bool) {
	for _, a := range m.attrs {
		if a.Type == t {
			return m.buf[a.Start:a.End], true
		}
	}
	return nil, false
}

// GetAll returns the raw values of every attribute of type t, in wire order.
func (m *MessageReader) GetAll(t AttrType) [][]byte {
	var out [][]byte
	for _, a := range m.attrs {
		if a.Type == t {
			out = append(out, m.buf[a.Start:a.End])
		}
	}
	return out
}

// Username returns the USERNAME attribute, if present.
func (m *MessageReader) Username() (string, bool) {
	v, ok := m.Get(AttrUsername)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Realm returns the REALM attribute, if present.
func (m *MessageReader) Realm() (string, bool) {
	v, ok := m.Get(AttrRealm)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Nonce returns the NONCE attribute, if present.
func (m *MessageReader) Nonce() (string, bool) {
	v, ok := m.Get(AttrNonce)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Lifetime returns the LIFETIME attribute in seconds, if present.
func (m *MessageReader) Lifetime() (uint32, bool) {
	v, ok := m.Get(AttrLifetime)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// RequestedTransport returns the protocol number from REQUESTED-TRANSPORT,
// if present.
func (m *MessageReader) RequestedTransport() (byte, bool) {
	v, ok := m.Get(AttrRequestedTransport)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

// ChannelNumber returns the CHANNEL-NUMBER attribute, if present.
func (m *MessageReader) ChannelNumber() (uint16, bool) {
	v, ok := m.Get(AttrChannelNumber)
	if !ok || len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

// Data returns the DATA attribute, if present.
func (m *MessageReader) Data() ([]byte, bool) {
	return m.Get(AttrData)
}

// ErrorCode returns the decoded ERROR-CODE attribute, if present.
func (m *MessageReader) ErrorCode() (ErrorCode, bool) {
	v, ok := m.Get(AttrErrorCode)
	if !ok || len(v) < 4 {
		return ErrorCode{}, false
	}
	code := int(v[2])*100 + int(v[3])
	return ErrorCode{Code: code, Reason: string(v[4:])}, true
}

// XORAddress decodes an XOR-encoded address attribute (XOR-MAPPED-ADDRESS,
// XOR-PEER-ADDRESS, XOR-RELAYED-ADDRESS).
func (m *MessageReader) XORAddress(t AttrType) (net.IP, int, bool) {
	v, ok := m.Get(t)
	if !ok {
		return nil, 0, false
	}
	return decodeXORAddress(v, m.TransactionID)
}

// XORAddresses decodes every attribute of type t as an XOR-encoded address.
func (m *MessageReader) XORAddresses(t AttrType) []net.UDPAddr {
	var out []net.UDPAddr
	for _, v := range m.GetAll(t) {
		if ip, port, ok := decodeXORAddress(v, m.TransactionID); ok {
			out = append(out, net.UDPAddr{IP: ip, Port: port})
		}
	}
	return out
}

// MappedAddress decodes a plain (non-XOR) MAPPED-ADDRESS-style attribute.
func (m *MessageReader) MappedAddress(t AttrType) (net.IP, int, bool) {
	v, ok := m.Get(t)
	if !ok || len(v) < 4 {
		return nil, 0, false
	}
	family := AddressFamily(v[1])
	port := int(binary.BigEndian.Uint16(v[2:4]))
	switch family {
	case FamilyIPv4:
		if len(v) < 8 {
			return nil, 0, false
		}
		ip := make(net.IP, 4)
		copy(ip, v[4:8])
		return ip, port, true
	case FamilyIPv6:
		if len(v) < 20 {
			return nil, 0, false
		}
		ip := make(net.IP, 16)
		copy(ip, v[4:20])
		return ip, port, true
	default:
		return nil, 0, false
	}
}

func decodeXORAddress(v []byte, txID TransactionID) (net.IP, int, bool) {
	if len(v) < 4 {
		return nil, 0, false
	}
	family := AddressFamily(v[1])
	port := int(stunutil.XORPort(binary.BigEndian.Uint16(v[2:4])))

	switch family {
	case FamilyIPv4:
		if len(v) < 8 {
			return nil, 0, false
		}
		var raw [4]byte
		copy(raw[:], v[4:8])
		xored := stunutil.XORIPv4(raw)
		ip := net.IPv4(xored[0], xored[1], xored[2], xored[3])
		return ip, port, true
	case FamilyIPv6:
		if len(v) < 20 {
			return nil, 0, false
		}
		var raw [16]byte
		copy(raw[:], v[4:20])
		xored := stunutil.XORIPv6(raw, [12]byte(txID))
		ip := make(net.IP, 16)
		copy(ip, xored[:])
		return ip, port, true
	default:
		return nil, 0, false
	}
}

// Integrity verifies the MESSAGE-INTEGRITY attribute against key. The HMAC
// is computed over the message prefix that precedes the MESSAGE-INTEGRITY
// attribute, with the STUN header length field patched to end at the end of
// MESSAGE-INTEGRITY (i.e. as if FINGERPRINT, and anything else that follows
// MESSAGE-INTEGRITY, were absent).
func (m *MessageReader) Integrity(key []byte) error {
	miOffset := -1
	var miValStart int
	for _, a := range m.attrs {
		if a.Type == AttrMessageIntegrity {
			miOffset = a.Start - 4
			miValStart = a.Start
			break
		}
	}
	if miOffset < 0 {
		return newErr(NotIntegrity, "no MESSAGE-INTEGRITY attribute")
	}
	if miValStart+20 > len(m.buf) {
		return newErr(InvalidInput, "MESSAGE-INTEGRITY truncated")
	}

	prefix := make([]byte, miOffset)
	copy(prefix, m.buf[:miOffset])
	binary.BigEndian.PutUint16(prefix[2:4], uint16(miOffset-HeaderSize+4+20))

	mac := m.buf[miValStart : miValStart+20]
	if !stunutil.VerifyIntegrity(key, prefix, mac) {
		return newErr(IntegrityFailed, "HMAC mismatch")
	}
	return nil
}

// VerifyFingerprint validates the FINGERPRINT attribute, which per RFC 8489
// must be the last attribute in the message.
func (m *MessageReader) VerifyFingerprint() error {
	if len(m.attrs) == 0 {
		return newErr(InvalidInput, "no attributes")
	}
	last := m.attrs[len(m.attrs)-1]
	if last.Type != AttrFingerprint || last.End-last.Start != 4 {
		return newErr(InvalidInput, "last attribute is not FINGERPRINT")
	}
	fpOffset := last.Start - 4
	expected := stunutil.Fingerprint(m.buf[:fpOffset])
	actual := binary.BigEndian.Uint32(m.buf[last.Start:last.End])
	if expected != actual {
		return newErrf(InvalidInput, "fingerprint mismatch: want %#x got %#x", expected, actual)
	}
	return nil
}

// Raw returns the full decoded message bytes (header + attribute section),
// useful for computing integrity against a key derived after decoding.
func (m *MessageReader) Raw() []byte {
	return m.buf
}
