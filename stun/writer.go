package stun

import (
	"encoding/binary"

	"github.com/kuuji/turngate/stun/stunutil"
)

// MessageWriter builds a STUN message by appending attributes into a
// caller-supplied buffer. It never allocates a fresh message buffer itself
// (callers reuse a per-connection/per-task scratch buffer across calls).
type MessageWriter struct {
	method Method
	class  Class
	txID   TransactionID
	buf    *[]byte // caller-supplied backing buffer, grown via append
	base   int     // offset in *buf where this message's header starts
}

// NewMessage starts a new message with an explicit method, class and
// transaction ID, appending its header into buf.
func NewMessage(method Method, class Class, txID TransactionID, buf *[]byte) (*MessageWriter, error) {
	mt, err := MessageType(method, class)
	if err != nil {
		return nil, err
	}
	base := len(*buf)
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], mt)
	copy(hdr[8:20], txID[:])
	binary.BigEndian.PutUint32(hdr[4:8], MagicCookie)
	*buf = append(*buf, hdr[:]...)
	return &MessageWriter{method: method, class: class, txID: txID, buf: buf, base: base}, nil
}

// Extend starts a reply that correlates to an inbound request: it copies the
// request's transaction ID and lets the caller pick the reply's class
// (success or error) while keeping the request's method.
func Extend(method Method, class Class, req *MessageReader, buf *[]byte) (*MessageWriter, error) {
	return NewMessage(method, class, req.TransactionID, buf)
}

// Append writes a raw attribute (type + length-prefixed, zero-padded value)
// into the message.
func (w *MessageWriter) Append(t AttrType, value []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(t))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	*w.buf = append(*w.buf, hdr[:]...)
	*w.buf = append(*w.buf, value...)
	if pad := pad4(len(value)) - len(value); pad > 0 {
		var zeros [3]byte
		*w.buf = append(*w.buf, zeros[:pad]...)
	}
}

// AppendString writes a UTF-8 string attribute.
func (w *MessageWriter) AppendString(t AttrType, s string) {
	w.Append(t, []byte(s))
}

// AppendUsername writes a USERNAME attribute.
func (w *MessageWriter) AppendUsername(username string) { w.AppendString(AttrUsername, username) }

// AppendRealm writes a REALM attribute.
func (w *MessageWriter) AppendRealm(realm string) { w.AppendString(AttrRealm, realm) }

// AppendNonce writes a NONCE attribute.
func (w *MessageWriter) AppendNonce(nonce string) { w.AppendString(AttrNonce, nonce) }

// AppendSoftware writes a SOFTWARE attribute.
func (w *MessageWriter) AppendSoftware(software string) { w.AppendString(AttrSoftware, software) }

// AppendLifetime writes a LIFETIME attribute (seconds).
func (w *MessageWriter) AppendLifetime(seconds uint32) {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], seconds)
	w.Append(AttrLifetime, v[:])
}

// AppendChannelNumber writes a CHANNEL-NUMBER attribute.
func (w *MessageWriter) AppendChannelNumber(ch uint16) {
	var v [4]byte
	binary.BigEndian.PutUint16(v[0:2], ch)
	w.Append(AttrChannelNumber, v[:])
}

// AppendData writes a DATA attribute.
func (w *MessageWriter) AppendData(data []byte) { w.Append(AttrData, data) }

// AppendErrorCode writes an ERROR-CODE attribute with the standard reason
// phrase for code.
func (w *MessageWriter) AppendErrorCode(code int) {
	reason := errorReason(code)
	value := make([]byte, 4+len(reason))
	value[2] = byte(code / 100)
	value[3] = byte(code % 100)
	copy(value[4:], reason)
	w.Append(AttrErrorCode, value)
}

// AppendXORAddress writes an XOR-encoded address attribute (used for
// XOR-MAPPED-ADDRESS, XOR-PEER-ADDRESS, XOR-RELAYED-ADDRESS).
func (w *MessageWriter) AppendXORAddress(t AttrType, ip []byte, port int) {
	if ip4 := to4(ip); ip4 != nil {
		var raw [4]byte
		copy(raw[:], ip4)
		xored := stunutil.XORIPv4(raw)
		value := make([]byte, 8)
		value[1] = byte(FamilyIPv4)
		binary.BigEndian.PutUint16(value[2:4], stunutil.XORPort(uint16(port)))
		copy(value[4:8], xored[:])
		w.Append(t, value)
		return
	}

	var raw [16]byte
	copy(raw[:], ip)
	xored := stunutil.XORIPv6(raw, [12]byte(w.txID))
	value := make([]byte, 20)
	value[1] = byte(FamilyIPv6)
	binary.BigEndian.PutUint16(value[2:4], stunutil.XORPort(uint16(port)))
	copy(value[4:20], xored[:])
	w.Append(t, value)
}

// AppendMappedAddress writes a plain (non-XOR) address attribute.
func (w *MessageWriter) AppendMappedAddress(t AttrType, ip []byte, port int) {
	if ip4 := to4(ip); ip4 != nil {
		value := make([]byte, 8)
		value[1] = byte(FamilyIPv4)
		binary.BigEndian.PutUint16(value[2:4], uint16(port))
		copy(value[4:8], ip4)
		w.Append(t, value)
		return
	}
	value := make([]byte, 20)
	value[1] = byte(FamilyIPv6)
	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	copy(value[4:20], ip)
	w.Append(t, value)
}

func to4(ip []byte) []byte {
	if len(ip) == 4 {
		return ip
	}
	if len(ip) == 16 {
		// net.IP's 4-in-16 form.
		if isV4InV6(ip) {
			return ip[12:16]
		}
		return nil
	}
	return nil
}

func isV4InV6(ip []byte) bool {
	for i := 0; i < 10; i++ {
		if ip[i] != 0 {
			return false
		}
	}
	return ip[10] == 0xff && ip[11] == 0xff
}

// Flush finalizes the message. If key is non-nil, MESSAGE-INTEGRITY is
// appended first (HMAC-SHA1 over everything written so far, with the
// header's length field patched to include the MESSAGE-INTEGRITY attribute
// about to be appended), then FINGERPRINT is always
// appended last. Returns the full message bytes (a slice of the backing
// buffer, not a copy).
func (w *MessageWriter) Flush(key []byte) []byte {
	if key != nil {
		attrEnd := len(*w.buf) - w.base
		binary.BigEndian.PutUint16((*w.buf)[w.base+2:w.base+4], uint16(attrEnd-HeaderSize+24))
		mac := stunutil.Integrity(key, (*w.buf)[w.base:])
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(AttrMessageIntegrity))
		binary.BigEndian.PutUint16(hdr[2:4], 20)
		*w.buf = append(*w.buf, hdr[:]...)
		*w.buf = append(*w.buf, mac...)
	}

	total := len(*w.buf) - w.base
	binary.BigEndian.PutUint16((*w.buf)[w.base+2:w.base+4], uint16(total-HeaderSize+8))
	fp := stunutil.Fingerprint((*w.buf)[w.base:])
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(AttrFingerprint))
	binary.BigEndian.PutUint16(hdr[2:4], 4)
	*w.buf = append(*w.buf, hdr[:]...)
	var fpVal [4]byte
	binary.BigEndian.PutUint32(fpVal[:], fp)
	*w.buf = append(*w.buf, fpVal[:]...)

	return (*w.buf)[w.base:]
}

// FlushNoFingerprint finalizes the message without appending FINGERPRINT.
// Used for indications forwarded on the hot path, where the extra CRC adds
// cost without a consumer that checks it.
func (w *MessageWriter) FlushNoFingerprint(key []byte) []byte {
	if key != nil {
		attrEnd := len(*w.buf) - w.base
		binary.BigEndian.PutUint16((*w.buf)[w.base+2:w.base+4], uint16(attrEnd-HeaderSize+24))
		mac := stunutil.Integrity(key, (*w.buf)[w.base:])
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(AttrMessageIntegrity))
		binary.BigEndian.PutUint16(hdr[2:4], 20)
		*w.buf = append(*w.buf, hdr[:]...)
		*w.buf = append(*w.buf, mac...)
	}
	total := len(*w.buf) - w.base
	binary.BigEndian.PutUint16((*w.buf)[w.base+2:w.base+4], uint16(total-HeaderSize))
	return (*w.buf)[w.base:]
}
