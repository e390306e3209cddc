package stun

import "encoding/binary"

// channelDataHeaderSize is the fixed 4-byte ChannelData header: 2-byte
// channel number, 2-byte payload length.
const channelDataHeaderSize = 4

// ChannelNumberMin and ChannelNumberMax bound the range a CHANNEL-NUMBER or
// ChannelData frame's channel number must fall within (RFC 8656 Section 11).
const (
	ChannelNumberMin uint16 = 0x4000
	ChannelNumberMax uint16 = 0x7FFF
)

// ChannelData is a decoded ChannelData frame: a channel number and its
// payload, zero-copy over the original buffer.
type ChannelData struct {
	Number  uint16
	Payload []byte
}

// parseChannelData decodes a ChannelData frame from buf. It accepts either a
// UDP-style frame (no trailing padding expected, payload runs exactly to the
// declared length) or a TCP-style frame with up to 3 bytes of trailing
// padding beyond the declared length. It does not cut buf to one frame (the
// TCP listener does that with MessageSize; a UDP datagram is passed whole),
// and only validates the header, the channel number range and that the
// declared length fits in buf.
func parseChannelData(buf []byte) (ChannelData, error) {
	if len(buf) < channelDataHeaderSize {
		return ChannelData{}, newErr(InvalidInput, "channeldata shorter than header")
	}
	number := binary.BigEndian.Uint16(buf[0:2])
	if number < ChannelNumberMin || number > ChannelNumberMax {
		return ChannelData{}, newErrf(InvalidInput, "channel number %#x out of range", number)
	}
	length := int(binary.BigEndian.Uint16(buf[2:4]))
	if channelDataHeaderSize+length > len(buf) {
		return ChannelData{}, newErrf(InvalidInput, "declared length %d exceeds buffer", length)
	}
	return ChannelData{
		Number:  number,
		Payload: buf[channelDataHeaderSize : channelDataHeaderSize+length],
	}, nil
}

// BuildChannelData encodes a ChannelData frame into a fresh byte slice. On
// TCP, the frame is padded to a 4-byte boundary so the stream stays
// frame-aligned; on UDP no padding is added since each datagram is already
// one frame.
func BuildChannelData(number uint16, payload []byte, isTCP bool) []byte {
	size := channelDataHeaderSize + len(payload)
	padded := size
	if isTCP {
		padded = channelDataHeaderSize + pad4(len(payload))
	}
	out := make([]byte, padded)
	binary.BigEndian.PutUint16(out[0:2], number)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[channelDataHeaderSize:size], payload)
	return out
}
