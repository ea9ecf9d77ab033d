// Package wire implements the UDP wire protocol to LED controllers
// described in spec.md §6: a 1-byte ping/pong and a framed LED-write
// packet carrying a byte offset into the device's global LED buffer.
//
// The framing mirrors the small-fixed-header-plus-payload shape used by
// other LED-controller protocols in the wild (see DESIGN.md's note on
// the PixelPusher discovery packet), kept to the two opcodes the spec
// actually needs.
package wire

import "fmt"

const (
	// OpPing/OpPong are both the same 1-byte value in each direction
	// (spec §6).
	OpPing byte = 0x01
	// OpLEDWrite frames a payload write at a 16-bit big-endian offset.
	OpLEDWrite byte = 0x02
)

// PingPacket is the 1-byte liveness probe sent to a device.
func PingPacket() []byte {
	return []byte{OpPing}
}

// IsPong reports whether a received packet is the expected 1-byte pong.
func IsPong(b []byte) bool {
	return len(b) == 1 && b[0] == OpPing
}

// MaxOffset is the largest representable offset (16-bit unsigned).
const MaxOffset = 0xFFFF

// EncodeLEDWrite frames payload as an OpLEDWrite packet with the given
// byte offset into the device's global LED buffer (spec §4.7, §6).
func EncodeLEDWrite(offset int, payload []byte) ([]byte, error) {
	if offset < 0 || offset > MaxOffset {
		return nil, fmt.Errorf("wire: offset %d out of range [0, %d]", offset, MaxOffset)
	}
	pkt := make([]byte, 3+len(payload))
	pkt[0] = OpLEDWrite
	pkt[1] = byte(offset >> 8)
	pkt[2] = byte(offset)
	copy(pkt[3:], payload)
	return pkt, nil
}

// DecodeLEDWrite parses an OpLEDWrite packet back into its offset and
// payload. Used by tests and by any device-side simulator.
func DecodeLEDWrite(pkt []byte) (offset int, payload []byte, err error) {
	if len(pkt) < 3 || pkt[0] != OpLEDWrite {
		return 0, nil, fmt.Errorf("wire: not an LED-write packet")
	}
	offset = int(pkt[1])<<8 | int(pkt[2])
	return offset, pkt[3:], nil
}
