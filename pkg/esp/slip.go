package esp

import (
	"bytes"
	"fmt"
)

// SLIP framing bytes used by the ROM loader.
const (
	slipEnd    = 0xc0
	slipEsc    = 0xdb
	slipEscEnd = 0xdc
	slipEscEsc = 0xdd
)

// slipEncode wraps a packet in SLIP framing, escaping payload bytes that
// collide with the frame markers.
func slipEncode(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(slipEnd)

	for _, b := range data {
		switch b {
		case slipEnd:
			buf.WriteByte(slipEsc)
			buf.WriteByte(slipEscEnd)
		case slipEsc:
			buf.WriteByte(slipEsc)
			buf.WriteByte(slipEscEsc)
		default:
			buf.WriteByte(b)
		}
	}

	buf.WriteByte(slipEnd)
	return buf.Bytes()
}

// slipDecode unwraps one complete SLIP frame.
func slipDecode(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != slipEnd || data[len(data)-1] != slipEnd {
		return nil, fmt.Errorf("invalid SLIP packet")
	}

	var buf bytes.Buffer
	escaped := false

	for i := 1; i < len(data)-1; i++ {
		b := data[i]
		switch {
		case escaped:
			switch b {
			case slipEscEnd:
				buf.WriteByte(slipEnd)
			case slipEscEsc:
				buf.WriteByte(slipEsc)
			default:
				return nil, fmt.Errorf("invalid SLIP escape sequence 0x%02x", b)
			}
			escaped = false
		case b == slipEsc:
			escaped = true
		default:
			buf.WriteByte(b)
		}
	}

	if escaped {
		return nil, fmt.Errorf("truncated SLIP escape sequence")
	}
	return buf.Bytes(), nil
}

// checksum is the loader's xor checksum over a data block.
func checksum(data []byte) uint32 {
	sum := uint32(0xEF)
	for _, b := range data {
		sum ^= uint32(b)
	}
	return sum & 0xFF
}
