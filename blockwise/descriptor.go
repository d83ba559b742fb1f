package blockwise

import (
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Option numbers carrying block descriptors.
const (
	Block2Option uint16 = 23
	Block1Option uint16 = 27
)

const (
	// ReservedSZX is the size exponent no block may use.
	ReservedSZX uint8 = 7
	// MaxSZX is the largest usable size exponent (1024-byte blocks).
	MaxSZX uint8 = 6

	maxValueLen = 3
)

// Descriptor is a decoded block option value.
type Descriptor struct {
	Num  uint32
	More bool
	SZX  uint8
}

// FromUint unpacks an option value.
func FromUint(v uint32) Descriptor {
	return Descriptor{
		Num:  v >> 4,
		More: v&0x8 != 0,
		SZX:  uint8(v & 0x7),
	}
}

// Uint packs the descriptor into an option value.
func (d Descriptor) Uint() uint32 {
	v := d.Num<<4 | uint32(d.SZX&0x7)
	if d.More {
		v |= 0x8
	}
	return v
}

// Size returns the block size in bytes.
func (d Descriptor) Size() int {
	return 1 << (4 + int(d.SZX))
}

// Offset returns the byte offset of the block.
func (d Descriptor) Offset() int {
	return int(d.Num) * d.Size()
}

// Reserved reports whether the descriptor uses the reserved size exponent.
func (d Descriptor) Reserved() bool {
	return d.SZX == ReservedSZX
}

func (d Descriptor) String() string {
	m := 0
	if d.More {
		m = 1
	}
	return fmt.Sprintf("%d/%d/%d", d.Num, m, d.Size())
}

// Parse decodes the raw value of the block option with the given number.
func Parse(number uint16, value []byte) (Descriptor, error) {
	if len(value) > maxValueLen {
		return Descriptor{}, errors.BadOption(number, fmt.Sprintf("value of %d bytes", len(value)))
	}
	v, _, err := message.DecodeUint32(value)
	if err != nil {
		return Descriptor{}, errors.BadOption(number, err.Error())
	}
	return FromUint(v), nil
}

// Encode returns the minimal option value for d.
func (d Descriptor) Encode() []byte {
	buf := make([]byte, 4)
	n, err := message.EncodeUint32(buf, d.Uint())
	if err != nil {
		return nil
	}
	return buf[:n]
}
