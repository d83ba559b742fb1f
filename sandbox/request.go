package sandbox

import (
	"cmp"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/plgd-dev/go-coap/v3/message"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/errors"
)

// Option numbers the sandbox reads or writes.
const (
	OptionETag          uint16 = 4
	OptionURIPath       uint16 = 11
	OptionContentFormat uint16 = 12
	OptionAccept        uint16 = 17
	OptionBlock2               = blockwise.Block2Option
	OptionBlock1               = blockwise.Block1Option
	OptionSize2         uint16 = 28
	OptionSize1         uint16 = 60
)

// Method is a request method code.
type Method uint8

const (
	MethodGET    Method = 1
	MethodPOST   Method = 2
	MethodPUT    Method = 3
	MethodDELETE Method = 4
	MethodFETCH  Method = 5
	MethodPATCH  Method = 6
	MethodIPATCH Method = 7
)

func (m Method) String() string {
	switch m {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	case MethodPUT:
		return "PUT"
	case MethodDELETE:
		return "DELETE"
	case MethodFETCH:
		return "FETCH"
	case MethodPATCH:
		return "PATCH"
	case MethodIPATCH:
		return "iPATCH"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Option is one request or response option, numbered as in CoAP.
type Option struct {
	Value  []byte
	Number uint16
}

// Critical reports whether a recipient must understand the option.
func (o Option) Critical() bool {
	return o.Number&1 == 1
}

// Request is a decoded request for a capsule resource. Options hold the
// Uri-Path segments below /sandbox.
type Request struct {
	Options []Option
	Payload []byte
	Method  Method
}

// Response is the encoded outcome handed back to the transport. Options
// are sorted by number.
type Response struct {
	Options []Option
	Payload []byte
	Status  Status
}

// Option returns the value of the first option with the given number.
func (r Response) Option(number uint16) ([]byte, bool) {
	for _, o := range r.Options {
		if o.Number == number {
			return o.Value, true
		}
	}
	return nil, false
}

func (r *Response) addOption(number uint16, value []byte) {
	r.Options = append(r.Options, Option{Number: number, Value: value})
	slices.SortStableFunc(r.Options, func(a, b Option) int {
		return cmp.Compare(a.Number, b.Number)
	})
}

func (r *Response) addUint(number uint16, v uint32) {
	r.addOption(number, EncodeUint(v))
}

// EncodeUint encodes v as a minimal-length option value.
func EncodeUint(v uint32) []byte {
	buf := make([]byte, 4)
	n, _ := message.EncodeUint32(buf, v)
	return buf[:n]
}

// DecodeUint decodes a uint option value of at most four bytes.
func DecodeUint(number uint16, value []byte) (uint32, error) {
	v, _, err := message.DecodeUint32(value)
	if err != nil {
		return 0, errors.BadOption(number, err.Error())
	}
	return v, nil
}

// fields are the options of a request that the state machine acts on.
type fields struct {
	block1 *blockwise.Descriptor
	block2 *blockwise.Descriptor
	accept *message.MediaType
	name   string
	size1  uint32
	named  bool
}

// extract consumes the first Uri-Path, Block1, Block2, Accept and Size1
// options. Any other critical option, including a repeat of a consumed
// one, fails the request; unknown elective options are ignored.
func extract(opts []Option) (fields, error) {
	var f fields
	var sized bool

	for _, o := range opts {
		switch {
		case o.Number == OptionURIPath && !f.named:
			if !utf8.Valid(o.Value) {
				return fields{}, errors.BadOption(o.Number, "path segment is not UTF-8")
			}
			f.name = string(o.Value)
			f.named = true

		case o.Number == OptionBlock1 && f.block1 == nil:
			d, err := blockwise.Parse(o.Number, o.Value)
			if err != nil {
				return fields{}, err
			}
			f.block1 = &d

		case o.Number == OptionBlock2 && f.block2 == nil:
			d, err := blockwise.Parse(o.Number, o.Value)
			if err != nil {
				return fields{}, err
			}
			if d.Reserved() {
				return fields{}, errors.BadOption(o.Number, "reserved block size")
			}
			f.block2 = &d

		case o.Number == OptionAccept && f.accept == nil:
			v, err := DecodeUint(o.Number, o.Value)
			if err != nil {
				return fields{}, err
			}
			mt := message.MediaType(v)
			f.accept = &mt

		case o.Number == OptionSize1 && !sized:
			v, err := DecodeUint(o.Number, o.Value)
			if err != nil {
				return fields{}, err
			}
			f.size1 = v
			sized = true

		case o.Critical():
			return fields{}, errors.BadOption(o.Number, "unrecognized or repeated critical option")
		}
	}
	return f, nil
}
