package coap

import (
	"cmp"
	"slices"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp/coder"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

// maxOptions bounds the options decoded from one datagram.
const maxOptions = 32

// MaxMessageSize is the largest datagram read or written.
const MaxMessageSize = 1152

// Decode parses one CoAP datagram.
func Decode(data []byte) (message.Message, error) {
	m := message.Message{Options: make(message.Options, 0, maxOptions)}
	if _, err := coder.DefaultCoder.Decode(data, &m); err != nil {
		return message.Message{}, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode datagram")
	}
	return m, nil
}

// Encode serializes m, sorting its options first.
func Encode(m message.Message) ([]byte, error) {
	slices.SortStableFunc(m.Options, func(a, b message.Option) int {
		return cmp.Compare(a.ID, b.ID)
	})
	size, err := coder.DefaultCoder.Size(m)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "size datagram")
	}
	buf := make([]byte, size)
	n, err := coder.DefaultCoder.Encode(m, buf)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "encode datagram")
	}
	return buf[:n], nil
}

// Path returns the Uri-Path segments of m in order.
func Path(m message.Message) []string {
	var segments []string
	for _, o := range m.Options {
		if o.ID == message.URIPath {
			segments = append(segments, string(o.Value))
		}
	}
	return segments
}

// toRequest converts m into a sandbox request, dropping the first skip
// Uri-Path segments consumed by routing.
func toRequest(m message.Message, skip int) sandbox.Request {
	req := sandbox.Request{
		Method:  sandbox.Method(m.Code),
		Payload: m.Payload,
		Options: make([]sandbox.Option, 0, len(m.Options)),
	}
	for _, o := range m.Options {
		if o.ID == message.URIPath && skip > 0 {
			skip--
			continue
		}
		// Uri-Host and Uri-Port address the endpoint, not the resource.
		if o.ID == message.URIHost || o.ID == message.URIPort {
			continue
		}
		req.Options = append(req.Options, sandbox.Option{Number: uint16(o.ID), Value: o.Value})
	}
	return req
}

// fromResponse fills the code, options and payload of m from resp.
func fromResponse(m *message.Message, resp sandbox.Response) {
	m.Code = Code(resp.Status)
	m.Payload = resp.Payload
	for _, o := range resp.Options {
		m.Options = append(m.Options, message.Option{ID: message.OptionID(o.Number), Value: o.Value})
	}
}

var statusCodes = map[sandbox.Status]codes.Code{
	sandbox.StatusContinue:                codes.Continue,
	sandbox.StatusCreated:                 codes.Created,
	sandbox.StatusContent:                 codes.Content,
	sandbox.StatusDeleted:                 codes.Deleted,
	sandbox.StatusBadRequest:              codes.BadRequest,
	sandbox.StatusNotFound:                codes.NotFound,
	sandbox.StatusMethodNotAllowed:        codes.MethodNotAllowed,
	sandbox.StatusNotAcceptable:           codes.NotAcceptable,
	sandbox.StatusRequestEntityIncomplete: codes.RequestEntityIncomplete,
	sandbox.StatusRequestEntityTooLarge:   codes.RequestEntityTooLarge,
	sandbox.StatusInternalServerError:     codes.InternalServerError,
}

// Code maps a sandbox status onto its CoAP response code.
func Code(s sandbox.Status) codes.Code {
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return codes.InternalServerError
}

// Status maps a CoAP response code back to a sandbox status.
func Status(c codes.Code) (sandbox.Status, bool) {
	for s, code := range statusCodes {
		if code == c {
			return s, true
		}
	}
	return 0, false
}

func option(m message.Message, id message.OptionID) ([]byte, bool) {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value, true
		}
	}
	return nil, false
}
