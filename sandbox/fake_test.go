package sandbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap/zaptest"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/registry"
)

// fakeEngine instantiates any code not starting with "bad". The capsule
// renders as the code itself, or as a run counter for code starting with
// "count".
type fakeEngine struct {
	instantiated int
}

func (e *fakeEngine) Instantiate(_ context.Context, code wasmsandbox.AttestedCode) (wasmsandbox.Capsule, error) {
	b := code.Bytes()
	if bytes.HasPrefix(b, []byte("bad")) {
		return nil, stderrors.New("not a module")
	}
	e.instantiated++
	return &fakeCapsule{code: string(b)}, nil
}

type fakeCapsule struct {
	code   string
	runs   int
	closed bool
}

func (c *fakeCapsule) Run(context.Context) (wasmsandbox.Output, error) {
	c.runs++
	switch {
	case strings.HasPrefix(c.code, "fail"):
		return wasmsandbox.Output{}, stderrors.New("trap")
	case strings.HasPrefix(c.code, "count"):
		return wasmsandbox.Output{Type: wit.String{}, Value: fmt.Sprintf("run %d %s", c.runs, strings.Repeat(".", 40))}, nil
	case strings.HasPrefix(c.code, "num"):
		return wasmsandbox.Output{Type: wit.U32{}, Value: uint32(len(c.code))}, nil
	default:
		return wasmsandbox.Output{Type: wit.String{}, Value: c.code}, nil
	}
}

func (c *fakeCapsule) Close(context.Context) error {
	c.closed = true
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t      *testing.T
	sb     *Sandbox
	reg    *registry.Registry
	engine *fakeEngine
	clock  *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { SetLogger(nil) })

	h := &harness{
		t:      t,
		reg:    registry.New(),
		engine: &fakeEngine{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts.Clock = h.clock.Now
	h.sb = New(h.engine, h.reg, opts)
	t.Cleanup(func() { h.sb.Close(context.Background()) })
	return h
}

func (h *harness) do(req Request) Response {
	return h.sb.Handle(context.Background(), req)
}

func path(name string) Option {
	return Option{Number: OptionURIPath, Value: []byte(name)}
}

func block(number uint16, num uint32, more bool, szx uint8) Option {
	d := blockwise.Descriptor{Num: num, More: more, SZX: szx}
	return Option{Number: number, Value: d.Encode()}
}

func putBlock(name string, num uint32, more bool, szx uint8, payload []byte) Request {
	return Request{
		Method:  MethodPUT,
		Options: []Option{path(name), block(OptionBlock1, num, more, szx)},
		Payload: payload,
	}
}

func get(name string, opts ...Option) Request {
	return Request{Method: MethodGET, Options: append([]Option{path(name)}, opts...)}
}

func del(name string) Request {
	return Request{Method: MethodDELETE, Options: []Option{path(name)}}
}

// upload sends code in blocks of 1<<(4+szx) bytes and returns the final
// response.
func (h *harness) upload(name string, code []byte, szx uint8) Response {
	h.t.Helper()
	size := 1 << (4 + int(szx))
	var resp Response
	for num := 0; ; num++ {
		start := num * size
		end := min(start+size, len(code))
		more := end < len(code)
		resp = h.do(putBlock(name, uint32(num), more, szx, code[start:end]))
		if !more {
			return resp
		}
		if resp.Status != StatusContinue {
			h.t.Fatalf("block %d: status %s", num, resp.Status)
		}
	}
}

func (h *harness) expect(resp Response, want Status) {
	h.t.Helper()
	if resp.Status != want {
		h.t.Fatalf("status = %s, want %s (payload %q)", resp.Status, want, resp.Payload)
	}
}
