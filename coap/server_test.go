package coap

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/codec"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/internal/wasmtest"
	"github.com/wippyai/wasm-sandbox/registry"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

func newTestServer(t *testing.T) (*Server, *sandbox.Sandbox) {
	t.Helper()
	SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { SetLogger(nil) })

	ctx := context.Background()
	e, err := engine.New(ctx, engine.Config{})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })

	sb := sandbox.New(e, registry.New(), sandbox.Options{BlockSZX: blockwise.MaxSZX})
	t.Cleanup(func() { sb.Close(ctx) })
	return NewServer(sb, ServerOptions{}), sb
}

func request(typ message.Type, code codes.Code, mid int32, path string, opts ...message.Option) message.Message {
	m := message.Message{Type: typ, Code: code, MessageID: mid, Token: []byte{0xca, 0xfe}}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		m.Options = append(m.Options, message.Option{ID: message.URIPath, Value: []byte(seg)})
	}
	m.Options = append(m.Options, opts...)
	return m
}

func blockOption(id message.OptionID, num uint32, more bool, szx uint8) message.Option {
	d := blockwise.Descriptor{Num: num, More: more, SZX: szx}
	return message.Option{ID: id, Value: d.Encode()}
}

func TestServer_Routing(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		code    codes.Code
		path    string
		want    codes.Code
		payload string
	}{
		{"instructions", codes.GET, "/sandbox-instructions", codes.Content, Instructions},
		{"instructions put", codes.PUT, "/sandbox-instructions", codes.MethodNotAllowed, ""},
		{"discovery empty", codes.GET, "/.well-known/core", codes.Content, "</sandbox-instructions>;ct=0,</sandbox-directory>;ct=60"},
		{"unknown", codes.GET, "/elsewhere", codes.NotFound, ""},
		{"sandbox without name", codes.GET, "/sandbox", codes.BadRequest, ""},
		{"missing capsule", codes.GET, "/sandbox/ghost", codes.NotFound, ""},
		{"delete missing capsule", codes.DELETE, "/sandbox/ghost", codes.Deleted, ""},
		{"post capsule", codes.POST, "/sandbox/ghost", codes.MethodNotAllowed, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := srv.HandleMessage(ctx, "peer", request(message.Confirmable, tt.code, int32(100+i), tt.path))
			if !ok {
				t.Fatal("no response")
			}
			if resp.Code != tt.want {
				t.Errorf("code = %v, want %v", resp.Code, tt.want)
			}
			if tt.payload != "" && string(resp.Payload) != tt.payload {
				t.Errorf("payload = %q, want %q", resp.Payload, tt.payload)
			}
		})
	}
}

func TestServer_MessageTypes(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp, ok := srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.GET, 7, "/sandbox-instructions"))
	if !ok || resp.Type != message.Acknowledgement || resp.MessageID != 7 || string(resp.Token) != "\xca\xfe" {
		t.Errorf("CON answered with %v mid=%d token=% x", resp.Type, resp.MessageID, resp.Token)
	}

	resp, ok = srv.HandleMessage(ctx, "peer", request(message.NonConfirmable, codes.GET, 8, "/sandbox-instructions"))
	if !ok || resp.Type != message.NonConfirmable || string(resp.Token) != "\xca\xfe" {
		t.Errorf("NON answered with %v", resp.Type)
	}

	ping := message.Message{Type: message.Confirmable, Code: codes.Empty, MessageID: 9}
	resp, ok = srv.HandleMessage(ctx, "peer", ping)
	if !ok || resp.Type != message.Reset || resp.MessageID != 9 {
		t.Errorf("ping answered with %v mid=%d", resp.Type, resp.MessageID)
	}

	for _, typ := range []message.Type{message.Acknowledgement, message.Reset} {
		if _, ok := srv.HandleMessage(ctx, "peer", request(typ, codes.GET, 10, "/sandbox-instructions")); ok {
			t.Errorf("%v answered", typ)
		}
	}

	// A response code arriving at the server is not a request.
	if _, ok := srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.Content, 11, "/x")); ok {
		t.Error("response code answered")
	}
}

func TestServer_DuplicateAnsweredFromCache(t *testing.T) {
	srv, sb := newTestServer(t)
	ctx := context.Background()
	module := wasmtest.String(strings.Repeat("x", 40))

	first := request(message.Confirmable, codes.PUT, 1, "/sandbox/dup", blockOption(message.Block1, 0, true, 0))
	first.Payload = module[:16]
	second := request(message.Confirmable, codes.PUT, 2, "/sandbox/dup", blockOption(message.Block1, 1, true, 0))
	second.Payload = module[16:32]

	for _, m := range []message.Message{first, second, second} {
		resp, ok := srv.HandleMessage(ctx, "peer", m)
		if !ok || resp.Code != codes.Continue {
			t.Fatalf("mid %d: code %v", m.MessageID, resp.Code)
		}
	}
	if sb.Staged() != 32 {
		t.Errorf("staged %d, want 32", sb.Staged())
	}

	// The same message ID from another peer is a different exchange.
	resp, _ := srv.HandleMessage(ctx, "other", second)
	if resp.Code != codes.RequestEntityIncomplete {
		t.Errorf("other peer: code %v", resp.Code)
	}
}

func TestServer_Discovery(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	for i, name := range []string{"b", "a b"} {
		m := request(message.Confirmable, codes.PUT, int32(i+1), "/sandbox/"+name)
		m.Payload = wasmtest.ConstI32(1)
		if resp, _ := srv.HandleMessage(ctx, "peer", m); resp.Code != codes.Created {
			t.Fatalf("upload %q: %v", name, resp.Code)
		}
	}

	resp, _ := srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.GET, 10, "/.well-known/core"))
	want := "</sandbox/a%20b>,</sandbox/b>,</sandbox-instructions>;ct=0,</sandbox-directory>;ct=60"
	if string(resp.Payload) != want {
		t.Errorf("links = %q, want %q", resp.Payload, want)
	}
	if got := ParseLinks(string(resp.Payload)); !slices.Equal(got, []string{"a b", "b"}) {
		t.Errorf("ParseLinks = %v", got)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	m := request(message.Confirmable, codes.GET, 42, "/sandbox-instructions")
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	reply, ok := srv.HandleDatagram(context.Background(), "peer", data)
	if !ok {
		t.Fatal("no reply")
	}
	resp, err := Decode(reply)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.Code != codes.Content || resp.MessageID != 42 || string(resp.Payload) != Instructions {
		t.Errorf("reply %v mid=%d payload=%q", resp.Code, resp.MessageID, resp.Payload)
	}

	if _, ok := srv.HandleDatagram(context.Background(), "peer", []byte{0xff}); ok {
		t.Error("garbage answered")
	}
}

func TestCodeMapping(t *testing.T) {
	for s := sandbox.StatusContinue; s <= sandbox.StatusInternalServerError; s++ {
		back, ok := Status(Code(s))
		if !ok || back != s {
			t.Errorf("%s -> %v -> %s", s, Code(s), back)
		}
	}
	if _, ok := Status(codes.Valid); ok {
		t.Error("unmapped code resolved")
	}
}

func TestDedupCache(t *testing.T) {
	c := newDedupCache(2, time.Minute)
	now := time.Unix(0, 0)
	k := func(mid int32) dedupKey { return dedupKey{peer: "p", mid: mid} }

	c.put(k(1), message.Message{MessageID: 1}, now)
	c.put(k(2), message.Message{MessageID: 2}, now)
	c.put(k(3), message.Message{MessageID: 3}, now)
	if _, ok := c.get(k(1), now); ok {
		t.Error("oldest entry not evicted")
	}
	if c.len() != 2 {
		t.Errorf("len = %d", c.len())
	}

	later := now.Add(2 * time.Minute)
	if _, ok := c.get(k(3), later); ok {
		t.Error("expired entry returned")
	}
	c.put(k(4), message.Message{}, later)
	if c.len() != 1 {
		t.Errorf("expired entries kept: len = %d", c.len())
	}
}

func TestServer_Directory(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp, _ := srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.GET, 1, "/sandbox-directory"))
	if resp.Code != codes.Content {
		t.Fatalf("empty directory: %v", resp.Code)
	}
	if entries, err := codec.UnmarshalDirectory(resp.Payload); err != nil || len(entries) != 0 {
		t.Errorf("empty directory = %v, %v", entries, err)
	}

	names := []string{"alpha", "beta", "gamma", "delta"}
	for i, name := range names {
		m := request(message.Confirmable, codes.PUT, int32(10+i), "/sandbox/"+name)
		m.Payload = wasmtest.ConstI32(int32(i))
		if resp, _ := srv.HandleMessage(ctx, "peer", m); resp.Code != codes.Created {
			t.Fatalf("upload %q: %v", name, resp.Code)
		}
	}

	// Reassemble at 16-byte blocks.
	var body []byte
	for num := uint32(0); ; num++ {
		resp, _ := srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.GET, int32(20+num),
			"/sandbox-directory", blockOption(message.Block2, num, false, 0)))
		if resp.Code != codes.Content {
			t.Fatalf("block %d: %v", num, resp.Code)
		}
		raw, ok := option(resp, message.Block2)
		if !ok {
			t.Fatalf("block %d: no Block2", num)
		}
		d, err := blockwise.Parse(blockwise.Block2Option, raw)
		if err != nil || d.Num != num {
			t.Fatalf("block %d: descriptor %v, %v", num, d, err)
		}
		body = append(body, resp.Payload...)
		if !d.More {
			break
		}
	}

	entries, err := codec.UnmarshalDirectory(body)
	if err != nil {
		t.Fatalf("UnmarshalDirectory failed: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
		if e.Flavour != engine.FlavourFunction || e.Size == 0 || e.Digest == "" {
			t.Errorf("entry %+v", e)
		}
	}
	slices.Sort(got)
	want := slices.Clone(names)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}

	resp, _ = srv.HandleMessage(ctx, "peer", request(message.Confirmable, codes.DELETE, 40, "/sandbox-directory"))
	if resp.Code != codes.MethodNotAllowed {
		t.Errorf("DELETE directory: %v", resp.Code)
	}
}
