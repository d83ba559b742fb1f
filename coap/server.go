package coap

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/codec"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

// Resource paths served next to the sandbox.
const (
	SandboxPath      = "sandbox"
	InstructionsPath = "sandbox-instructions"
	DirectoryPath    = "sandbox-directory"
	Instructions     = "PUT your wasm code as /sandbox/path/ and later GET the same URI to run the code"
)

// ExchangeLifetime is how long a response is kept for retransmissions
// (RFC 7252 §4.8.2).
const ExchangeLifetime = 247 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	// Clock drives duplicate detection. Defaults to time.Now.
	Clock func() time.Time

	// DedupEntries bounds the retransmission cache. 0 means 64.
	DedupEntries int

	// DedupLifetime overrides ExchangeLifetime.
	DedupLifetime time.Duration
}

// Server answers CoAP requests for one sandbox.
type Server struct {
	sandbox *sandbox.Sandbox
	dedup   *dedupCache
	clock   func() time.Time
	mid     uint16
	mu      sync.Mutex
}

// NewServer creates a server for sb.
func NewServer(sb *sandbox.Sandbox, opts ServerOptions) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.DedupEntries <= 0 {
		opts.DedupEntries = 64
	}
	if opts.DedupLifetime <= 0 {
		opts.DedupLifetime = ExchangeLifetime
	}

	var seed [2]byte
	_, _ = rand.Read(seed[:])

	return &Server{
		sandbox: sb,
		dedup:   newDedupCache(opts.DedupEntries, opts.DedupLifetime),
		clock:   opts.Clock,
		mid:     binary.BigEndian.Uint16(seed[:]),
	}
}

// ListenAndServe listens on the UDP address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "listen "+addr)
	}
	return s.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx ends or conn fails. Requests
// are processed one at a time. conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	Logger().Info("coap server listening", zap.Stringer("addr", conn.LocalAddr()))

	buf := make([]byte, MaxMessageSize+1)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "read datagram")
		}
		if n > MaxMessageSize {
			Logger().Debug("oversized datagram dropped", zap.Stringer("from", from), zap.Int("size", n))
			continue
		}

		reply, ok := s.HandleDatagram(ctx, from.String(), buf[:n])
		if !ok {
			continue
		}
		if _, err := conn.WriteTo(reply, from); err != nil {
			Logger().Warn("send failed", zap.Stringer("to", from), zap.Error(err))
		}
	}
}

// HandleDatagram processes one encoded request from the given peer and
// returns the encoded reply, if any.
func (s *Server) HandleDatagram(ctx context.Context, from string, data []byte) ([]byte, bool) {
	req, err := Decode(data)
	if err != nil {
		Logger().Debug("malformed datagram", zap.String("from", from), zap.Error(err))
		return nil, false
	}
	resp, ok := s.HandleMessage(ctx, from, req)
	if !ok {
		return nil, false
	}
	out, err := Encode(resp)
	if err != nil {
		Logger().Warn("encode response failed", zap.String("from", from), zap.Error(err))
		return nil, false
	}
	return out, true
}

// HandleMessage answers one decoded message from the given peer.
func (s *Server) HandleMessage(ctx context.Context, from string, req message.Message) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Type {
	case message.Acknowledgement, message.Reset:
		return message.Message{}, false
	}

	if req.Code == codes.Empty {
		if req.Type != message.Confirmable {
			return message.Message{}, false
		}
		// CoAP ping.
		return message.Message{Type: message.Reset, Code: codes.Empty, MessageID: req.MessageID}, true
	}
	if !isRequest(req.Code) {
		return message.Message{}, false
	}

	now := s.clock()
	key := dedupKey{peer: from, mid: req.MessageID}
	if cached, ok := s.dedup.get(key, now); ok {
		Logger().Debug("retransmission answered from cache", zap.String("from", from), zap.Int32("mid", req.MessageID))
		return cached, true
	}

	resp := message.Message{Token: req.Token}
	if req.Type == message.Confirmable {
		resp.Type = message.Acknowledgement
		resp.MessageID = req.MessageID
	} else {
		resp.Type = message.NonConfirmable
		resp.MessageID = s.nextMID()
	}

	s.route(ctx, req, &resp)
	s.dedup.put(key, resp, now)
	return resp, true
}

func (s *Server) route(ctx context.Context, req message.Message, resp *message.Message) {
	path := Path(req)
	switch {
	case len(path) >= 1 && path[0] == SandboxPath:
		fromResponse(resp, s.sandbox.Handle(ctx, toRequest(req, 1)))

	case len(path) == 1 && path[0] == InstructionsPath:
		if req.Code != codes.GET {
			resp.Code = codes.MethodNotAllowed
			return
		}
		resp.Code = codes.Content
		resp.Options = append(resp.Options, contentFormat(message.TextPlain))
		resp.Payload = []byte(Instructions)

	case len(path) == 1 && path[0] == DirectoryPath:
		if req.Code != codes.GET {
			resp.Code = codes.MethodNotAllowed
			return
		}
		s.directory(req, resp)

	case len(path) == 2 && path[0] == ".well-known" && path[1] == "core":
		if req.Code != codes.GET {
			resp.Code = codes.MethodNotAllowed
			return
		}
		resp.Code = codes.Content
		resp.Options = append(resp.Options, contentFormat(message.AppLinkFormat))
		resp.Payload = []byte(s.linkFormat())

	default:
		resp.Code = codes.NotFound
	}
}

// linkFormat lists the live capsules and the instructions resource.
func (s *Server) linkFormat() string {
	var links []string
	for name := range s.sandbox.Names() {
		links = append(links, "</"+SandboxPath+"/"+url.PathEscape(name)+">")
	}
	links = append(links, "</"+InstructionsPath+">;ct=0", "</"+DirectoryPath+">;ct=60")
	return strings.Join(links, ",")
}

// directory serves the capsule table as a CBOR array, block-wise when it
// outgrows one block.
func (s *Server) directory(req message.Message, resp *message.Message) {
	var cursor *blockwise.Descriptor
	if raw, ok := option(req, message.Block2); ok {
		d, err := blockwise.Parse(blockwise.Block2Option, raw)
		if err != nil {
			resp.Code = codes.BadRequest
			return
		}
		cursor = &d
	}

	infos := s.sandbox.Registry().Infos()
	entries := make([]codec.DirectoryEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, codec.DirectoryEntry{
			Created: info.Created,
			Name:    info.Name,
			Digest:  info.Digest,
			Flavour: info.Flavour,
			Size:    info.Size,
			Runs:    info.Runs,
		})
	}

	chunk, err := blockwise.WriteChunk(cursor, blockwise.MaxSZX, func(w io.Writer) error {
		data, err := codec.MarshalDirectory(entries)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		Logger().Debug("directory read rejected", zap.Error(err))
		resp.Code = Code(sandbox.StatusFor(err))
		return
	}

	resp.Code = codes.Content
	resp.Options = append(resp.Options, contentFormat(message.AppCBOR))
	if chunk.Blockwise {
		resp.Options = append(resp.Options, message.Option{ID: message.Block2, Value: chunk.Block.Encode()})
	}
	resp.Payload = chunk.Body
}

func (s *Server) nextMID() int32 {
	s.mid++
	return int32(s.mid)
}

func isRequest(c codes.Code) bool {
	return c >= codes.GET && c < 32
}

func contentFormat(mt message.MediaType) message.Option {
	buf := make([]byte, 4)
	n, _ := message.EncodeUint32(buf, uint32(mt))
	return message.Option{ID: message.ContentFormat, Value: buf[:n]}
}
