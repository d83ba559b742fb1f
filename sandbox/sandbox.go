package sandbox

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/registry"
)

// Options configures a Sandbox.
type Options struct {
	// Clock stamps staging activity. Defaults to time.Now.
	Clock func() time.Time

	// MaxModuleSize bounds the staging buffer and unpacked modules.
	// 0 means DefaultMaxModuleSize.
	MaxModuleSize int

	// StagingTimeout reclaims an upload idle for longer. 0 keeps an
	// abandoned upload until the next block 0.
	StagingTimeout time.Duration

	// BlockSZX is the largest Block2 size exponent used for reads.
	BlockSZX uint8

	// Diagnostics puts the error text in the payload of error responses.
	Diagnostics bool
}

// DefaultMaxModuleSize is used when Options.MaxModuleSize is 0.
const DefaultMaxModuleSize = 1 << 20

// Sandbox owns the staging buffer and drives the registry on behalf of
// requests.
type Sandbox struct {
	engine   wasmsandbox.Instantiator
	registry *registry.Registry
	staging  *blockwise.Staging
	cache    readCache
	opts     Options
	mu       sync.Mutex
}

// New creates a sandbox that instantiates uploads with engine and keeps
// the resulting capsules in reg.
func New(engine wasmsandbox.Instantiator, reg *registry.Registry, opts Options) *Sandbox {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxModuleSize <= 0 {
		opts.MaxModuleSize = DefaultMaxModuleSize
	}
	if opts.BlockSZX > blockwise.MaxSZX {
		opts.BlockSZX = blockwise.MaxSZX
	}

	s := &Sandbox{
		engine:   engine,
		registry: reg,
		staging:  blockwise.NewStaging(opts.MaxModuleSize),
		opts:     opts,
	}
	reg.Subscribe(registry.ObserverFunc(func(e registry.Event) {
		s.cache.invalidate(e.Name)
	}))
	return s
}

// Outcome carries the result of Extract to Build.
type Outcome struct {
	// Block1 is echoed on Continue and Created when the request had one.
	Block1 *blockwise.Descriptor

	// Read is set for reads; Build runs the capsule.
	Read *Read

	// ETag identifies the module on Created.
	ETag []byte

	Status Status
}

// Read describes a pending capsule run.
type Read struct {
	Block2 *blockwise.Descriptor
	Name   string
	Format message.MediaType
}

// Handle extracts and builds one request under the sandbox lock.
func (s *Sandbox) Handle(ctx context.Context, req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.Extract(ctx, req)
	if err != nil {
		return s.errorResponse(req, err)
	}
	resp := s.Build(ctx, out)
	if !resp.Status.Success() {
		return resp
	}
	Logger().Debug("request handled",
		zap.Stringer("method", req.Method),
		zap.Stringer("status", resp.Status),
		zap.Int("payload", len(resp.Payload)))
	return resp
}

// Extract validates the request and applies writes and deletes. Reads
// are deferred to Build.
func (s *Sandbox) Extract(ctx context.Context, req Request) (Outcome, error) {
	s.reclaim()

	f, err := extract(req.Options)
	if err != nil {
		return Outcome{}, err
	}
	if !f.named || f.name == "" {
		return Outcome{}, errors.MissingOption("capsule name in Uri-Path")
	}

	switch req.Method {
	case MethodPUT:
		return s.processWrite(ctx, f, req.Payload)

	case MethodGET:
		format := message.TextPlain
		if f.accept != nil {
			format = *f.accept
		}
		if format != message.TextPlain && format != message.AppCBOR {
			return Outcome{}, errors.NotAcceptable(uint32(format))
		}
		return Outcome{
			Status: StatusContent,
			Read:   &Read{Name: f.name, Block2: f.block2, Format: format},
		}, nil

	case MethodDELETE:
		if s.registry.Remove(ctx, f.name) {
			Logger().Info("capsule deleted", zap.String("capsule", f.name))
		}
		return Outcome{Status: StatusDeleted}, nil

	default:
		return Outcome{}, errors.UnsupportedMethod(req.Method.String())
	}
}

// Build renders an outcome, running the capsule for reads.
func (s *Sandbox) Build(ctx context.Context, out Outcome) Response {
	if out.Read != nil {
		resp, err := s.read(ctx, out.Read)
		if err != nil {
			return s.errorResponse(Request{Method: MethodGET}, err)
		}
		return resp
	}

	resp := Response{Status: out.Status}
	if out.Block1 != nil {
		resp.addOption(OptionBlock1, out.Block1.Encode())
	}
	if out.ETag != nil {
		resp.addOption(OptionETag, out.ETag)
	}
	return resp
}

func (s *Sandbox) errorResponse(req Request, err error) Response {
	resp := Response{Status: StatusFor(err)}

	fields := []zap.Field{
		zap.Stringer("method", req.Method),
		zap.Stringer("status", resp.Status),
		zap.Error(err),
	}
	if resp.Status == StatusInternalServerError {
		Logger().Warn("request failed", fields...)
	} else {
		Logger().Debug("request rejected", fields...)
	}

	if resp.Status == StatusRequestEntityTooLarge {
		resp.addUint(OptionSize1, uint32(s.opts.MaxModuleSize))
	}
	if s.opts.Diagnostics {
		resp.addUint(OptionContentFormat, uint32(message.TextPlain))
		resp.Payload = []byte(err.Error())
	}
	return resp
}

// Names returns the registered capsule names at the time of the call.
func (s *Sandbox) Names() iter.Seq[string] {
	return s.registry.Names()
}

// Registry returns the registry the sandbox drives.
func (s *Sandbox) Registry() *registry.Registry {
	return s.registry
}

// Staged returns the number of bytes held by an in-flight upload.
func (s *Sandbox) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staging.Len()
}

// Reclaim drops an upload idle for longer than the staging timeout and
// reports whether it did.
func (s *Sandbox) Reclaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaim()
}

// Close removes every capsule and drops any staged upload.
func (s *Sandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staging.Release()
	s.cache.invalidate("")
	return s.registry.Close(ctx)
}
