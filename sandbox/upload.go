package sandbox

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/codec"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/registry"
)

// processWrite applies one Block1 block of an upload to f.name.
func (s *Sandbox) processWrite(ctx context.Context, f fields, payload []byte) (Outcome, error) {
	var d blockwise.Descriptor
	if f.block1 != nil {
		d = *f.block1
	}
	if d.Reserved() {
		return Outcome{}, errors.BadOption(blockwise.Block1Option, "reserved block size")
	}

	size := d.Size()
	offset := d.Offset()
	now := s.opts.Clock()

	if offset == 0 {
		if s.registry.Remove(ctx, f.name) {
			Logger().Info("capsule evicted by new upload", zap.String("capsule", f.name))
		}
		session := s.staging.Begin(f.name, now)
		Logger().Debug("upload started",
			zap.String("capsule", f.name),
			zap.Stringer("session", session),
			zap.Stringer("block", d))
	}

	if staged := s.staging.Len(); staged != offset {
		return Outcome{}, errors.OutOfOrder(f.name, offset, staged)
	}
	if offset > 0 && s.staging.Owner() != f.name {
		return Outcome{}, errors.New(errors.PhaseUpload, errors.KindOutOfOrder).
			Resource(f.name).
			Value(offset).
			Detail("staging holds an upload for %q", s.staging.Owner()).
			Build()
	}
	if d.More && len(payload) != size {
		return Outcome{}, errors.ShortBlock(f.name, len(payload), size)
	}
	if offset == 0 && f.size1 > 0 && int64(f.size1) > int64(s.opts.MaxModuleSize) {
		return Outcome{}, errors.TooLarge(errors.PhaseUpload, int(f.size1), s.opts.MaxModuleSize)
	}
	if err := s.staging.Reserve(len(payload)); err != nil {
		return Outcome{}, err
	}
	s.staging.Append(payload, now)

	if d.More {
		return Outcome{Status: StatusContinue, Block1: f.block1}, nil
	}

	return s.finalize(ctx, f)
}

// finalize instantiates the staged module. On failure the staging buffer
// is left as it is; the next block 0 clears it.
func (s *Sandbox) finalize(ctx context.Context, f fields) (Outcome, error) {
	staged := s.staging.Len()
	code, format, err := codec.Unpack(s.staging.Bytes(), s.opts.MaxModuleSize)
	if err != nil {
		return Outcome{}, err
	}

	capsule, err := s.engine.Instantiate(wasmsandbox.WithName(ctx, f.name), wasmsandbox.Attest(code))
	if err != nil {
		if errors.KindOf(err) == "" {
			err = errors.InvalidModule("instantiate", err)
		}
		return Outcome{}, err
	}

	digest := codec.Digest(code)
	entry := registry.Entry{
		Name:    f.name,
		Capsule: capsule,
		Digest:  digest.String(),
		Size:    len(code),
	}
	if err := s.registry.Insert(ctx, entry); err != nil {
		_ = capsule.Close(ctx)
		return Outcome{}, err
	}
	s.staging.Release()

	logFields := []zap.Field{
		zap.String("capsule", f.name),
		zap.String("size", humanize.IBytes(uint64(len(code)))),
		zap.String("digest", digest.Short()),
	}
	if format != codec.FormatWasm {
		logFields = append(logFields, zap.String("packed", fmt.Sprintf("%s, %s", format, humanize.IBytes(uint64(staged)))))
	}
	if d, ok := capsule.(wasmsandbox.Describer); ok {
		logFields = append(logFields, zap.String("flavour", d.Flavour()))
	}
	Logger().Info("capsule instantiated", logFields...)

	return Outcome{Status: StatusCreated, Block1: f.block1, ETag: digest.ETag()}, nil
}

// reclaim drops an abandoned upload once it has been idle past the
// staging timeout.
func (s *Sandbox) reclaim() bool {
	if s.opts.StagingTimeout <= 0 || !s.staging.Active() {
		return false
	}
	idle := s.staging.Idle(s.opts.Clock())
	if idle <= s.opts.StagingTimeout {
		return false
	}
	Logger().Info("abandoned upload reclaimed",
		zap.String("capsule", s.staging.Owner()),
		zap.Stringer("session", s.staging.Session()),
		zap.String("staged", humanize.IBytes(uint64(s.staging.Len()))),
		zap.Duration("idle", idle))
	s.staging.Release()
	return true
}
