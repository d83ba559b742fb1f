package blockwise

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Staging is the single accumulation buffer for the upload in flight.
// It is not safe for concurrent use; its owner serializes access.
type Staging struct {
	touched time.Time
	owner   string
	buf     []byte
	limit   int
	session uuid.UUID
}

// NewStaging creates a staging buffer that never holds more than limit
// bytes. A limit of 0 or less means unbounded.
func NewStaging(limit int) *Staging {
	return &Staging{limit: limit}
}

// Begin empties the buffer and starts a new upload session for owner.
// The backing array is kept for reuse.
func (s *Staging) Begin(owner string, now time.Time) uuid.UUID {
	s.buf = s.buf[:0]
	s.owner = owner
	s.session = uuid.New()
	s.touched = now
	return s.session
}

// Reserve ensures n more bytes fit without exceeding the limit.
// On failure the buffer is unchanged.
func (s *Staging) Reserve(n int) error {
	if s.limit > 0 && len(s.buf)+n > s.limit {
		return errors.TooLarge(errors.PhaseUpload, len(s.buf)+n, s.limit)
	}
	s.buf = slices.Grow(s.buf, n)
	return nil
}

// Append adds p to the buffer. Call Reserve first.
func (s *Staging) Append(p []byte, now time.Time) {
	s.buf = append(s.buf, p...)
	s.touched = now
}

// Bytes returns the staged bytes. The slice is only valid until the next
// mutation.
func (s *Staging) Bytes() []byte {
	return s.buf
}

// Len returns the number of staged bytes.
func (s *Staging) Len() int {
	return len(s.buf)
}

// Owner returns the resource name the current session was started for.
func (s *Staging) Owner() string {
	return s.owner
}

// Session returns the current session identifier, or uuid.Nil when idle.
func (s *Staging) Session() uuid.UUID {
	return s.session
}

// Active reports whether an upload session is open.
func (s *Staging) Active() bool {
	return s.session != uuid.Nil
}

// Idle returns how long the session has gone without a block.
func (s *Staging) Idle(now time.Time) time.Duration {
	if !s.Active() {
		return 0
	}
	return now.Sub(s.touched)
}

// Release drops the staged bytes and closes the session. The backing array
// is released too, since it may have been handed to the engine.
func (s *Staging) Release() {
	s.buf = nil
	s.owner = ""
	s.session = uuid.Nil
	s.touched = time.Time{}
}
