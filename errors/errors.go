package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in request processing the error occurred
type Phase string

const (
	PhaseDecode      Phase = "decode"      // request option parsing
	PhaseUpload      Phase = "upload"      // block reassembly
	PhaseInstantiate Phase = "instantiate" // compile and link
	PhaseExecute     Phase = "execute"     // capsule run
	PhaseRender      Phase = "render"      // result encoding
	PhaseRegistry    Phase = "registry"    // instance table
	PhaseTransport   Phase = "transport"   // wire codec and sockets
	PhaseConfig      Phase = "config"      // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindBadOption         Kind = "bad_option"
	KindMissingOption     Kind = "missing_option"
	KindUnsupportedMethod Kind = "unsupported_method"
	KindOutOfOrder        Kind = "out_of_order"
	KindShortBlock        Kind = "short_block"
	KindTooLarge          Kind = "too_large"
	KindInvalidModule     Kind = "invalid_module"
	KindNotFound          Kind = "not_found"
	KindEngineFault       Kind = "engine_fault"
	KindNotAcceptable     Kind = "not_acceptable"
	KindInvalidInput      Kind = "invalid_input"
	KindClosed            Kind = "closed"
)

// Error is the structured error type used throughout the sandbox
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string
	Detail   string
}

// Error renders "[phase] kind at resource: detail (caused by: cause)",
// omitting empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Phase, e.Kind)
	if e.Resource != "" {
		fmt.Fprintf(&b, " at %s", e.Resource)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same phase and kind. An empty phase
// in target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Phase == "" || e.Phase == t.Phase)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the capsule name the error concerns
func (b *Builder) Resource(name string) *Builder {
	b.err.Resource = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadOption creates an error for a malformed, repeated or unknown critical option
func BadOption(number uint16, detail string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindBadOption,
		Value:  number,
		Detail: fmt.Sprintf("option %d: %s", number, detail),
	}
}

// MissingOption creates an error for a required option that is absent
func MissingOption(what string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMissingOption,
		Detail: fmt.Sprintf("%s required", what),
	}
}

// UnsupportedMethod creates an error for a request method the resource rejects
func UnsupportedMethod(method string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnsupportedMethod,
		Value:  method,
		Detail: fmt.Sprintf("method %s not allowed", method),
	}
}

// OutOfOrder creates an error for a block whose offset does not match the staged length
func OutOfOrder(name string, offset, staged int) *Error {
	return &Error{
		Phase:    PhaseUpload,
		Kind:     KindOutOfOrder,
		Resource: name,
		Value:    offset,
		Detail:   fmt.Sprintf("block at offset %d, %d bytes staged", offset, staged),
	}
}

// ShortBlock creates an error for a non-final block smaller than its declared size
func ShortBlock(name string, got, want int) *Error {
	return &Error{
		Phase:    PhaseUpload,
		Kind:     KindShortBlock,
		Resource: name,
		Value:    got,
		Detail:   fmt.Sprintf("non-final block of %d bytes, block size %d", got, want),
	}
}

// TooLarge creates a capacity error
func TooLarge(phase Phase, size, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTooLarge,
		Value:  size,
		Detail: fmt.Sprintf("%d bytes exceeds limit of %d", size, limit),
	}
}

// InvalidModule creates an error for bytecode the engine refuses
func InvalidModule(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInvalidModule,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNotFound,
		Resource: name,
		Detail:   fmt.Sprintf("%s %q not found", what, name),
	}
}

// EngineFault creates an error for a capsule that failed while running
func EngineFault(name string, cause error) *Error {
	return &Error{
		Phase:    PhaseExecute,
		Kind:     KindEngineFault,
		Resource: name,
		Detail:   "capsule run failed",
		Cause:    cause,
	}
}

// NotAcceptable creates an error for an unsupported requested representation
func NotAcceptable(format uint32) *Error {
	return &Error{
		Phase:  PhaseRender,
		Kind:   KindNotAcceptable,
		Value:  format,
		Detail: fmt.Sprintf("content format %d not available", format),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for use of a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
