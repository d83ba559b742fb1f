package wasmsandbox

import (
	"context"
	"fmt"
	"strconv"

	"go.bytecodealliance.org/wit"
)

// AttestedCode is module bytecode whose origin the caller vouches for.
type AttestedCode struct {
	bytes []byte
}

// Attest marks b as coming from the trusted uploader. The sandbox never
// checks this claim; instantiating hostile bytecode is a caller error.
func Attest(b []byte) AttestedCode {
	return AttestedCode{bytes: b}
}

// Bytes returns the attested bytecode.
func (c AttestedCode) Bytes() []byte {
	return c.bytes
}

// Len returns the bytecode size in bytes.
func (c AttestedCode) Len() int {
	return len(c.bytes)
}

// Capsule is a live execution context created from attested bytecode.
// Every Run is a fresh execution; guest state may change between runs.
type Capsule interface {
	Run(ctx context.Context) (Output, error)
	Close(ctx context.Context) error
}

// Instantiator turns attested bytecode into a Capsule.
type Instantiator interface {
	Instantiate(ctx context.Context, code AttestedCode) (Capsule, error)
}

// Describer is implemented by capsules that can report their flavour.
type Describer interface {
	Flavour() string
}

// Output is the typed result of one capsule run.
// Value holds a Go value matching Type: bool, int32, int64, uint32,
// uint64, float32, float64, string, or nil for unit. A char result is
// carried as a one-rune string.
type Output struct {
	Type  wit.Type
	Value any
}

// Unit is the output of a capsule that returns nothing.
var Unit = Output{}

// String renders the output as display text.
func (o Output) String() string {
	switch v := o.Value.(type) {
	case nil:
		return "()"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type nameKey struct{}

// WithName returns a context carrying the name of the capsule being run.
// Host bindings use it to attribute guest log lines.
func WithName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nameKey{}, name)
}

// NameFrom returns the capsule name set by WithName, or "".
func NameFrom(ctx context.Context) string {
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}
