package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseUpload,
				Kind:     KindOutOfOrder,
				Resource: "blink",
				Detail:   "block at offset 32, 16 bytes staged",
			},
			contains: []string{"[upload]", "out_of_order", "at blink", "offset 32"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindBadOption,
			},
			contains: []string{"[decode]", "bad_option"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindInvalidModule,
				Detail: "compile",
				Cause:  errors.New("invalid magic number"),
			},
			contains: []string{"[instantiate]", "invalid_module", "compile", "caused by", "invalid magic number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := EngineFault("counter", cause)

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the cause through the chain")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:    PhaseUpload,
		Kind:     KindShortBlock,
		Resource: "foo",
	}

	if !err.Is(&Error{Phase: PhaseUpload, Kind: KindShortBlock}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindShortBlock}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseUpload, Kind: KindOutOfOrder}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(fmt.Errorf("ctx: %w", err), &Error{Kind: KindShortBlock}) {
		t.Error("empty phase should match any phase")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handle: %w", NotFound(PhaseExecute, "capsule", "x"))
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseUpload, KindTooLarge).
		Resource("blink").
		Value(42).
		Cause(cause).
		Detail("staged %d of %d", 10, 8).
		Build()

	if err.Phase != PhaseUpload {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseUpload)
	}
	if err.Kind != KindTooLarge {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTooLarge)
	}
	if err.Resource != "blink" {
		t.Errorf("Resource = %q, want blink", err.Resource)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "staged 10 of 8" {
		t.Errorf("Detail = %q, want 'staged 10 of 8'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"BadOption", BadOption(11, "repeated"), PhaseDecode, KindBadOption},
		{"MissingOption", MissingOption("Uri-Path"), PhaseDecode, KindMissingOption},
		{"UnsupportedMethod", UnsupportedMethod("POST"), PhaseDecode, KindUnsupportedMethod},
		{"OutOfOrder", OutOfOrder("a", 16, 0), PhaseUpload, KindOutOfOrder},
		{"ShortBlock", ShortBlock("a", 10, 16), PhaseUpload, KindShortBlock},
		{"TooLarge", TooLarge(PhaseUpload, 20, 16), PhaseUpload, KindTooLarge},
		{"InvalidModule", InvalidModule("compile", nil), PhaseInstantiate, KindInvalidModule},
		{"NotFound", NotFound(PhaseRegistry, "capsule", "a"), PhaseRegistry, KindNotFound},
		{"EngineFault", EngineFault("a", errors.New("trap")), PhaseExecute, KindEngineFault},
		{"NotAcceptable", NotAcceptable(41), PhaseRender, KindNotAcceptable},
		{"InvalidInput", InvalidInput(PhaseConfig, "bad"), PhaseConfig, KindInvalidInput},
		{"Closed", Closed(PhaseRegistry, "registry"), PhaseRegistry, KindClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	t.Run("OutOfOrder carries offset", func(t *testing.T) {
		err := OutOfOrder("a", 32, 16)
		if err.Value != 32 {
			t.Errorf("Value = %v, want 32", err.Value)
		}
		if !strings.Contains(err.Detail, "16 bytes staged") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})
}
