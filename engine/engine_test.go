package engine

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap/zaptest"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/internal/wasmtest"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { SetLogger(nil) })

	ctx := context.Background()
	e, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

func instantiate(t *testing.T, e *Engine, code []byte) wasmsandbox.Capsule {
	t.Helper()
	ctx := context.Background()
	c, err := e.Instantiate(ctx, wasmsandbox.Attest(code))
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { c.Close(ctx) })
	return c
}

func TestRun_Results(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name     string
		code     []byte
		want     any
		wantType string
		text     string
	}{
		{"inferred s32", wasmtest.ConstI32(-7), int32(-7), "s32", "-7"},
		{"u8 truncates", wasmtest.Typed("u8", 300), uint32(44), "u8", "44"},
		{"s16 sign", wasmtest.Typed("s16", 0xffff), int32(-1), "s16", "-1"},
		{"u32", wasmtest.Typed("u32", -1), uint32(math.MaxUint32), "u32", "4294967295"},
		{"bool true", wasmtest.Typed("bool", 5), true, "bool", "true"},
		{"bool false", wasmtest.Typed("bool", 0), false, "bool", "false"},
		{"char", wasmtest.Typed("char", 'Z'), "Z", "char", "Z"},
		{"u64", wasmtest.ConstI64("u64", -1), uint64(math.MaxUint64), "u64", "18446744073709551615"},
		{"inferred s64", wasmtest.ConstI64("", -3), int64(-3), "s64", "-3"},
		{"f64", wasmtest.ConstF64(1.5), 1.5, "f64", "1.5"},
		{"f32", wasmtest.ConstF32(0.25), float32(0.25), "f32", "0.25"},
		{"string", wasmtest.String("Hello, World!"), "Hello, World!", "string", "Hello, World!"},
		{"empty string", wasmtest.String(""), "", "string", ""},
		{"unit", wasmtest.Unit(), nil, "unit", "()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := instantiate(t, e, tt.code)
			out, err := c.Run(ctx)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if out.Value != tt.want {
				t.Errorf("value = %#v, want %#v", out.Value, tt.want)
			}
			if got := TypeName(out.Type); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
			if got := out.String(); got != tt.text {
				t.Errorf("String() = %q, want %q", got, tt.text)
			}
		})
	}
}

func TestRun_StatePersistsAcrossRuns(t *testing.T) {
	e := newTestEngine(t, Config{})
	c := instantiate(t, e, wasmtest.Counter())
	ctx := context.Background()

	for want := int32(1); want <= 3; want++ {
		out, err := c.Run(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", want, err)
		}
		if out.Value != want {
			t.Fatalf("run %d = %v", want, out.Value)
		}
	}
	if f := c.(wasmsandbox.Describer).Flavour(); f != FlavourFunction {
		t.Errorf("flavour = %q", f)
	}
}

func TestRun_Trap(t *testing.T) {
	e := newTestEngine(t, Config{})
	c := instantiate(t, e, wasmtest.Trap())

	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected trap error")
	}
	// A trap leaves the capsule usable.
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected trap error on second run")
	}
}

func TestRun_Deadline(t *testing.T) {
	e := newTestEngine(t, Config{ExecutionTimeout: 50 * time.Millisecond})
	c := instantiate(t, e, wasmtest.Spin())

	start := time.Now()
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("deadline not enforced, took %v", elapsed)
	}

	// The closed instance is replaced on the next run.
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected deadline error after reinstantiation")
	}
}

func TestRun_Command(t *testing.T) {
	e := newTestEngine(t, Config{})
	c := instantiate(t, e, wasmtest.Hello("hi there\n"))
	ctx := context.Background()

	for range 2 {
		out, err := c.Run(ctx)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if out.Value != "hi there\n" {
			t.Errorf("stdout = %q", out.Value)
		}
		if _, ok := out.Type.(wit.String); !ok {
			t.Errorf("type = %T, want wit.String", out.Type)
		}
	}
	if f := c.(wasmsandbox.Describer).Flavour(); f != FlavourCommand {
		t.Errorf("flavour = %q", f)
	}
}

func TestRun_CommandOutputCapped(t *testing.T) {
	e := newTestEngine(t, Config{MaxOutputBytes: 4})
	c := instantiate(t, e, wasmtest.Hello("truncated"))

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Value != "trun" {
		t.Errorf("stdout = %q, want %q", out.Value, "trun")
	}
}

func TestHost_Random(t *testing.T) {
	e := newTestEngine(t, Config{
		HostBindings: true,
		Rand:         bytes.NewReader([]byte{0x2a, 0x00, 0x00, 0x00}),
	})
	c := instantiate(t, e, wasmtest.Random())

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Value != uint32(42) {
		t.Errorf("random = %v, want 42", out.Value)
	}
}

func TestHost_Now(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	e := newTestEngine(t, Config{
		HostBindings: true,
		Clock:        func() time.Time { return fixed },
	})
	c := instantiate(t, e, wasmtest.Now())

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Value != fixed.UnixMilli() {
		t.Errorf("now = %v, want %d", out.Value, fixed.UnixMilli())
	}
}

func TestHost_Sensor(t *testing.T) {
	sensors := NewFakeSensors(0, 1)
	sensors.Set(Humidity, Reading{Value: 61, Unit: "%RH"})
	e := newTestEngine(t, Config{HostBindings: true, Sensors: sensors})

	tests := []struct {
		name     string
		category uint32
		want     int32
	}{
		{"temperature", uint32(Temperature), 215},
		{"overridden humidity", uint32(Humidity), 61},
		{"unknown category leaves memory untouched", 99, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := instantiate(t, e, wasmtest.Sensor(tt.category))
			out, err := c.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if out.Value != tt.want {
				t.Errorf("reading = %v, want %d", out.Value, tt.want)
			}
		})
	}
}

func TestInstantiate_Rejects(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name string
		code []byte
	}{
		{"garbage", wasmtest.Garbage},
		{"empty", nil},
		{"no entry point", wasmtest.NoEntry()},
		{"unresolved import", wasmtest.Unresolved()},
		{"host import without bindings", wasmtest.Random()},
		{"declared type mismatch", wasmtest.Typed("string", 1)},
		{"unsupported declared type", wasmtest.Typed("list<u8>", 1)},
		{"unparsable declared type", wasmtest.Typed("not a type", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Instantiate(context.Background(), wasmsandbox.Attest(tt.code))
			if err == nil {
				t.Fatal("expected error")
			}
			if kind := errors.KindOf(err); kind != errors.KindInvalidModule {
				t.Errorf("kind = %q, want %q (err: %v)", kind, errors.KindInvalidModule, err)
			}
		})
	}
}

func TestEngine_Closed(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	_, err = e.Instantiate(ctx, wasmsandbox.Attest(wasmtest.ConstI32(1)))
	if kind := errors.KindOf(err); kind != errors.KindClosed {
		t.Errorf("kind = %q, want %q", kind, errors.KindClosed)
	}
}

func TestInstantiate_InitializerDeadline(t *testing.T) {
	e := newTestEngine(t, Config{ExecutionTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := e.Instantiate(context.Background(), wasmsandbox.Attest(wasmtest.SpinInit()))
		done <- err
	}()

	select {
	case err := <-done:
		if errors.KindOf(err) != errors.KindInvalidModule {
			t.Fatalf("err = %v, want invalid_module", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("_initialize ran past the execution timeout")
	}
}

func TestHost_LogWithoutMemory(t *testing.T) {
	e := newTestEngine(t, Config{HostBindings: true})
	c := instantiate(t, e, wasmtest.LogNoMemory())

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Value != int32(1) {
		t.Errorf("value = %#v, want int32(1)", out.Value)
	}
}

func TestHost_SleepClamped(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name string
		ms   int64
	}{
		{"max", math.MaxInt64},
		{"beyond duration range", math.MaxInt64 / 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			start := time.Now()
			e.hostSleep(ctx, tt.ms)
			if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
				t.Errorf("sleep_ms(%d) returned after %v, before the deadline", tt.ms, elapsed)
			}
		})
	}
}
