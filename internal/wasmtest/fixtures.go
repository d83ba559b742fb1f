package wasmtest

import (
	"encoding/binary"
	"math"
)

const resultSection = "sandbox:result"

// ConstI32 returns a module whose run yields v with no declared type.
func ConstI32(v int32) []byte {
	b := New()
	run := b.Func(nil, []byte{I32}, append([]byte{OpI32Const}, Sleb(int64(v))...)...)
	return b.Export("run", run).Bytes()
}

// Typed returns a module whose run yields a single i32 v declared as the
// WIT type witType, e.g. "u8" or "bool".
func Typed(witType string, v int32) []byte {
	b := New()
	run := b.Func(nil, []byte{I32}, append([]byte{OpI32Const}, Sleb(int64(v))...)...)
	return b.Export("run", run).Custom(resultSection, []byte(witType)).Bytes()
}

// ConstI64 returns a module whose run yields v, declared as witType when
// non-empty.
func ConstI64(witType string, v int64) []byte {
	b := New()
	run := b.Func(nil, []byte{I64}, append([]byte{OpI64Const}, Sleb(v)...)...)
	b.Export("run", run)
	if witType != "" {
		b.Custom(resultSection, []byte(witType))
	}
	return b.Bytes()
}

// ConstF64 returns a module whose run yields v.
func ConstF64(v float64) []byte {
	code := []byte{OpF64Const}
	code = binary.LittleEndian.AppendUint64(code, math.Float64bits(v))
	b := New()
	run := b.Func(nil, []byte{F64}, code...)
	return b.Export("run", run).Bytes()
}

// ConstF32 returns a module whose run yields v.
func ConstF32(v float32) []byte {
	code := []byte{OpF32Const}
	code = binary.LittleEndian.AppendUint32(code, math.Float32bits(v))
	b := New()
	run := b.Func(nil, []byte{F32}, code...)
	return b.Export("run", run).Bytes()
}

// Unit returns a module whose run returns nothing.
func Unit() []byte {
	b := New()
	run := b.Func(nil, nil)
	return b.Export("run", run).Bytes()
}

// String returns a module whose run yields s from linear memory.
func String(s string) []byte {
	const offset = 16
	code := []byte{OpI32Const}
	code = append(code, Sleb(offset)...)
	code = append(code, OpI32Const)
	code = append(code, Sleb(int64(len(s)))...)

	b := New().Memory(1)
	run := b.Func(nil, []byte{I32, I32}, code...)
	return b.Export("run", run).
		Data(offset, []byte(s)).
		Custom(resultSection, []byte("string")).
		Bytes()
}

// Counter returns a module whose run increments and returns a global, so
// successive runs on one instance yield 1, 2, 3...
func Counter() []byte {
	b := New()
	g := b.MutableI32(0)
	code := []byte{OpGlobalGet}
	code = append(code, Uleb(uint64(g))...)
	code = append(code, OpI32Const, 0x01, OpI32Add, OpGlobalSet)
	code = append(code, Uleb(uint64(g))...)
	code = append(code, OpGlobalGet)
	code = append(code, Uleb(uint64(g))...)
	run := b.Func(nil, []byte{I32}, code...)
	return b.Export("run", run).Bytes()
}

// Trap returns a module whose run executes unreachable.
func Trap() []byte {
	b := New()
	run := b.Func(nil, []byte{I32}, OpUnreachable)
	return b.Export("run", run).Bytes()
}

// Spin returns a module whose run never returns.
func Spin() []byte {
	b := New()
	run := b.Func(nil, []byte{I32}, OpLoop, BlockEmpty, OpBr, 0x00, OpEnd, OpUnreachable)
	return b.Export("run", run).Bytes()
}

// SpinInit returns a module with a trivial run whose _initialize never
// returns.
func SpinInit() []byte {
	b := New()
	run := b.Func(nil, []byte{I32}, OpI32Const, 0x01)
	init := b.Func(nil, nil, OpLoop, BlockEmpty, OpBr, 0x00, OpEnd)
	return b.Export("run", run).Export("_initialize", init).Bytes()
}

// LogNoMemory returns a module without memory whose run calls sandbox.log
// and yields 1.
func LogNoMemory() []byte {
	b := New()
	log := b.Import("sandbox", "log", []byte{I32, I32}, nil)
	code := []byte{OpI32Const, 0x00, OpI32Const, 0x04, OpCall}
	code = append(code, Uleb(uint64(log))...)
	code = append(code, OpI32Const, 0x01)
	run := b.Func(nil, []byte{I32}, code...)
	return b.Export("run", run).Bytes()
}

// Random returns a module whose run yields sandbox.random_u32.
func Random() []byte {
	b := New()
	rnd := b.Import("sandbox", "random_u32", nil, []byte{I32})
	run := b.Func(nil, []byte{I32}, append([]byte{OpCall}, Uleb(uint64(rnd))...)...)
	return b.Export("run", run).Custom(resultSection, []byte("u32")).Bytes()
}

// Sensor returns a module whose run reads the sensor category and yields
// the raw value written by sandbox.sensor_read.
func Sensor(category uint32) []byte {
	b := New()
	read := b.Import("sandbox", "sensor_read", []byte{I32, I32}, []byte{I32})
	code := []byte{OpI32Const}
	code = append(code, Sleb(int64(category))...)
	code = append(code, OpI32Const, 0x00, OpCall)
	code = append(code, Uleb(uint64(read))...)
	code = append(code, OpDrop, OpI32Const, 0x00, OpI32Load, 0x02, 0x00)
	b.Memory(1)
	run := b.Func(nil, []byte{I32}, code...)
	return b.Export("run", run).Bytes()
}

// Now returns a module whose run yields sandbox.now_ms.
func Now() []byte {
	b := New()
	now := b.Import("sandbox", "now_ms", nil, []byte{I64})
	run := b.Func(nil, []byte{I64}, append([]byte{OpCall}, Uleb(uint64(now))...)...)
	return b.Export("run", run).Bytes()
}

// Hello returns a WASI command that writes msg to stdout from _start.
func Hello(msg string) []byte {
	const (
		iovec   = 0
		written = 8
		payload = 16
	)
	iov := binary.LittleEndian.AppendUint32(nil, payload)
	iov = binary.LittleEndian.AppendUint32(iov, uint32(len(msg)))

	b := New()
	write := b.Import("wasi_snapshot_preview1", "fd_write", []byte{I32, I32, I32, I32}, []byte{I32})
	b.Memory(1)
	code := []byte{OpI32Const, 0x01, OpI32Const}
	code = append(code, Sleb(iovec)...)
	code = append(code, OpI32Const, 0x01, OpI32Const)
	code = append(code, Sleb(written)...)
	code = append(code, OpCall)
	code = append(code, Uleb(uint64(write))...)
	code = append(code, OpDrop)
	start := b.Func(nil, nil, code...)
	return b.Export("_start", start).
		Data(iovec, iov).
		Data(payload, []byte(msg)).
		Bytes()
}

// Unresolved returns a module importing a function nobody provides.
func Unresolved() []byte {
	b := New()
	f := b.Import("env", "missing", nil, []byte{I32})
	run := b.Func(nil, []byte{I32}, append([]byte{OpCall}, Uleb(uint64(f))...)...)
	return b.Export("run", run).Bytes()
}

// NoEntry returns a valid module exporting neither run nor _start.
func NoEntry() []byte {
	return New().Memory(1).Bytes()
}

// Garbage is not a wasm module.
var Garbage = []byte("not a wasm module")
