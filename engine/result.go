package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-sandbox/errors"
)

// ResultSection is the custom section declaring the WIT result type of run.
const ResultSection = "sandbox:result"

// MemoryExport is the memory a string result points into.
const MemoryExport = "memory"

// resultType determines the WIT type of run's result from the declared
// section or the core signature, and checks the two agree.
func resultType(compiled wazero.CompiledModule, def api.FunctionDefinition) (wit.Type, error) {
	if len(def.ParamTypes()) != 0 {
		return nil, errors.InvalidModule("run must take no parameters", nil)
	}
	core := def.ResultTypes()

	declared, err := declaredResult(compiled)
	if err != nil {
		return nil, err
	}
	if declared == nil {
		return inferResult(core)
	}

	want, ok := coreShape(declared)
	if !ok {
		return nil, errors.InvalidModule("unsupported result type "+typeName(declared), nil)
	}
	if !sameShape(core, want) {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidModule).
			Detail("run results %s do not carry %s", shapeString(core), typeName(declared)).
			Build()
	}
	if _, isString := declared.(wit.String); isString {
		if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
			return nil, errors.InvalidModule("string result requires an exported memory", nil)
		}
	}
	return declared, nil
}

func declaredResult(compiled wazero.CompiledModule) (wit.Type, error) {
	for _, section := range compiled.CustomSections() {
		if section.Name() != ResultSection {
			continue
		}
		text := strings.TrimSpace(string(section.Data()))
		t, err := wit.ParseType(text)
		if err != nil {
			return nil, errors.InvalidModule("parse "+ResultSection, err)
		}
		return t, nil
	}
	return nil, nil
}

func inferResult(core []api.ValueType) (wit.Type, error) {
	switch shapeString(core) {
	case "()":
		return nil, nil
	case "(i32)":
		return wit.S32{}, nil
	case "(i64)":
		return wit.S64{}, nil
	case "(f32)":
		return wit.F32{}, nil
	case "(f64)":
		return wit.F64{}, nil
	}
	return nil, errors.InvalidModule("cannot infer result type of "+shapeString(core), nil)
}

func coreShape(t wit.Type) ([]api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.U16, wit.U32, wit.S8, wit.S16, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}, true
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}, true
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}, true
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}, true
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, true
	}
	return nil, false
}

func sameShape(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shapeString(core []api.ValueType) string {
	names := make([]string, len(core))
	for i, vt := range core {
		names[i] = api.ValueTypeName(vt)
	}
	return "(" + strings.Join(names, " ") + ")"
}

// decodeResult converts raw stack values into the Go value for t.
func decodeResult(t wit.Type, values []uint64, mem api.Memory) (any, error) {
	if t == nil {
		return nil, nil
	}
	v := values[0]
	switch t.(type) {
	case wit.Bool:
		return uint32(v) != 0, nil
	case wit.U8:
		return uint32(uint8(v)), nil
	case wit.U16:
		return uint32(uint16(v)), nil
	case wit.U32:
		return api.DecodeU32(v), nil
	case wit.S8:
		return int32(int8(v)), nil
	case wit.S16:
		return int32(int16(v)), nil
	case wit.S32:
		return api.DecodeI32(v), nil
	case wit.U64:
		return v, nil
	case wit.S64:
		return int64(v), nil
	case wit.F32:
		return api.DecodeF32(v), nil
	case wit.F64:
		return api.DecodeF64(v), nil
	case wit.Char:
		r := rune(api.DecodeU32(v))
		if !utf8.ValidRune(r) {
			return nil, errors.New(errors.PhaseExecute, errors.KindEngineFault).
				Value(uint32(r)).
				Detail("invalid char %#x", uint32(r)).
				Build()
		}
		return string(r), nil
	case wit.String:
		return readString(mem, api.DecodeU32(v), api.DecodeU32(values[1]))
	}
	return nil, errors.InvalidInput(errors.PhaseExecute, "unsupported result type "+typeName(t))
}

func readString(mem api.Memory, ptr, size uint32) (string, error) {
	if mem == nil {
		return "", errors.InvalidInput(errors.PhaseExecute, "string result without memory")
	}
	b, ok := mem.Read(ptr, size)
	if !ok {
		return "", errors.New(errors.PhaseExecute, errors.KindEngineFault).
			Detail("string [%d, +%d) outside memory of %d bytes", ptr, size, mem.Size()).
			Build()
	}
	if !utf8.Valid(b) {
		return "", errors.New(errors.PhaseExecute, errors.KindEngineFault).
			Detail("string result is not valid UTF-8").
			Build()
	}
	return string(b), nil
}

// typeName returns the WIT spelling of t.
func typeName(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return "unit"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return "unknown"
	}
}

// TypeName returns the WIT spelling of t, "unit" for nil.
func TypeName(t wit.Type) string {
	return typeName(t)
}
