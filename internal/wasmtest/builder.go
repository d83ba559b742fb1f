// Package wasmtest assembles small core wasm modules for tests.
package wasmtest

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

// Opcodes used by the fixtures.
const (
	OpUnreachable byte = 0x00
	OpLoop        byte = 0x03
	OpBr          byte = 0x0c
	OpEnd         byte = 0x0b
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Add      byte = 0x6a
	BlockEmpty    byte = 0x40
)

const (
	exportFunc   byte = 0x00
	exportMemory byte = 0x02
)

type funcType struct {
	params, results []byte
}

type imported struct {
	module, name string
	typ          uint32
}

type function struct {
	typ  uint32
	body []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	data   []byte
}

type custom struct {
	name string
	data []byte
}

// Builder accumulates module sections. Imports must be added before
// functions so indices stay stable.
type Builder struct {
	types   []funcType
	imports []imported
	funcs   []function
	memory  *uint32
	globals [][]byte
	exports []export
	data    []segment
	customs []custom
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []byte) uint32 {
	for i, t := range b.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// Import adds a function import and returns its function index.
func (b *Builder) Import(module, name string, params, results []byte) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: import after function")
	}
	b.imports = append(b.imports, imported{module: module, name: name, typ: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func adds a function whose body is the given instructions (without the
// locals vector or trailing end) and returns its index.
func (b *Builder) Func(params, results []byte, code ...byte) uint32 {
	body := append([]byte{0x00}, code...)
	body = append(body, OpEnd)
	b.funcs = append(b.funcs, function{typ: b.typeIndex(params, results), body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Export exports function idx as name.
func (b *Builder) Export(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: exportFunc, idx: idx})
	return b
}

// Memory declares one memory of pages and exports it as "memory".
func (b *Builder) Memory(pages uint32) *Builder {
	b.memory = &pages
	b.exports = append(b.exports, export{name: "memory", kind: exportMemory})
	return b
}

// MutableI32 declares a mutable i32 global initialised to v and returns
// its index.
func (b *Builder) MutableI32(v int32) uint32 {
	init := append([]byte{I32, 0x01, OpI32Const}, Sleb(int64(v))...)
	b.globals = append(b.globals, append(init, OpEnd))
	return uint32(len(b.globals) - 1)
}

// Data places p at offset in memory 0.
func (b *Builder) Data(offset uint32, p []byte) *Builder {
	b.data = append(b.data, segment{offset: offset, data: p})
	return b
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.customs = append(b.customs, custom{name: name, data: data})
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.types)))...)
		for _, t := range b.types {
			s = append(s, 0x60)
			s = append(s, vec(t.params)...)
			s = append(s, vec(t.results)...)
		}
		out = section(out, 1, s)
	}

	if len(b.imports) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.imports)))...)
		for _, im := range b.imports {
			s = append(s, name(im.module)...)
			s = append(s, name(im.name)...)
			s = append(s, exportFunc)
			s = append(s, Uleb(uint64(im.typ))...)
		}
		out = section(out, 2, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.funcs)))...)
		for _, f := range b.funcs {
			s = append(s, Uleb(uint64(f.typ))...)
		}
		out = section(out, 3, s)
	}

	if b.memory != nil {
		s := []byte{0x01, 0x00}
		s = append(s, Uleb(uint64(*b.memory))...)
		out = section(out, 5, s)
	}

	if len(b.globals) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.globals)))...)
		for _, g := range b.globals {
			s = append(s, g...)
		}
		out = section(out, 6, s)
	}

	if len(b.exports) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.exports)))...)
		for _, e := range b.exports {
			s = append(s, name(e.name)...)
			s = append(s, e.kind)
			s = append(s, Uleb(uint64(e.idx))...)
		}
		out = section(out, 7, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.funcs)))...)
		for _, f := range b.funcs {
			s = append(s, vec(f.body)...)
		}
		out = section(out, 10, s)
	}

	if len(b.data) > 0 {
		var s []byte
		s = append(s, Uleb(uint64(len(b.data)))...)
		for _, d := range b.data {
			s = append(s, 0x00, OpI32Const)
			s = append(s, Sleb(int64(d.offset))...)
			s = append(s, OpEnd)
			s = append(s, vec(d.data)...)
		}
		out = section(out, 11, s)
	}

	for _, c := range b.customs {
		s := name(c.name)
		s = append(s, c.data...)
		out = section(out, 0, s)
	}

	return out
}

func section(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = append(out, Uleb(uint64(len(body)))...)
	return append(out, body...)
}

func vec(p []byte) []byte {
	return append(Uleb(uint64(len(p))), p...)
}

func name(s string) []byte {
	return vec([]byte(s))
}

// Uleb encodes v as unsigned LEB128.
func Uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

// Sleb encodes v as signed LEB128.
func Sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}
