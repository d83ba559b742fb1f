package blockwise

import (
	"bytes"
	"io"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Chunk is the slice of a rendered body served for one read request.
type Chunk struct {
	Body []byte
	// Block is the descriptor to echo. Only meaningful when Blockwise is set.
	Block     Descriptor
	Blockwise bool
}

// WriteChunk renders the full representation and cuts out the window the
// requester asked for. A nil cursor asks for the start of the body; the
// body is then sent whole if it fits in one block of maxSZX. Requests for
// blocks larger than maxSZX are served at maxSZX with the block number
// scaled to keep the same byte offset.
func WriteChunk(cursor *Descriptor, maxSZX uint8, render func(w io.Writer) error) (Chunk, error) {
	if maxSZX > MaxSZX {
		maxSZX = MaxSZX
	}

	d := Descriptor{SZX: maxSZX}
	if cursor != nil {
		if cursor.Reserved() {
			return Chunk{}, errors.BadOption(Block2Option, "reserved block size")
		}
		d = Descriptor{Num: cursor.Num, SZX: cursor.SZX}
		if d.SZX > maxSZX {
			d.Num <<= d.SZX - maxSZX
			d.SZX = maxSZX
		}
	}

	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return Chunk{}, err
	}
	body := buf.Bytes()

	if cursor == nil && len(body) <= d.Size() {
		return Chunk{Body: body}, nil
	}

	start := d.Offset()
	if start > len(body) || (start == len(body) && d.Num > 0) {
		return Chunk{}, errors.BadOption(Block2Option, "block beyond end of representation")
	}
	end := min(start+d.Size(), len(body))
	d.More = end < len(body)

	return Chunk{Body: body[start:end], Block: d, Blockwise: true}, nil
}
