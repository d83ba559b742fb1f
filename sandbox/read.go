package sandbox

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/plgd-dev/go-coap/v3/message"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/codec"
	"github.com/wippyai/wasm-sandbox/errors"
)

// readCache holds the rendering of the most recent block 0 read so the
// remaining blocks of that read come from the same run.
type readCache struct {
	name       string
	body       []byte
	format     message.MediaType
	generation uint64
	valid      bool
}

func (c *readCache) lookup(name string, format message.MediaType) ([]byte, uint64, bool) {
	if !c.valid || c.name != name || c.format != format {
		return nil, 0, false
	}
	return c.body, c.generation, true
}

func (c *readCache) store(name string, format message.MediaType, body []byte) uint64 {
	c.generation++
	c.name = name
	c.format = format
	c.body = body
	c.valid = true
	return c.generation
}

// invalidate drops the cached rendering of name, or any rendering when
// name is empty.
func (c *readCache) invalidate(name string) {
	if name == "" || c.name == name {
		c.valid = false
		c.body = nil
	}
}

func (s *Sandbox) read(ctx context.Context, r *Read) (Response, error) {
	continuation := r.Block2 != nil && r.Block2.Num > 0

	body, generation, ok := s.cache.lookup(r.Name, r.Format)
	if !continuation || !ok {
		out, err := s.registry.Execute(ctx, r.Name)
		if err != nil {
			return Response{}, err
		}
		body, err = render(out, r.Format)
		if err != nil {
			return Response{}, err
		}
		generation = s.cache.store(r.Name, r.Format, body)
	}

	chunk, err := blockwise.WriteChunk(r.Block2, s.opts.BlockSZX, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	if err != nil {
		return Response{}, err
	}

	resp := Response{Status: StatusContent, Payload: chunk.Body}
	resp.addUint(OptionContentFormat, uint32(r.Format))
	if chunk.Blockwise {
		resp.addOption(OptionBlock2, chunk.Block.Encode())
		resp.addOption(OptionETag, binary.BigEndian.AppendUint64(nil, generation))
		if chunk.Block.Num == 0 {
			resp.addUint(OptionSize2, uint32(len(body)))
		}
	}
	return resp, nil
}

func render(out wasmsandbox.Output, format message.MediaType) ([]byte, error) {
	switch format {
	case message.TextPlain:
		return []byte(out.String()), nil
	case message.AppCBOR:
		b, err := codec.MarshalOutput(out)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRender, errors.KindEngineFault, err, "encode output")
		}
		return b, nil
	default:
		return nil, errors.NotAcceptable(uint32(format))
	}
}
