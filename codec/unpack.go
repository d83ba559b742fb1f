package codec

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Format identifies how an uploaded module is packed.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatWasm
	FormatZstd
	FormatLZ4
)

// String returns the human-readable name of a format.
func (f Format) String() string {
	switch f {
	case FormatWasm:
		return "wasm"
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

var (
	wasmMagic = []byte{0x00, 'a', 's', 'm'}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect reports the packing of data from its leading magic bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, wasmMagic):
		return FormatWasm
	case bytes.HasPrefix(data, zstdMagic):
		return FormatZstd
	case bytes.HasPrefix(data, lz4Magic):
		return FormatLZ4
	default:
		return FormatUnknown
	}
}

// Unpack returns the module inside data. A zstd or lz4 frame is
// decompressed, refusing to produce more than limit bytes; anything else
// is returned unchanged for the engine to judge.
func Unpack(data []byte, limit int) ([]byte, Format, error) {
	format := Detect(data)
	var (
		r   io.Reader
		err error
	)
	switch format {
	case FormatZstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, format, frameError(format, err, limit)
		}
		defer dec.Close()
		r = dec
	case FormatLZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	default:
		return data, format, nil
	}

	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, format, frameError(format, err, limit)
	}
	if len(out) > limit {
		return nil, format, errors.TooLarge(errors.PhaseUpload, len(out), limit)
	}
	return out, format, nil
}

func frameError(format Format, err error, limit int) error {
	if stderrors.Is(err, zstd.ErrDecoderSizeExceeded) || stderrors.Is(err, zstd.ErrWindowSizeExceeded) {
		return errors.New(errors.PhaseUpload, errors.KindTooLarge).
			Value(limit).
			Cause(err).
			Detail("%s frame expands past limit of %d", format, limit).
			Build()
	}
	return errors.Wrap(errors.PhaseUpload, errors.KindInvalidModule, err, format.String()+" frame")
}

// Pack compresses a module with the given format. Used by the client to
// shrink uploads.
func Pack(data []byte, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatWasm:
		return data, nil
	case FormatZstd:
		enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	case FormatLZ4:
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported pack format: %s", format)
	}
	return buf.Bytes(), nil
}

// ParseFormat resolves a format by name.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "none", "wasm":
		return FormatWasm, nil
	case "zstd":
		return FormatZstd, nil
	case "lz4":
		return FormatLZ4, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown pack format: %q", name)
	}
}
