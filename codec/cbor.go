package codec

import (
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// output always renders to the same bytes and block-wise reads of one
// result stay consistent.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MarshalOutput encodes the value of a capsule run. Unit encodes as null.
func MarshalOutput(out wasmsandbox.Output) ([]byte, error) {
	return encMode.Marshal(out.Value)
}

// DirectoryEntry describes one capsule in a CBOR directory listing.
type DirectoryEntry struct {
	Created time.Time `cbor:"created"`
	Name    string    `cbor:"name"`
	Digest  string    `cbor:"digest,omitempty"`
	Flavour string    `cbor:"flavour,omitempty"`
	Size    int       `cbor:"size"`
	Runs    uint64    `cbor:"runs"`
}

// MarshalDirectory encodes a capsule listing as a CBOR array.
func MarshalDirectory(entries []DirectoryEntry) ([]byte, error) {
	if entries == nil {
		entries = []DirectoryEntry{}
	}
	return encMode.Marshal(entries)
}

// UnmarshalDirectory decodes a listing produced by MarshalDirectory.
func UnmarshalDirectory(data []byte) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
