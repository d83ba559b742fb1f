package codec

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of a module.
type Hash [32]byte

// moduleDomainKey separates module digests from any other use of BLAKE3
// on the same bytes.
var moduleDomainKey = [32]byte{
	'w', 'a', 's', 'm', '-', 's', 'a', 'n', 'd', 'b', 'o', 'x', '.', 'm', 'o', 'd',
	'u', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest computes the keyed BLAKE3 digest of an unpacked module.
func Digest(module []byte) Hash {
	hasher, err := blake3.NewKeyed(moduleDomainKey[:])
	if err != nil {
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(module)
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 bytes in hex, enough to tell modules apart
// in logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}

// ETag returns the 8-byte prefix used as an entity tag.
func (h Hash) ETag() []byte {
	return h[:8:8]
}
