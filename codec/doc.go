// Package codec holds the byte-level encodings the sandbox speaks besides
// the wire protocol itself: CBOR renderings of capsule output and of the
// capsule directory, unpacking of compressed module uploads, and module
// digests.
package codec
