// Package blockwise implements the block-transfer pieces of the sandbox
// protocol: the Block1/Block2 descriptor codec, the single staging buffer
// that accumulates an upload, and the window writer that serves one block
// of a rendered result.
//
// A descriptor packs three fields into an unsigned option value:
//
//	 bits 4..  block number (NUM)
//	 bit  3    more blocks follow (M)
//	 bits 0..2 size exponent (SZX), block size = 1 << (4 + SZX)
//
// SZX 7 is reserved and always rejected.
package blockwise
