// Package sandbox is the resource state machine that turns decoded
// requests against /sandbox/<name> into capsule uploads, runs and
// deletions.
//
// # Request lifecycle
//
// Handling is split in two phases, mirroring how a CoAP handler first
// extracts request data and later writes the response:
//
//	Extract(ctx, Request) -> Outcome   writes, deletes, option checks
//	Build(ctx, Outcome)   -> Response  runs capsules for reads, renders
//
// Handle runs both under the sandbox lock. Extract and Build are not safe
// for concurrent use on their own; the transport must serialize them.
//
// # Uploads
//
// A PUT carries its module in Block1 blocks. Blocks must arrive in order
// and every non-final block must be full sized. Block 0 of an upload
// evicts any capsule already registered under the name and restarts the
// single staging buffer. The final block instantiates the module:
//
//	PUT /sandbox/blink  Block1 0/1/16  (16 bytes)  -> 2.31 Continue
//	PUT /sandbox/blink  Block1 1/0/16  (10 bytes)  -> 2.01 Created
//	GET /sandbox/blink                             -> 2.05 Content
//	DELETE /sandbox/blink                          -> 2.02 Deleted
//
// Only one upload can be in flight at a time. A continuation block for a
// name other than the one being staged is answered with
// RequestEntityIncomplete.
//
// # Reads
//
// A GET runs the capsule and returns its rendered output, split with
// Block2 when it exceeds the block size. Block 0 runs the capsule and
// caches the rendering; later blocks of the same read are served from
// that cache so every block describes the same run.
package sandbox
