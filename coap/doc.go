// Package coap exposes a sandbox over CoAP on UDP (RFC 7252) and provides
// the matching client.
//
// Resources served:
//
//	/sandbox/<name>         PUT (Block1), GET (Block2), DELETE
//	/sandbox-instructions   GET, plain text usage hint
//	/.well-known/core       GET, RFC 6690 link format of the above
//
// The server handles one datagram at a time, so the sandbox sees fully
// serialized requests. Confirmable requests are answered with piggybacked
// acknowledgements; a retransmitted request is answered from a short-lived
// cache instead of being processed twice.
package coap
