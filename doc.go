// Package wasmsandbox runs small WebAssembly capsules uploaded over a
// constrained request/response link.
//
// A trusted peer uploads a module blockwise to /sandbox/<name>, the device
// instantiates it once the final block arrives, and every later read of the
// same resource executes the capsule and returns its rendered result. A
// delete discards the instance. Nothing survives a restart.
//
// # Architecture Overview
//
//	wasmsandbox/         Root package with the capsule capability interfaces
//	├── engine/          wazero adapter: compile, flavour detection, host bindings
//	├── registry/        Name-keyed table of live capsules with lifecycle events
//	├── blockwise/       Block1/Block2 descriptors, staging buffer, chunk windows
//	├── sandbox/         Resource state machine driving uploads, reads, deletes
//	├── codec/           CBOR rendering, compressed uploads, module digests
//	├── coap/            CoAP transport: server loop, routing, discovery, client
//	├── config/          YAML/TOML configuration
//	└── errors/          Structured error types
//
// # Quick Start
//
//	eng, err := engine.New(ctx, engine.Config{HostBindings: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	sb := sandbox.New(eng, sandbox.Options{MaxModuleSize: 256 << 10})
//	srv := coap.NewServer(sb)
//	log.Fatal(srv.ListenAndServe(ctx, ":5683"))
//
// # Trust Boundary
//
// Instantiate accepts AttestedCode, never raw bytes. Producing AttestedCode
// is the caller's statement that the bytes come from the single trusted
// uploader. The sandbox performs no authentication of its own.
//
// # Concurrency
//
// The sandbox processes one request at a time. The CoAP server serializes
// delivery; other transports must do the same.
package wasmsandbox
