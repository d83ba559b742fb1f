// Package errors provides structured error types for the sandbox.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The sandbox maps each Kind onto a response status, so no error
// ever needs to travel as a string comparison.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseUpload, errors.KindOutOfOrder).
//		Resource("blink").
//		Value(offset).
//		Detail("block at offset %d, staged %d bytes", offset, staged).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseExecute, "capsule", "blink")
//	err := errors.TooLarge(errors.PhaseUpload, 70000, 65536)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
