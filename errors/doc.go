// Package errors provides structured error types for irkit.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the module and function names, a location path, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseVerify, errors.KindVerification).
//		Module("m").
//		Path("main", "entry").
//		Detail("block has no terminator").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseBuild, []string{"add"}, 3, 2)
//	err := errors.StaleHandle(errors.PhaseBuild, "module")
//
// All errors implement the standard error interface and support errors.Is/As.
// IsKind matches on the kind alone.
package errors
