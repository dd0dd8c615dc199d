// Package errors provides structured error types for the HTTP trigger.
//
// Errors are categorized by Phase (where in the invocation the error occurred)
// and Kind (the failure class). Every Kind maps to a Blame, guest or host, which
// telemetry uses to attribute failures.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInstantiate, errors.KindHostSetup).
//		Component("hello").
//		Detail("missing outbound http capability").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.GuestError(trap)
//	err := errors.ResponseNotProduced(nil, "guest failed to produce a response prior to returning")
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is matches on Kind, so the exported sentinels can be used directly:
//
//	if errors.Is(err, errors.ErrGuestPanic) { ... }
package errors
