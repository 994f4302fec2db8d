package execution

import "errors"

// Sentinel error codes surfaced at the plan boundary. The plan's own
// errors (validation, restart, unknown factory) wrap one of these with
// fmt.Errorf("...: %w", ...) so callers can test the category with
// errors.Is; errors raised by nodes, kernels and user callbacks are passed
// through as they are.
var (
	// ErrInvalid marks a validation failure, a duplicate StartProducing
	// call, or other user misuse of the construction API.
	ErrInvalid = errors.New("invalid")

	// ErrIOError is the category for a failure originating from a node's
	// interaction with the outside world (a source's channel, a sink's
	// consumer). The engine does not wrap errors in it itself.
	ErrIOError = errors.New("io error")

	// ErrNotImplemented marks a requested capability the engine doesn't
	// support: an unknown factory name. An unknown kernel name is
	// reported with a plain error that does not wrap it.
	ErrNotImplemented = errors.New("not implemented")
)
