// Package errs defines the bridge error taxonomy.
//
// Security and validation errors surface immediately to the caller;
// runner and timeout errors are captured into the execution result so a
// failed test stays distinct from a failed bridge operation.
package errs

import "errors"

var (
	// ErrValidation indicates a malformed request payload.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a missing test, report or artifact.
	ErrNotFound = errors.New("not found")

	// ErrSecurity indicates a path escaping the project root or an
	// invalid, expired or mismatched token.
	ErrSecurity = errors.New("security error")

	// ErrRunnerUnavailable indicates the runner preflight check failed.
	ErrRunnerUnavailable = errors.New("runner unavailable")

	// ErrExecutionTimeout indicates the hard execution ceiling fired.
	ErrExecutionTimeout = errors.New("execution timeout")
)
