package engine

import "fmt"

// invalidRequestError rejects a malformed generation request before any
// resource is touched.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "invalid request: " + e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err indicates a rejected request payload.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// generationError wraps a sampling or forward-pass failure. Recoverable by
// starting a new generation call.
type generationError struct{ cause error }

func (e generationError) Error() string { return fmt.Sprintf("generation failed: %v", e.cause) }

func (e generationError) Unwrap() error { return e.cause }

// IsGeneration reports whether err indicates a failed generation.
func IsGeneration(err error) bool {
	_, ok := err.(generationError)
	return ok
}
