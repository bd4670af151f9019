package lifecycle

import "fmt"

// validationError rejects a malformed model identifier before any I/O.
type validationError struct{ id string }

func (e validationError) Error() string {
	return fmt.Sprintf("invalid model identifier %q: want owner/name", e.id)
}

// IsValidation reports whether err indicates a rejected model identifier.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// loadFailedError wraps a loader failure for a given model id.
type loadFailedError struct {
	id    string
	cause error
}

func (e loadFailedError) Error() string {
	return fmt.Sprintf("load %s: %v", e.id, e.cause)
}

func (e loadFailedError) Unwrap() error { return e.cause }

// IsLoadFailed reports whether err indicates a failed model load.
func IsLoadFailed(err error) bool {
	_, ok := err.(loadFailedError)
	return ok
}

// supersededError resolves a load that lost the race to a newer load.
// It is a no-op outcome, not a failure.
type supersededError struct{ id string }

func (e supersededError) Error() string {
	return fmt.Sprintf("load %s superseded by a newer load", e.id)
}

// IsSuperseded reports whether err indicates a superseded load.
func IsSuperseded(err error) bool {
	_, ok := err.(supersededError)
	return ok
}

// modelNotLoadedError signals generation against an empty provider.
type modelNotLoadedError struct{}

func (modelNotLoadedError) Error() string { return "no model loaded" }

// ErrModelNotLoaded constructs a modelNotLoadedError.
func ErrModelNotLoaded() error { return modelNotLoadedError{} }

// IsModelNotLoaded reports whether err indicates no current model.
func IsModelNotLoaded(err error) bool {
	_, ok := err.(modelNotLoadedError)
	return ok
}

// busyError signals the single-flight generation slot is taken.
type busyError struct{ id string }

func (e busyError) Error() string { return "generation in flight for " + e.id }

// IsBusy reports whether err indicates single-flight contention.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
