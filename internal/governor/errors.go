package governor

import "fmt"

// rateLimitedError signals sliding-window admission rejection (429 mapping).
type rateLimitedError struct {
	window string
	limit  int
}

func (e rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: more than %d requests in trailing %s", e.limit, e.window)
}

// IsRateLimited reports whether err indicates a rate-limit rejection.
func IsRateLimited(err error) bool {
	_, ok := err.(rateLimitedError)
	return ok
}

// memoryPressureError signals admission rejection under memory pressure.
type memoryPressureError struct {
	resident uint64
	ceiling  uint64
}

func (e memoryPressureError) Error() string {
	return fmt.Sprintf("memory pressure: resident %d bytes exceeds ceiling %d bytes", e.resident, e.ceiling)
}

// IsMemoryPressure reports whether err indicates a memory-pressure rejection.
func IsMemoryPressure(err error) bool {
	_, ok := err.(memoryPressureError)
	return ok
}

// contextTooLargeError signals an allocation above the per-call ceiling.
type contextTooLargeError struct {
	requested int
	ceiling   int
}

func (e contextTooLargeError) Error() string {
	return fmt.Sprintf("context too large: %d tokens exceeds per-call ceiling %d", e.requested, e.ceiling)
}

// IsContextTooLarge reports whether err indicates a per-call ceiling rejection.
func IsContextTooLarge(err error) bool {
	_, ok := err.(contextTooLargeError)
	return ok
}

// invalidTokenCountError signals a non-positive allocation request.
type invalidTokenCountError struct{ requested int }

func (e invalidTokenCountError) Error() string {
	return fmt.Sprintf("invalid token count: %d", e.requested)
}

// IsInvalidTokenCount reports whether err indicates a bad allocation size.
func IsInvalidTokenCount(err error) bool {
	_, ok := err.(invalidTokenCountError)
	return ok
}

// budgetExceededError signals the global active-token ceiling would be crossed.
type budgetExceededError struct {
	requested int
	active    int
	ceiling   int
}

func (e budgetExceededError) Error() string {
	return fmt.Sprintf("token budget exceeded: %d requested with %d active (ceiling %d)", e.requested, e.active, e.ceiling)
}

// IsBudgetExceeded reports whether err indicates the global ceiling rejection.
func IsBudgetExceeded(err error) bool {
	_, ok := err.(budgetExceededError)
	return ok
}

// IsResourceError reports whether err is any recoverable governor rejection.
func IsResourceError(err error) bool {
	return IsRateLimited(err) || IsMemoryPressure(err) || IsContextTooLarge(err) ||
		IsInvalidTokenCount(err) || IsBudgetExceeded(err)
}
