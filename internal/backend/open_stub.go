//go:build !llama

package backend

// This file provides a no-CGO stub opener compiled when the 'llama' build tag
// is NOT set, keeping default builds and CI CGO-free. The real opener lives
// in open_llama.go (tagged 'llama').

// DefaultOpener refuses to load models without the llama runtime. No mocked
// inference in production binaries.
func DefaultOpener() Opener {
	return func(dir string, progress func(float64)) (Model, error) {
		return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
	}
}
