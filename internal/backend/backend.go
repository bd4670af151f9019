// Package backend defines the seam between the generation engine and the
// inference runtime. A loaded model exposes Close plus one of two
// capabilities: Backend (per-step logits over a cache, driven by the
// in-process decode loop) or TokenStreamer (native token streaming for
// runtimes that sample internally).
package backend

import "context"

// Model is a loaded model and tokenizer pair. Close releases the weights and
// clears any device-level cache; the model is unusable afterwards.
type Model interface {
	Close() error
}

// Cache is the per-call key-value state threaded through Forward calls.
// It is exclusively owned by one in-flight decode loop.
type Cache interface {
	Free()
}

// Backend exposes the forward pass and tokenizer of a loaded model.
// Forward and Encode may be slow and are not cancellable mid-call.
type Backend interface {
	Model

	// Encode tokenizes text.
	Encode(text string) []int
	// Decode renders token ids to text; undecodable ids yield "".
	Decode(ids []int) string
	// EOSToken is the end-of-sequence id that terminates decoding.
	EOSToken() int
	// NewCache creates an empty cache for one generation call.
	NewCache() (Cache, error)
	// Forward runs an incremental forward pass over tokens against cache and
	// returns the logits of the final position.
	Forward(tokens []int, cache Cache) ([]float32, error)
}

// Params are the generation parameters handed to a native streamer.
type Params struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Seed        int64
}

// TokenStreamer generates a token stream natively. onToken receives each
// decoded text piece; returning an error stops generation. Stream returns
// the number of tokens produced.
type TokenStreamer interface {
	Model

	Stream(ctx context.Context, prompt string, params Params, onToken func(text string) error) (int, error)
}

// Opener resolves a local model directory into a loaded Model, reporting
// fractional progress in [0,1].
type Opener func(dir string, progress func(float64)) (Model, error)
