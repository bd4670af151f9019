package engine

import (
	"context"

	"chatd/internal/backend"
	"chatd/internal/sampler"
)

// genParams are the clamped per-call generation parameters.
type genParams struct {
	temperature float32
	topP        float32
	maxTokens   int
	seed        int64
}

// truncatePrompt keeps the most recent limit tokens, discarding the oldest.
func (e *Engine) truncatePrompt(tokens []int, limit int) []int {
	if len(tokens) <= limit {
		return tokens
	}
	dropped := len(tokens) - limit
	promptTruncations.Inc()
	e.log.Warn().
		Int("prompt_tokens", len(tokens)).
		Int("context_limit", limit).
		Int("dropped", dropped).
		Msg("prompt truncated to context ceiling")
	return tokens[dropped:]
}

// decode runs the autoregressive loop: one cache warm-up pass over the prompt
// minus its final token, then one token per iteration. emit delivers each
// chunk; an emit error (cancellation) ends the loop. The returned count is
// the number of tokens allocated against the governor, reported on every
// exit path so the caller can release budget.
func (e *Engine) decode(ctx context.Context, b backend.Backend, prompt []int, p genParams, emit func(Chunk) error) (int, error) {
	cache, err := b.NewCache()
	if err != nil {
		return 0, generationError{cause: err}
	}
	defer cache.Free()

	if len(prompt) > 1 {
		if _, err := b.Forward(prompt[:len(prompt)-1], cache); err != nil {
			return 0, generationError{cause: err}
		}
	}

	smp := sampler.New(p.seed)
	eos := b.EOSToken()
	last := prompt[len(prompt)-1]
	generated := 0

	for generated < p.maxTokens {
		// Cancellation is cooperative: checked once per iteration, never
		// mid forward-pass.
		select {
		case <-ctx.Done():
			return generated, nil
		default:
		}

		logits, err := b.Forward([]int{last}, cache)
		if err != nil {
			return generated, generationError{cause: err}
		}
		if len(logits) == 0 {
			// Collaborator contract violation, not a recoverable condition.
			panic("backend returned empty logits")
		}

		tok := smp.Sample(logits, p.temperature, p.topP)
		if tok == eos {
			return generated, nil
		}

		if err := e.gov.Allocate(1); err != nil {
			return generated, err
		}
		generated++
		tokensGenerated.Inc()

		if err := emit(Chunk{Text: b.Decode([]int{tok}), Token: tok}); err != nil {
			return generated, nil
		}
		last = tok
	}
	return generated, nil
}
