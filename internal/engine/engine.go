// Package engine drives generation: it resolves the current model handle,
// passes admission control, runs the decode loop on a dedicated worker
// goroutine, and exposes the result as a cancellable chunk stream.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/backend"
	"chatd/internal/config"
	"chatd/internal/governor"
	"chatd/internal/lifecycle"
	"chatd/pkg/types"
)

// Engine wires the lifecycle manager and resource governor to the decode
// loop. At most one stream is actively generating at a time (single-flight
// on the model handle).
type Engine struct {
	lm     *lifecycle.Manager
	gov    *governor.Governor
	limits config.Limits
	log    zerolog.Logger
}

// New constructs an Engine from normalized limits.
func New(lm *lifecycle.Manager, gov *governor.Governor, limits config.Limits, log zerolog.Logger) *Engine {
	return &Engine{lm: lm, gov: gov, limits: limits, log: log}
}

// Generate starts one generation and returns its stream. Admission, budget
// allocation, and the single-flight slot are all settled before this returns;
// the returned stream only has to be consumed and, optionally, cancelled.
func (e *Engine) Generate(ctx context.Context, req types.GenerateRequest) (*Stream, error) {
	p, err := clampParams(req, e.limits)
	if err != nil {
		return nil, err
	}

	handle, release, err := e.lm.Acquire()
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	prompt := renderPrompt(req.Messages)

	var promptTokens []int
	var promptCount int
	model := handle.Model()
	b, hasLogits := model.(backend.Backend)
	streamer, hasNative := model.(backend.TokenStreamer)
	switch {
	case hasLogits:
		promptTokens = e.truncatePrompt(b.Encode(prompt), e.limits.ContextLength)
		if len(promptTokens) == 0 {
			return nil, ErrInvalidRequest("prompt encodes to zero tokens")
		}
		promptCount = len(promptTokens)
	case hasNative:
		promptCount = estimateTokens(prompt)
	default:
		// A model that is neither capability is a wiring bug in the loader.
		panic("loaded model implements neither Backend nor TokenStreamer")
	}

	if err := e.gov.Admit(); err != nil {
		return nil, err
	}
	if err := e.gov.Allocate(promptCount); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	ok = true

	go func() {
		start := time.Now()
		var generated int
		var decodeErr error

		emit := func(c Chunk) error {
			select {
			case s.ch <- c:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		if hasLogits {
			generated, decodeErr = e.decode(gctx, b, promptTokens, p, emit)
		} else {
			generated, decodeErr = e.streamNative(gctx, streamer, prompt, p, emit)
		}

		// Budget release happens exactly once, on every termination path.
		e.gov.Release(promptCount + generated)
		release()
		cancelled := gctx.Err() != nil
		cancel()

		outcome, reason := "ok", "stop"
		switch {
		case decodeErr != nil:
			outcome, reason = "error", "error"
		case cancelled:
			outcome, reason = "cancelled", "cancelled"
		case generated >= p.maxTokens:
			reason = "length"
		}
		generationsTotal.WithLabelValues(outcome).Inc()
		e.log.Info().
			Str("model", handle.ModelID()).
			Int("prompt_tokens", promptCount).
			Int("completion_tokens", generated).
			Dur("dur", time.Since(start)).
			Str("outcome", outcome).
			Msg("generation finished")

		s.finish(decodeErr, reason, types.Usage{
			PromptTokens:     promptCount,
			CompletionTokens: generated,
			TotalTokens:      promptCount + generated,
		})
	}()

	return s, nil
}

// streamNative delegates token production to a backend that samples
// internally. Each token is still charged to the governor ledger.
func (e *Engine) streamNative(ctx context.Context, ts backend.TokenStreamer, prompt string, p genParams, emit func(Chunk) error) (int, error) {
	params := backend.Params{
		Temperature: p.temperature,
		TopP:        p.topP,
		MaxTokens:   p.maxTokens,
		Seed:        p.seed,
	}
	// generated counts ledger allocations, which is what the caller must
	// release; the streamer's own count may lag behind on callback errors.
	generated := 0
	var cbErr error
	_, err := ts.Stream(ctx, prompt, params, func(text string) error {
		if aerr := e.gov.Allocate(1); aerr != nil {
			cbErr = aerr
			return aerr
		}
		generated++
		tokensGenerated.Inc()
		return emit(Chunk{Text: text, Token: -1})
	})
	if cbErr != nil {
		return generated, cbErr
	}
	if err != nil && ctx.Err() == nil {
		return generated, generationError{cause: err}
	}
	return generated, nil
}

// clampParams validates request parameters and applies configured ceilings.
func clampParams(req types.GenerateRequest, limits config.Limits) (genParams, error) {
	if len(req.Messages) == 0 {
		return genParams{}, ErrInvalidRequest("messages must not be empty")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return genParams{}, ErrInvalidRequest("temperature must be in [0,2]")
	}
	topP := req.TopP
	if topP == 0 {
		topP = 1
	}
	if topP < 0 || topP > 1 {
		return genParams{}, ErrInvalidRequest("top_p must be in (0,1]")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > limits.MaxGenerateTokens {
		maxTokens = limits.MaxGenerateTokens
	}
	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return genParams{
		temperature: float32(req.Temperature),
		topP:        float32(topP),
		maxTokens:   maxTokens,
		seed:        seed,
	}, nil
}
