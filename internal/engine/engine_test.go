package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/backend"
	"chatd/internal/config"
	"chatd/internal/governor"
	"chatd/internal/lifecycle"
	"chatd/pkg/types"
)

type fakeCache struct {
	mu    sync.Mutex
	freed bool
}

func (c *fakeCache) Free() {
	c.mu.Lock()
	c.freed = true
	c.mu.Unlock()
}

// fakeBackend is a scripted logits backend. With temperature 0 the decode
// loop deterministically follows the scripted argmax.
type fakeBackend struct {
	mu           sync.Mutex
	vocab        int
	eos          int
	step         int
	eosAfter     int // emit EOS argmax once step exceeds this; 0 = never
	failAtStep   int // Forward error at this step; 0 = never
	encodeFn     func(string) []int
	forwardCalls [][]int
	caches       []*fakeCache
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{vocab: 8, eos: 7}
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Encode(text string) []int {
	if f.encodeFn != nil {
		return f.encodeFn(text)
	}
	return []int{1, 2, 3}
}

func (f *fakeBackend) Decode(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	return string(rune('a' + ids[0]%26))
}

func (f *fakeBackend) EOSToken() int { return f.eos }

func (f *fakeBackend) NewCache() (backend.Cache, error) {
	c := &fakeCache{}
	f.mu.Lock()
	f.caches = append(f.caches, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeBackend) Forward(tokens []int, _ backend.Cache) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwardCalls = append(f.forwardCalls, append([]int(nil), tokens...))
	if len(tokens) > 1 {
		// Warm-up pass over the prompt prefix.
		return make([]float32, f.vocab), nil
	}
	f.step++
	if f.failAtStep > 0 && f.step == f.failAtStep {
		return nil, errors.New("kernel fault")
	}
	logits := make([]float32, f.vocab)
	target := f.step % f.vocab
	if f.eosAfter > 0 && f.step > f.eosAfter {
		target = f.eos
	} else if target == f.eos {
		target = 0
	}
	logits[target] = 10
	return logits, nil
}

func testStack(t *testing.T, model backend.Model, limits config.Limits) (*Engine, *governor.Governor) {
	t.Helper()
	loader := loaderFor(model)
	lm := lifecycle.New(loader, nil, zerolog.Nop())
	if _, err := lm.Load(context.Background(), "owner/test"); err != nil {
		t.Fatalf("load: %v", err)
	}
	gov := governor.New(limits, nil, zerolog.Nop())
	return New(lm, gov, limits, zerolog.Nop()), gov
}

type funcLoader func(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error)

func (f funcLoader) Load(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error) {
	return f(ctx, modelID, progress)
}

func loaderFor(m backend.Model) lifecycle.Loader {
	return funcLoader(func(context.Context, string, func(float64)) (backend.Model, error) {
		return m, nil
	})
}

func defaultLimits() config.Limits {
	return config.Config{}.Normalize().Limits
}

func userRequest(maxTokens int) types.GenerateRequest {
	return types.GenerateRequest{
		Messages:  []types.Message{{Role: "user", Content: "hi"}},
		MaxTokens: maxTokens,
		// Greedy keeps the scripted backend deterministic.
		Temperature: 0,
	}
}

func collect(t *testing.T, s *Stream) []Chunk {
	t.Helper()
	var out []Chunk
	for c := range s.Chunks() {
		out = append(out, c)
	}
	return out
}

func TestGenerateMaxTokensYieldsExactCount(t *testing.T) {
	e, gov := testStack(t, newFakeBackend(), defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(5))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks := collect(t, s)
	if len(chunks) != 5 {
		t.Fatalf("chunks: got %d want 5", len(chunks))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if u := s.Usage(); u.CompletionTokens != 5 {
		t.Fatalf("completion tokens: got %d", u.CompletionTokens)
	}
	if got := gov.ActiveTokens(); got != 0 {
		t.Fatalf("budget leaked: %d active tokens", got)
	}
}

func TestGenerateStopsAtEOS(t *testing.T) {
	b := newFakeBackend()
	b.eosAfter = 3
	e, gov := testStack(t, b, defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(100))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks := collect(t, s)
	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d want 3", len(chunks))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := gov.ActiveTokens(); got != 0 {
		t.Fatalf("budget leaked: %d active tokens", got)
	}
}

func TestGenerateTruncatesPromptToContextCeiling(t *testing.T) {
	b := newFakeBackend()
	b.encodeFn = func(string) []int {
		ids := make([]int, 20000)
		for i := range ids {
			ids[i] = i
		}
		return ids
	}
	limits := defaultLimits()
	limits.MaxTokensPerCall = 20000
	limits.GlobalTokenCeiling = 40000
	e, _ := testStack(t, b, limits)

	s, err := e.Generate(context.Background(), userRequest(1))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	collect(t, s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.forwardCalls) == 0 {
		t.Fatal("no forward calls recorded")
	}
	warm := b.forwardCalls[0]
	// 16384 most recent tokens survive; the warm-up pass covers all but the
	// final one.
	if len(warm) != 16383 {
		t.Fatalf("warm pass length: got %d want 16383", len(warm))
	}
	if warm[0] != 20000-16384 {
		t.Fatalf("oldest surviving token: got %d want %d", warm[0], 20000-16384)
	}
	if u := s.Usage(); u.PromptTokens != 16384 {
		t.Fatalf("prompt tokens: got %d want 16384", u.PromptTokens)
	}
}

func TestGenerateCancelReleasesExactBudget(t *testing.T) {
	e, gov := testStack(t, newFakeBackend(), defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(4000))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got := 0
	for i := 0; i < 2; i++ {
		if _, ok := <-s.Chunks(); !ok {
			t.Fatal("stream closed early")
		}
		got++
	}
	s.Cancel()
	for range s.Chunks() {
		got++
	}

	if err := s.Err(); err != nil {
		t.Fatalf("cancelled stream must finish cleanly, got %v", err)
	}
	if got < 2 {
		t.Fatalf("consumed %d chunks", got)
	}
	u := s.Usage()
	// Every allocated token is released: the ledger returns to zero and the
	// reported usage covers prompt plus generated.
	if gov.ActiveTokens() != 0 {
		t.Fatalf("budget leaked: %d active tokens", gov.ActiveTokens())
	}
	if u.CompletionTokens < got || u.CompletionTokens > got+1 {
		t.Fatalf("completion tokens %d vs %d consumed chunks", u.CompletionTokens, got)
	}
}

func TestGenerateForwardFailureSurfacesAndConservesBudget(t *testing.T) {
	b := newFakeBackend()
	b.failAtStep = 3
	e, gov := testStack(t, b, defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(100))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks := collect(t, s)
	if len(chunks) != 2 {
		t.Fatalf("chunks before failure: got %d want 2", len(chunks))
	}
	if err := s.Err(); !IsGeneration(err) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if gov.ActiveTokens() != 0 {
		t.Fatalf("budget leaked: %d active tokens", gov.ActiveTokens())
	}
}

func TestGenerateWithoutModel(t *testing.T) {
	lm := lifecycle.New(loaderFor(newFakeBackend()), nil, zerolog.Nop())
	gov := governor.New(defaultLimits(), nil, zerolog.Nop())
	e := New(lm, gov, defaultLimits(), zerolog.Nop())
	_, err := e.Generate(context.Background(), userRequest(5))
	if !lifecycle.IsModelNotLoaded(err) {
		t.Fatalf("expected model-not-loaded, got %v", err)
	}
}

func TestGenerateSingleFlight(t *testing.T) {
	e, _ := testStack(t, newFakeBackend(), defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(4000))
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if _, err := e.Generate(context.Background(), userRequest(5)); !lifecycle.IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	s.Cancel()
	collect(t, s)
	_ = s.Err()

	s2, err := e.Generate(context.Background(), userRequest(2))
	if err != nil {
		t.Fatalf("generate after release: %v", err)
	}
	collect(t, s2)
	if err := s2.Err(); err != nil {
		t.Fatalf("second stream: %v", err)
	}
}

func TestGenerateBudgetRejectionReleasesSlot(t *testing.T) {
	e, gov := testStack(t, newFakeBackend(), defaultLimits())
	if err := gov.Allocate(8000); err != nil {
		t.Fatalf("pre-allocate: %v", err)
	}
	if err := gov.Allocate(1999); err != nil {
		t.Fatalf("pre-allocate: %v", err)
	}
	_, err := e.Generate(context.Background(), userRequest(5))
	if !governor.IsBudgetExceeded(err) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
	gov.Release(9999)

	// The single-flight slot must have been released on the error path.
	s, err := e.Generate(context.Background(), userRequest(2))
	if err != nil {
		t.Fatalf("generate after rejection: %v", err)
	}
	collect(t, s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}
}

func TestGenerateValidatesParameters(t *testing.T) {
	e, _ := testStack(t, newFakeBackend(), defaultLimits())
	cases := []types.GenerateRequest{
		{},
		{Messages: []types.Message{{Role: "user", Content: "x"}}, Temperature: 2.5},
		{Messages: []types.Message{{Role: "user", Content: "x"}}, Temperature: -0.1},
		{Messages: []types.Message{{Role: "user", Content: "x"}}, TopP: 1.5},
	}
	for i, req := range cases {
		if _, err := e.Generate(context.Background(), req); !IsInvalidRequest(err) {
			t.Fatalf("case %d: expected invalid request, got %v", i, err)
		}
	}
}

func TestGenerateMaxTokensClampedToCeiling(t *testing.T) {
	b := newFakeBackend()
	b.eosAfter = 0
	limits := defaultLimits()
	limits.MaxGenerateTokens = 3
	e, _ := testStack(t, b, limits)
	s, err := e.Generate(context.Background(), userRequest(999))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks := collect(t, s)
	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d want 3", len(chunks))
	}
}

// fakeStreamer exercises the native token-streaming path.
type fakeStreamer struct {
	tokens []string
}

func (f *fakeStreamer) Close() error { return nil }

func (f *fakeStreamer) Stream(ctx context.Context, prompt string, _ backend.Params, onToken func(string) error) (int, error) {
	n := 0
	for _, tok := range f.tokens {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		if err := onToken(tok); err != nil {
			return n, nil
		}
		n++
	}
	return n, nil
}

func TestGenerateNativeStreamerPath(t *testing.T) {
	fs := &fakeStreamer{tokens: []string{"hel", "lo", "!"}}
	e, gov := testStack(t, fs, defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(10))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks := collect(t, s)
	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d want 3", len(chunks))
	}
	text := ""
	for _, c := range chunks {
		if c.Token != -1 {
			t.Fatalf("native chunk carries token id %d", c.Token)
		}
		text += c.Text
	}
	if text != "hello!" {
		t.Fatalf("text: %q", text)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if gov.ActiveTokens() != 0 {
		t.Fatalf("budget leaked: %d active tokens", gov.ActiveTokens())
	}
}

func TestCacheFreedAfterGeneration(t *testing.T) {
	b := newFakeBackend()
	b.eosAfter = 2
	e, _ := testStack(t, b, defaultLimits())
	s, err := e.Generate(context.Background(), userRequest(10))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	collect(t, s)
	_ = s.Err()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		freed := len(b.caches) == 1 && func() bool {
			b.caches[0].mu.Lock()
			defer b.caches[0].mu.Unlock()
			return b.caches[0].freed
		}()
		b.mu.Unlock()
		if freed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("cache not freed after generation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
