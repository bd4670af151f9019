// Package governor implements admission control for the generation engine:
// sliding-window rate limits, a global active-token ledger, and a
// memory-pressure gate. All rejections are recoverable by the caller.
package governor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/config"
	"chatd/pkg/types"
)

const (
	secondWindow = time.Second
	minuteWindow = 60 * time.Second
)

// Governor tracks the token budget ledger and request-rate windows.
// Admit, Allocate, and Release are the only mutation entry points.
type Governor struct {
	mu sync.Mutex

	perCallCeiling int
	globalCeiling  int
	perSecond      int
	perMinute      int
	memFraction    float64

	activeTokens int
	admits       []time.Time

	probe MemProbe
	now   func() time.Time
	log   zerolog.Logger
}

// New builds a Governor from normalized limits. probe may be nil, which
// disables the memory gate.
func New(limits config.Limits, probe MemProbe, log zerolog.Logger) *Governor {
	return &Governor{
		perCallCeiling: limits.MaxTokensPerCall,
		globalCeiling:  limits.GlobalTokenCeiling,
		perSecond:      limits.RequestsPerSecond,
		perMinute:      limits.RequestsPerMinute,
		memFraction:    limits.MemoryFraction,
		probe:          probe,
		now:            time.Now,
		log:            log,
	}
}

// SetClock overrides the governor's time source. Test hook.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Admit checks rate limits and memory pressure for one new request.
// It must be called once per generation request before any allocation.
func (g *Governor) Admit() error {
	g.mu.Lock()
	now := g.now()
	g.prune(now)
	inSecond := 0
	for _, t := range g.admits {
		if now.Sub(t) < secondWindow {
			inSecond++
		}
	}
	if inSecond >= g.perSecond {
		g.mu.Unlock()
		admissionsRejected.WithLabelValues("rate_second").Inc()
		return rateLimitedError{window: "1s", limit: g.perSecond}
	}
	if len(g.admits) >= g.perMinute {
		g.mu.Unlock()
		admissionsRejected.WithLabelValues("rate_minute").Inc()
		return rateLimitedError{window: "60s", limit: g.perMinute}
	}
	g.admits = append(g.admits, now)
	probe := g.probe
	fraction := g.memFraction
	g.mu.Unlock()

	if probe != nil {
		if info, err := probe(); err == nil && info.TotalBytes > 0 {
			ceiling := uint64(float64(info.TotalBytes) * fraction)
			if info.ResidentBytes > ceiling {
				admissionsRejected.WithLabelValues("memory").Inc()
				g.log.Warn().
					Uint64("resident_bytes", info.ResidentBytes).
					Uint64("ceiling_bytes", ceiling).
					Msg("admission rejected under memory pressure")
				return memoryPressureError{resident: info.ResidentBytes, ceiling: ceiling}
			}
		}
	}
	admissionsTotal.Inc()
	return nil
}

// Allocate reserves budget for n prompt or generation tokens.
func (g *Governor) Allocate(n int) error {
	if n <= 0 {
		return invalidTokenCountError{requested: n}
	}
	if n > g.perCallCeiling {
		return contextTooLargeError{requested: n, ceiling: g.perCallCeiling}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeTokens+n > g.globalCeiling {
		return budgetExceededError{requested: n, active: g.activeTokens, ceiling: g.globalCeiling}
	}
	g.activeTokens += n
	activeTokensGauge.Set(float64(g.activeTokens))
	return nil
}

// Release returns budget to the ledger. It clamps at zero so that calling
// it on any error path can never drive the ledger negative.
func (g *Governor) Release(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeTokens -= n
	if g.activeTokens < 0 {
		g.log.Error().Int("release", n).Msg("token ledger underflow clamped")
		g.activeTokens = 0
	}
	activeTokensGauge.Set(float64(g.activeTokens))
}

// ActiveTokens returns the current ledger value.
func (g *Governor) ActiveTokens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeTokens
}

// Status reports the ledger for the status endpoint.
func (g *Governor) Status() types.GovernorStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.prune(now)
	inSecond := 0
	for _, t := range g.admits {
		if now.Sub(t) < secondWindow {
			inSecond++
		}
	}
	return types.GovernorStatus{
		ActiveTokens:       g.activeTokens,
		TokenCeiling:       g.globalCeiling,
		RequestsLastSecond: inSecond,
		RequestsLastMinute: len(g.admits),
	}
}

// prune drops admit timestamps older than the minute window.
// Caller must hold g.mu.
func (g *Governor) prune(now time.Time) {
	cut := 0
	for cut < len(g.admits) && now.Sub(g.admits[cut]) >= minuteWindow {
		cut++
	}
	if cut > 0 {
		g.admits = append(g.admits[:0], g.admits[cut:]...)
	}
}
