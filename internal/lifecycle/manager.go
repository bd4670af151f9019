// Package lifecycle owns the model load/unload state machine. Exactly one
// model handle is current at any time; a new load leaves the previous handle
// serviceable until it atomically swaps in, and an in-flight load is
// cancelled (not failed) when a newer load supersedes it.
package lifecycle

import (
	"context"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/backend"
)

// modelIDPattern is the allow-list for model identifiers: owner/name, each
// segment starting with an alphanumeric. Checked before any filesystem or
// network activity.
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateModelID reports whether id matches the owner/name allow-list.
func ValidateModelID(id string) error {
	if !modelIDPattern.MatchString(id) {
		return validationError{id: id}
	}
	return nil
}

// Loader resolves a model identifier to a loaded model, reporting fractional
// progress in [0,1]. Implementations must honor ctx cancellation.
type Loader interface {
	Load(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error)
}

// Manager is the single-owner model lifecycle state machine.
type Manager struct {
	mu         sync.RWMutex
	state      State
	cur        *Handle
	loadingID  string
	progress   float64
	errMsg     string
	loadSeq    uint64
	loadCancel context.CancelFunc

	loader Loader
	events EventPublisher
	log    zerolog.Logger
}

// New constructs an idle Manager. events may be nil.
func New(loader Loader, events EventPublisher, log zerolog.Logger) *Manager {
	if events == nil {
		events = noopPublisher{}
	}
	return &Manager{
		state:  StateIdle,
		loader: loader,
		events: events,
		log:    log,
	}
}

// Load loads modelID and atomically swaps it in as the current handle.
// Submitting a new Load cancels an in-flight one; the superseded call
// returns a superseded error, which callers treat as a no-op. On failure the
// previously loaded handle (if any) is untouched and stays serviceable.
func (m *Manager) Load(ctx context.Context, modelID string) (*Handle, error) {
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}

	opID := uuid.NewString()

	m.mu.Lock()
	if m.loadCancel != nil {
		m.loadCancel()
	}
	m.loadSeq++
	seq := m.loadSeq
	lctx, cancel := context.WithCancel(ctx)
	m.loadCancel = cancel
	m.state = StateLoading
	m.loadingID = modelID
	m.progress = 0
	m.errMsg = ""
	m.mu.Unlock()
	defer cancel()

	m.events.Publish(Event{Name: "load_started", ModelID: modelID, Fields: map[string]any{"op_id": opID}})
	m.log.Info().Str("model", modelID).Str("op_id", opID).Msg("model load started")

	progressFn := func(p float64) {
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		m.mu.Lock()
		if m.loadSeq == seq {
			m.progress = p
		}
		m.mu.Unlock()
		m.events.Publish(Event{Name: "load_progress", ModelID: modelID, Fields: map[string]any{"progress": p}})
	}

	model, err := m.loader.Load(lctx, modelID, progressFn)

	m.mu.Lock()
	if m.loadSeq != seq {
		m.mu.Unlock()
		// Lost the race to a newer load; discard quietly.
		if model != nil {
			_ = model.Close()
		}
		return nil, supersededError{id: modelID}
	}
	m.loadCancel = nil
	if err != nil {
		m.state = StateFailed
		m.errMsg = err.Error()
		m.loadingID = ""
		m.progress = 0
		// m.cur untouched: the old handle stays serviceable after a failed
		// reload.
		m.mu.Unlock()
		m.events.Publish(Event{Name: "load_failed", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Str("model", modelID).Str("op_id", opID).Err(err).Msg("model load failed")
		return nil, loadFailedError{id: modelID, cause: err}
	}

	old := m.cur
	h := newHandle(modelID, model)
	m.cur = h
	m.state = StateLoaded
	m.loadingID = ""
	m.progress = 1
	m.errMsg = ""
	m.mu.Unlock()

	if old != nil {
		// Destroy the superseded handle once its in-flight generation (if
		// any) releases the slot.
		go func(h *Handle) {
			if cerr := h.drainAndClose(); cerr != nil {
				m.log.Warn().Str("model", h.ModelID()).Err(cerr).Msg("closing superseded handle")
			}
		}(old)
	}

	m.events.Publish(Event{Name: "load_completed", ModelID: modelID, Fields: map[string]any{"op_id": opID}})
	m.log.Info().Str("model", modelID).Str("op_id", opID).Msg("model load completed")
	return h, nil
}

// Unload frees the current handle and clears its device-level cache. Any
// in-flight load is cancelled; the state returns to Idle.
func (m *Manager) Unload() error {
	m.mu.Lock()
	if m.loadCancel != nil {
		m.loadCancel()
		m.loadCancel = nil
	}
	m.loadSeq++
	old := m.cur
	m.cur = nil
	m.state = StateIdle
	m.loadingID = ""
	m.progress = 0
	m.errMsg = ""
	m.mu.Unlock()

	if old == nil {
		return nil
	}
	m.events.Publish(Event{Name: "unload", ModelID: old.ModelID()})
	m.log.Info().Str("model", old.ModelID()).Msg("model unloaded")
	return old.drainAndClose()
}

// Snapshot returns the current state view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.state, Progress: m.progress, Err: m.errMsg}
	switch {
	case m.state == StateLoading:
		s.ModelID = m.loadingID
	case m.cur != nil:
		s.ModelID = m.cur.ModelID()
	}
	return s
}

// Acquire hands out the current handle with its single-flight slot taken.
// The caller must call the release func exactly once when generation ends.
func (m *Manager) Acquire() (*Handle, func(), error) {
	m.mu.RLock()
	h := m.cur
	m.mu.RUnlock()
	if h == nil {
		return nil, nil, ErrModelNotLoaded()
	}
	if !h.tryAcquire() {
		return nil, nil, busyError{id: h.ModelID()}
	}
	var once sync.Once
	release := func() { once.Do(h.release) }
	return h, release, nil
}
