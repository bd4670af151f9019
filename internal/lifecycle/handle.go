package lifecycle

import (
	"chatd/internal/backend"
)

// Handle is the exclusively-owned reference to a loaded model. At most one
// handle is current per manager; ownership of the generation slot transfers
// to the decode loop for the duration of one call.
type Handle struct {
	modelID string
	model   backend.Model
	// genCh is the capacity-1 single-flight slot guarding the model's cache.
	genCh chan struct{}
}

func newHandle(modelID string, model backend.Model) *Handle {
	return &Handle{
		modelID: modelID,
		model:   model,
		genCh:   make(chan struct{}, 1),
	}
}

// ModelID returns the owner/name identifier this handle serves.
func (h *Handle) ModelID() string { return h.modelID }

// Model returns the loaded backend model for shared-read use by the holder
// of the generation slot.
func (h *Handle) Model() backend.Model { return h.model }

// tryAcquire takes the single-flight slot without blocking.
func (h *Handle) tryAcquire() bool {
	select {
	case h.genCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// release returns the single-flight slot.
func (h *Handle) release() { <-h.genCh }

// drainAndClose waits for any in-flight generation to release the slot,
// then frees the model (weights released, device cache cleared).
func (h *Handle) drainAndClose() error {
	h.genCh <- struct{}{}
	return h.model.Close()
}
