package progress

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
)

// ResourceView is a consumer's reconciled view of one resource, built from
// partial patches and summed progress deltas. It is advisory only: a consumer
// that subscribed late has simply missed events and reconciles on the next
// full reload from the store.
type ResourceView struct {
	ResourceID      string
	Status          domain.ResourceStatus
	Title           string
	ChunksLength    int
	FileSize        int64
	ProcessedChunks int
	TotalChunks     int
}

// Tracker aggregates channel events into per-resource views. Safe for
// concurrent use; deltas are applied commutatively so arrival order does not
// matter.
type Tracker struct {
	mu    sync.Mutex
	views map[string]*ResourceView
}

func NewTracker() *Tracker {
	return &Tracker{views: make(map[string]*ResourceView)}
}

// HandleMessage decodes one envelope from the wire and applies it.
func (t *Tracker) HandleMessage(payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}

	switch env.Event {
	case EventUpdate:
		var update ResourceUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			return fmt.Errorf("failed to decode update payload: %w", err)
		}
		t.ApplyUpdate(update)
		return nil
	case EventProcessedChunks:
		var delta ProcessedChunksDelta
		if err := json.Unmarshal(env.Payload, &delta); err != nil {
			return fmt.Errorf("failed to decode processed-chunks payload: %w", err)
		}
		t.ApplyDelta(delta)
		return nil
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

// ApplyUpdate applies a partial patch field-by-field. Absent (nil) fields
// leave existing state untouched.
func (t *Tracker) ApplyUpdate(update ResourceUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := t.view(update.ResourceID)
	if update.Status != nil {
		view.Status = *update.Status
	}
	if update.Title != nil {
		view.Title = *update.Title
	}
	if update.ChunksLength != nil {
		view.ChunksLength = *update.ChunksLength
	}
	if update.FileSize != nil {
		view.FileSize = *update.FileSize
	}
	if update.ProcessedChunks != nil {
		view.ProcessedChunks = *update.ProcessedChunks
	}
	if update.TotalChunks != nil {
		view.TotalChunks = *update.TotalChunks
	}
}

// ApplyDelta accumulates an incremental delta into the view.
func (t *Tracker) ApplyDelta(delta ProcessedChunksDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := t.view(delta.ResourceID)
	view.ProcessedChunks += delta.ProcessedChunks
}

// View returns a copy of the current view for a resource, and whether any
// event for it has been seen.
func (t *Tracker) View(resourceID string) (ResourceView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	view, ok := t.views[resourceID]
	if !ok {
		return ResourceView{}, false
	}
	return *view, true
}

func (t *Tracker) view(resourceID string) *ResourceView {
	view, ok := t.views[resourceID]
	if !ok {
		view = &ResourceView{ResourceID: resourceID}
		t.views[resourceID] = view
	}
	return view
}
