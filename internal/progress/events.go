package progress

import (
	"encoding/json"
	"fmt"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
)

// Event names carried in the envelope.
const (
	EventUpdate          = "update"
	EventProcessedChunks = "processed-chunks"
)

// Envelope is the wire format shared by both event shapes:
// {"event": "...", "payload": {...}}.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ResourceUpdate is a partial patch of a consumer's view of one resource.
// Only fields present in the payload are applied; nil fields must not
// overwrite existing client state, hence the pointer fields with omitempty.
type ResourceUpdate struct {
	ResourceID      string                 `json:"resourceId"`
	Status          *domain.ResourceStatus `json:"status,omitempty"`
	Title           *string                `json:"title,omitempty"`
	ChunksLength    *int                   `json:"chunksLength,omitempty"`
	FileSize        *int64                 `json:"fileSize,omitempty"`
	ProcessedChunks *int                   `json:"processedChunks,omitempty"`
	TotalChunks     *int                   `json:"totalChunks,omitempty"`
}

// ProcessedChunksDelta is an incremental progress delta, not an absolute
// value. Deltas for the same resource are commutative: consumers must sum
// them, because delivery order across concurrent chunk batches is not
// guaranteed.
type ProcessedChunksDelta struct {
	ResourceID      string `json:"resourceId"`
	ProcessedChunks int    `json:"processedChunks"`
}

// Channel returns the deterministic channel name for one resource category
// under a knowledge base or context, so UIs can subscribe narrowly.
func Channel(parentID string, t domain.ResourceType) string {
	if t == domain.ResourceTypeLink {
		return fmt.Sprintf("knowledge:%s:links", parentID)
	}
	return fmt.Sprintf("knowledge:%s:files", parentID)
}

// Pointer helpers for building partial patches.

func StatusPtr(s domain.ResourceStatus) *domain.ResourceStatus { return &s }

func StringPtr(s string) *string { return &s }

func IntPtr(i int) *int { return &i }

func Int64Ptr(i int64) *int64 { return &i }
