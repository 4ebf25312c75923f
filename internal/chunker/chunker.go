// Package chunker wraps the chunk/embed service behind a submit-and-await
// task client, so the concrete execution platform (remote HTTP service or the
// in-process fallback) is swappable.
package chunker

import (
	"context"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
)

// Request asks the service to chunk one resource, optionally embedding the
// chunks and optionally persisting them directly to the store.
type Request struct {
	Resource           *domain.Resource
	GenerateEmbeddings bool
	SaveToStore        bool
	WorkflowID         string

	// OnProgress, when set, receives incremental processed-chunk counts while
	// the request runs. Deltas, not absolutes. Best-effort; may never fire.
	OnProgress func(processed, total int)
}

// Result is the union of the service's three response shapes:
//   - delegated persist: SavedToStore/ChunksSaved/ChunkIDs (SaveError on failure)
//   - delegated embed:   Chunks + Embeddings (EmbeddingsError on failure)
//   - chunks only:       Chunks
type Result struct {
	SavedToStore    bool
	ChunksSaved     int
	ChunkIDs        []string
	SaveError       string
	Chunks          []string
	Embeddings      [][]float32
	EmbeddingsError string
}

// Client is the task-client seam: submit a request and await its result.
type Client interface {
	Process(ctx context.Context, req Request) (*Result, error)
}
