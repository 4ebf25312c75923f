package chunker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/itzam-ai/itzam-sub000/internal/converter"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
)

// embedBatchSize bounds one embedding API call; progress deltas are emitted
// per batch.
const embedBatchSize = 32

// Embedder generates one vector per input text.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists chunk rows for the delegated-persist path.
type ChunkStore interface {
	InsertBatch(ctx context.Context, chunks []domain.Chunk) error
}

// TextConverter turns fetched bytes into plain text.
type TextConverter interface {
	Convert(data []byte) converter.Result
}

// Local is the in-process chunk/embed service, used when no remote chunker
// is configured. It honors the same request/response contract as the remote
// service, including the degrade-to-empty conversion behavior.
type Local struct {
	fetcher   converter.BlobFetcher
	converter TextConverter
	embedder  Embedder
	store     ChunkStore
	splitCfg  SplitConfig
}

func NewLocal(fetcher converter.BlobFetcher, conv TextConverter, embedder Embedder, store ChunkStore) *Local {
	return &Local{
		fetcher:   fetcher,
		converter: conv,
		embedder:  embedder,
		store:     store,
		splitCfg:  DefaultSplitConfig(),
	}
}

func (l *Local) Process(ctx context.Context, req Request) (*Result, error) {
	if req.Resource == nil {
		return nil, domain.NewDomainError(domain.ErrCodeService, "chunker request requires a resource")
	}

	// Fetch and convert. Both degrade to empty text rather than erroring; an
	// empty extraction flows through as zero chunks.
	data, err := l.fetcher.Fetch(ctx, req.Resource.URL)
	if err != nil {
		log.Printf("chunker: fetch failed for resource %s: %v", req.Resource.ID, err)
		data = nil
	}
	converted := l.converter.Convert(data)

	chunks := SplitText(converted.Text, l.splitCfg)
	if !req.GenerateEmbeddings || len(chunks) == 0 {
		return &Result{Chunks: chunks}, nil
	}

	embeddings, err := l.embed(ctx, req, chunks)
	if err != nil {
		return &Result{Chunks: chunks, EmbeddingsError: err.Error()}, nil
	}

	if !req.SaveToStore {
		return &Result{Chunks: chunks, Embeddings: embeddings}, nil
	}

	if l.store == nil {
		return &Result{SavedToStore: false, SaveError: "no chunk store configured", Chunks: chunks, Embeddings: embeddings}, nil
	}

	rows := make([]domain.Chunk, 0, len(chunks))
	chunkIDs := make([]string, 0, len(chunks))
	createdAt := time.Now().UTC()
	for i, content := range chunks {
		id := uuid.NewString()
		chunkIDs = append(chunkIDs, id)
		rows = append(rows, domain.Chunk{
			ID:         id,
			ResourceID: req.Resource.ID,
			WorkflowID: req.WorkflowID,
			Content:    content,
			Embedding:  embeddings[i],
			CreatedAt:  createdAt,
		})
	}

	if err := l.store.InsertBatch(ctx, rows); err != nil {
		return &Result{SavedToStore: false, SaveError: err.Error(), Chunks: chunks, Embeddings: embeddings}, nil
	}

	return &Result{SavedToStore: true, ChunksSaved: len(rows), ChunkIDs: chunkIDs}, nil
}

func (l *Local) embed(ctx context.Context, req Request, chunks []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch, err := l.embedder.GenerateEmbeddings(ctx, chunks[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)

		if req.OnProgress != nil {
			req.OnProgress(end-start, len(chunks))
		}
	}
	return embeddings, nil
}
