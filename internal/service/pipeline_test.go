package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itzam-ai/itzam-sub000/internal/chunker"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/itzam-ai/itzam-sub000/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChunker answers Process per call, recording each request so tests can
// assert on the tier order.
type stubChunker struct {
	mu       sync.Mutex
	requests []chunker.Request
	respond  func(req chunker.Request) (*chunker.Result, error)
}

func (s *stubChunker) Process(ctx context.Context, req chunker.Request) (*chunker.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.respond(req)
}

type stubEmbedder struct {
	embeddings [][]float32
	err        error
	calls      int
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.embeddings != nil {
		return s.embeddings, nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type stubResourceRepo struct {
	mu            sync.Mutex
	statusWrites  []domain.ResourceStatus
	scrapedIDs    []string
	updateErr     error
	updateErrOnce bool
}

func (s *stubResourceRepo) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		err := s.updateErr
		if s.updateErrOnce {
			s.updateErr = nil
		}
		return err
	}
	s.statusWrites = append(s.statusWrites, status)
	return nil
}

func (s *stubResourceRepo) MarkScraped(ctx context.Context, id string, scrapedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrapedIDs = append(s.scrapedIDs, id)
	return nil
}

type stubChunkRepo struct {
	mu        sync.Mutex
	inserted  []domain.Chunk
	count     int
	countErr  error
	insertErr error
	deleted   []string
	deleteErr error
}

func (s *stubChunkRepo) InsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, chunks...)
	return nil
}

func (s *stubChunkRepo) CountByResource(ctx context.Context, resourceID string) (int, error) {
	return s.count, s.countErr
}

func (s *stubChunkRepo) DeleteByResource(ctx context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, resourceID)
	return nil
}

type stubPublisher struct {
	mu      sync.Mutex
	updates []progress.ResourceUpdate
	deltas  []progress.ProcessedChunksDelta
}

func (s *stubPublisher) PublishUpdate(ctx context.Context, channel string, update progress.ResourceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

func (s *stubPublisher) PublishProcessedChunks(ctx context.Context, channel string, delta progress.ProcessedChunksDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, delta)
	return nil
}

func pendingFileResource() *domain.Resource {
	return &domain.Resource{
		ID:          "res-1",
		Type:        domain.ResourceTypeFile,
		URL:         "uploads/report.pdf",
		FileName:    "report.pdf",
		FileSize:    2048,
		Status:      domain.ResourceStatusPending,
		KnowledgeID: "kn-1",
		WorkflowID:  "wf-1",
	}
}

func pendingLinkResource() *domain.Resource {
	return &domain.Resource{
		ID:         "res-2",
		Type:       domain.ResourceTypeLink,
		URL:        "https://example.com/docs",
		Status:     domain.ResourceStatusPending,
		ContextID:  "ctx-1",
		WorkflowID: "wf-1",
	}
}

func newTestPipeline(c chunker.Client, e EmbeddingClient, rr *stubResourceRepo, cr *stubChunkRepo, pub *stubPublisher) *EmbeddingPipeline {
	return NewEmbeddingPipeline(c, e, rr, cr, pub)
}

func TestPipeline_DelegatedPersistSucceeds(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 3}, nil
	}}
	embedder := &stubEmbedder{}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{count: 3}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, embedder, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, domain.ResourceStatusProcessed, result.Status)
	assert.Equal(t, 3, result.ChunksCount)

	// First tier only, asking the service to embed and persist.
	require.Len(t, ck.requests, 1)
	assert.True(t, ck.requests[0].GenerateEmbeddings)
	assert.True(t, ck.requests[0].SaveToStore)

	// Direct embedder never called, nothing persisted locally.
	assert.Zero(t, embedder.calls)
	assert.Empty(t, chunkRepo.inserted)

	assert.Equal(t, []domain.ResourceStatus{domain.ResourceStatusProcessed}, resourceRepo.statusWrites)
	require.Len(t, pub.updates, 1)
	assert.Equal(t, domain.ResourceStatusProcessed, *pub.updates[0].Status)
	assert.Equal(t, 3, *pub.updates[0].ChunksLength)
	assert.Equal(t, "report.pdf", *pub.updates[0].Title)
}

func TestPipeline_DelegatedPersistCountReadback(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 5}, nil
	}}
	resourceRepo := &stubResourceRepo{}
	// The store disagrees with the reported count; the row count wins.
	chunkRepo := &stubChunkRepo{count: 3}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, 3, result.ChunksCount)
}

func TestPipeline_FallsBackToDelegatedEmbed(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		if req.SaveToStore {
			return &chunker.Result{SavedToStore: false, SaveError: "store write rejected"}, nil
		}
		return &chunker.Result{
			Chunks:     []string{"alpha", "beta"},
			Embeddings: [][]float32{{0.1}, {0.2}},
		}, nil
	}}
	embedder := &stubEmbedder{}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, embedder, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, domain.ResourceStatusProcessed, result.Status)
	assert.Equal(t, 2, result.ChunksCount)

	require.Len(t, ck.requests, 2)
	assert.True(t, ck.requests[1].GenerateEmbeddings)
	assert.False(t, ck.requests[1].SaveToStore)

	assert.Zero(t, embedder.calls)
	require.Len(t, chunkRepo.inserted, 2)
	assert.Equal(t, "alpha", chunkRepo.inserted[0].Content)
	assert.Equal(t, "res-1", chunkRepo.inserted[0].ResourceID)
	assert.NotEmpty(t, chunkRepo.inserted[0].ID)
}

func TestPipeline_EmbeddingMismatchFallsThroughToChunksOnly(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		if req.SaveToStore {
			return nil, domain.ErrChunkerUnavailable
		}
		if req.GenerateEmbeddings {
			// Mismatched parallel arrays must not be persisted.
			return &chunker.Result{
				Chunks:     []string{"alpha", "beta", "gamma"},
				Embeddings: [][]float32{{0.1}},
			}, nil
		}
		return &chunker.Result{Chunks: []string{"alpha", "beta", "gamma"}}, nil
	}}
	embedder := &stubEmbedder{}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, embedder, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, 3, result.ChunksCount)
	require.Len(t, ck.requests, 3)
	assert.Equal(t, 1, embedder.calls)
	assert.Len(t, chunkRepo.inserted, 3)
}

func TestPipeline_EmptyExtractionIsZeroChunkSuccess(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		if req.SaveToStore || req.GenerateEmbeddings {
			return nil, domain.ErrChunkerUnavailable
		}
		return &chunker.Result{}, nil
	}}
	embedder := &stubEmbedder{}
	resourceRepo := &stubResourceRepo{}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, embedder, resourceRepo, &stubChunkRepo{}, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, domain.ResourceStatusProcessed, result.Status)
	assert.Equal(t, 0, result.ChunksCount)
	assert.Zero(t, embedder.calls)
}

func TestPipeline_AllTiersFail(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return nil, domain.ErrChunkerUnavailable
	}}
	resourceRepo := &stubResourceRepo{}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, &stubChunkRepo{}, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.Error(t, result.Err)
	assert.Equal(t, domain.ResourceStatusFailed, result.Status)
	assert.Equal(t, 0, result.ChunksCount)
	assert.Len(t, ck.requests, 3)

	// Exactly one terminal write and one final broadcast, even on failure.
	assert.Equal(t, []domain.ResourceStatus{domain.ResourceStatusFailed}, resourceRepo.statusWrites)
	require.Len(t, pub.updates, 1)
	assert.Equal(t, domain.ResourceStatusFailed, *pub.updates[0].Status)
	assert.Equal(t, 0, *pub.updates[0].ChunksLength)
}

func TestPipeline_PersistenceErrorAbortsCascade(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		if req.SaveToStore {
			return nil, domain.ErrChunkerUnavailable
		}
		return &chunker.Result{
			Chunks:     []string{"alpha"},
			Embeddings: [][]float32{{0.1}},
		}, nil
	}}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{insertErr: errors.New("disk full")}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.Error(t, result.Err)
	assert.Equal(t, domain.ResourceStatusFailed, result.Status)

	var domainErr *domain.DomainError
	require.ErrorAs(t, result.Err, &domainErr)
	assert.Equal(t, domain.ErrCodePersistence, domainErr.Code)

	// Tier 3 never runs after a persistence failure in tier 2.
	assert.Len(t, ck.requests, 2)
}

func TestPipeline_TimeoutClassifiedAsTimeoutError(t *testing.T) {
	release := make(chan struct{})
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		<-release
		return nil, context.DeadlineExceeded
	}}
	resourceRepo := &stubResourceRepo{}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, &stubChunkRepo{}, pub).
		WithTimeout(20 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	result := p.Run(context.Background(), pendingFileResource())

	assert.Equal(t, domain.ResourceStatusFailed, result.Status)

	var domainErr *domain.DomainError
	require.ErrorAs(t, result.Err, &domainErr)
	assert.Equal(t, domain.ErrCodeTimeout, domainErr.Code)
	assert.ErrorIs(t, result.Err, domain.ErrPipelineTimeout)

	// The terminal write still happens on the detached context.
	assert.Equal(t, []domain.ResourceStatus{domain.ResourceStatusFailed}, resourceRepo.statusWrites)
	assert.Len(t, pub.updates, 1)
}

func TestPipeline_LinkResourceMarkedScraped(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 2}, nil
	}}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{count: 2}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingLinkResource())

	assert.NoError(t, result.Err)
	assert.Equal(t, []string{"res-2"}, resourceRepo.scrapedIDs)
}

func TestPipeline_RescrapePurgesPreviousChunks(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 1}, nil
	}}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{count: 1}
	pub := &stubPublisher{}

	res := pendingLinkResource()
	scraped := time.Now().UTC().Add(-2 * time.Hour)
	res.LastScrapedAt = &scraped

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), res)

	assert.NoError(t, result.Err)
	assert.Equal(t, []string{"res-2"}, chunkRepo.deleted)
}

func TestPipeline_RescrapePurgeFailureIsFatal(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 1}, nil
	}}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{deleteErr: errors.New("lock timeout")}
	pub := &stubPublisher{}

	res := pendingLinkResource()
	scraped := time.Now().UTC()
	res.LastScrapedAt = &scraped

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), res)

	assert.Error(t, result.Err)
	assert.Equal(t, domain.ResourceStatusFailed, result.Status)
	assert.Empty(t, ck.requests)
}

func TestPipeline_StatusWriteFailureForcesFailed(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		return &chunker.Result{SavedToStore: true, ChunksSaved: 2}, nil
	}}
	resourceRepo := &stubResourceRepo{updateErr: errors.New("connection reset"), updateErrOnce: true}
	chunkRepo := &stubChunkRepo{count: 2}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.Error(t, result.Err)
	assert.Equal(t, domain.ResourceStatusFailed, result.Status)

	// Best-effort retry wrote FAILED after the first write bounced.
	assert.Equal(t, []domain.ResourceStatus{domain.ResourceStatusFailed}, resourceRepo.statusWrites)
}

func TestPipeline_ProgressDeltasForwarded(t *testing.T) {
	ck := &stubChunker{respond: func(req chunker.Request) (*chunker.Result, error) {
		if req.SaveToStore {
			if req.OnProgress != nil {
				req.OnProgress(2, 5)
				req.OnProgress(3, 5)
			}
			return &chunker.Result{SavedToStore: true, ChunksSaved: 5}, nil
		}
		return nil, domain.ErrChunkerUnavailable
	}}
	resourceRepo := &stubResourceRepo{}
	chunkRepo := &stubChunkRepo{count: 5}
	pub := &stubPublisher{}

	p := newTestPipeline(ck, &stubEmbedder{}, resourceRepo, chunkRepo, pub)
	result := p.Run(context.Background(), pendingFileResource())

	assert.NoError(t, result.Err)
	require.Len(t, pub.deltas, 2)
	assert.Equal(t, 2, pub.deltas[0].ProcessedChunks)
	assert.Equal(t, 3, pub.deltas[1].ProcessedChunks)
}
