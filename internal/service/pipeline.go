package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itzam-ai/itzam-sub000/internal/chunker"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/itzam-ai/itzam-sub000/internal/progress"
	"github.com/itzam-ai/itzam-sub000/internal/telemetry"
)

// DefaultPipelineTimeout bounds one whole ingestion cycle wall-clock.
const DefaultPipelineTimeout = 5 * time.Minute

// EmbeddingClient defines the interface for batch embedding generation
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// PipelineResourceRepository defines the repository interface for terminal status writes
type PipelineResourceRepository interface {
	UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error
	MarkScraped(ctx context.Context, id string, scrapedAt time.Time) error
}

// PipelineChunkRepository defines the repository interface for chunk persistence
type PipelineChunkRepository interface {
	InsertBatch(ctx context.Context, chunks []domain.Chunk) error
	CountByResource(ctx context.Context, resourceID string) (int, error)
	DeleteByResource(ctx context.Context, resourceID string) error
}

// ProgressPublisher broadcasts best-effort ingestion events
type ProgressPublisher interface {
	PublishUpdate(ctx context.Context, channel string, update progress.ResourceUpdate) error
	PublishProcessedChunks(ctx context.Context, channel string, delta progress.ProcessedChunksDelta) error
}

// PipelineResult is the per-resource outcome of one ingestion cycle.
type PipelineResult struct {
	ResourceID  string
	Title       string
	ChunksCount int
	Status      domain.ResourceStatus
	Err         error
}

// EmbeddingPipeline drives one resource from PENDING to a terminal status
// through an ordered fallback cascade: delegated persist, delegated embed
// with local persist, then chunks-only with a direct embedding call. Exactly
// one terminal status write and one final broadcast happen per cycle.
type EmbeddingPipeline struct {
	chunker      chunker.Client
	embedder     EmbeddingClient
	resourceRepo PipelineResourceRepository
	chunkRepo    PipelineChunkRepository
	publisher    ProgressPublisher
	uuidGen      UUIDGenerator
	timeout      time.Duration
}

// NewEmbeddingPipeline creates a new EmbeddingPipeline instance
func NewEmbeddingPipeline(
	chunkerClient chunker.Client,
	embedder EmbeddingClient,
	resourceRepo PipelineResourceRepository,
	chunkRepo PipelineChunkRepository,
	publisher ProgressPublisher,
) *EmbeddingPipeline {
	return &EmbeddingPipeline{
		chunker:      chunkerClient,
		embedder:     embedder,
		resourceRepo: resourceRepo,
		chunkRepo:    chunkRepo,
		publisher:    publisher,
		uuidGen:      &DefaultUUIDGenerator{},
		timeout:      DefaultPipelineTimeout,
	}
}

// WithTimeout overrides the wall-clock budget for one cycle.
func (p *EmbeddingPipeline) WithTimeout(timeout time.Duration) *EmbeddingPipeline {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// WithUUIDGen overrides the id generator (for testing).
func (p *EmbeddingPipeline) WithUUIDGen(gen UUIDGenerator) *EmbeddingPipeline {
	p.uuidGen = gen
	return p
}

// strategy is one tier of the fallback cascade. A nil error means the tier
// succeeded with the returned chunk count; an error falls through to the next
// tier unless it is fatal (persistence, timeout).
type strategy struct {
	name string
	run  func(ctx context.Context, res *domain.Resource, channel string) (int, error)
}

// Run executes one ingestion cycle for a resource already in PENDING state.
func (p *EmbeddingPipeline) Run(ctx context.Context, res *domain.Resource) PipelineResult {
	ctx, span := telemetry.StartSpan(ctx, "EmbeddingPipeline.Run", telemetry.SpanAttributes{
		WorkflowID:  res.WorkflowID,
		KnowledgeID: res.KnowledgeID,
		ResourceID:  res.ID,
		Operation:   "ingest",
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	channel := progress.Channel(res.ParentID(), res.Type)

	// A rescrape cycle replaces the previous chunk set; purge before the
	// cascade so the delegated-persist path starts clean too.
	if res.LastScrapedAt != nil {
		if err := p.chunkRepo.DeleteByResource(ctx, res.ID); err != nil {
			fatal := domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to purge previous chunks", err)
			return p.finish(ctx, res, channel, 0, fatal)
		}
	}

	chunksCount, err := p.runCascade(ctx, res, channel)
	return p.finish(ctx, res, channel, chunksCount, err)
}

func (p *EmbeddingPipeline) runCascade(ctx context.Context, res *domain.Resource, channel string) (int, error) {
	strategies := []strategy{
		{name: "delegated-persist", run: p.delegatedPersist},
		{name: "delegated-embed", run: p.delegatedEmbed},
		{name: "chunks-only", run: p.chunksOnly},
	}

	var lastErr error
	for _, s := range strategies {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		count, err := s.run(ctx, res, channel)
		if err == nil {
			return count, nil
		}

		lastErr = err
		if isFatal(err) {
			return 0, err
		}
		log.Printf("pipeline: resource %s tier %s failed, falling back: %v", res.ID, s.name, err)
	}

	return 0, lastErr
}

// delegatedPersist is tier 1: the chunker service chunks, embeds and persists
// directly. The reported count is verified against the actual row count since
// the write happened outside this pipeline's visibility.
func (p *EmbeddingPipeline) delegatedPersist(ctx context.Context, res *domain.Resource, channel string) (int, error) {
	result, err := p.chunker.Process(ctx, p.request(res, channel, true, true))
	if err != nil {
		return 0, err
	}

	if !result.SavedToStore {
		msg := result.SaveError
		if msg == "" {
			msg = "chunker service did not persist chunks"
		}
		return 0, domain.NewDomainError(domain.ErrCodeService, msg)
	}

	count := result.ChunksSaved
	if actual, countErr := p.chunkRepo.CountByResource(ctx, res.ID); countErr == nil && actual != count {
		log.Printf("pipeline: resource %s chunker reported %d chunks saved, store has %d", res.ID, count, actual)
		count = actual
	}
	return count, nil
}

// delegatedEmbed is tier 2: the chunker service chunks and embeds, this
// pipeline persists.
func (p *EmbeddingPipeline) delegatedEmbed(ctx context.Context, res *domain.Resource, channel string) (int, error) {
	result, err := p.chunker.Process(ctx, p.request(res, channel, true, false))
	if err != nil {
		return 0, err
	}

	if result.EmbeddingsError != "" {
		return 0, domain.NewDomainError(domain.ErrCodeService, result.EmbeddingsError)
	}
	if len(result.Embeddings) != len(result.Chunks) {
		return 0, domain.ErrEmbeddingCountMismatch
	}

	return p.persistChunks(ctx, res, result.Chunks, result.Embeddings)
}

// chunksOnly is tier 3: the chunker service only chunks; embeddings come from
// a direct batch call to the embedding model.
func (p *EmbeddingPipeline) chunksOnly(ctx context.Context, res *domain.Resource, channel string) (int, error) {
	result, err := p.chunker.Process(ctx, p.request(res, channel, false, false))
	if err != nil {
		return 0, err
	}

	if len(result.Chunks) == 0 {
		// Empty extraction flows through as a zero-chunk success.
		return 0, nil
	}

	embeddings, err := p.embedder.GenerateEmbeddings(ctx, result.Chunks)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeService, "embedding generation failed", err)
	}
	if len(embeddings) != len(result.Chunks) {
		return 0, domain.ErrEmbeddingCountMismatch
	}

	p.reportProgress(ctx, res, channel, len(result.Chunks))

	return p.persistChunks(ctx, res, result.Chunks, embeddings)
}

func (p *EmbeddingPipeline) request(res *domain.Resource, channel string, embed, save bool) chunker.Request {
	return chunker.Request{
		Resource:           res,
		GenerateEmbeddings: embed,
		SaveToStore:        save,
		WorkflowID:         res.WorkflowID,
		OnProgress: func(processed, total int) {
			p.reportProgress(context.Background(), res, channel, processed)
		},
	}
}

func (p *EmbeddingPipeline) persistChunks(ctx context.Context, res *domain.Resource, chunks []string, embeddings [][]float32) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	rows := make([]domain.Chunk, 0, len(chunks))
	createdAt := time.Now().UTC()
	for i, content := range chunks {
		rows = append(rows, domain.Chunk{
			ID:         p.uuidGen.NewString(),
			ResourceID: res.ID,
			WorkflowID: res.WorkflowID,
			Content:    content,
			Embedding:  embeddings[i],
			CreatedAt:  createdAt,
		})
	}

	if err := p.chunkRepo.InsertBatch(ctx, rows); err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to persist chunks", err)
	}
	return len(rows), nil
}

// finish writes the terminal status and publishes the final broadcast. Both
// happen exactly once per cycle, for success and failure alike, on a context
// detached from the pipeline's deadline so a timed-out cycle can still record
// its outcome.
func (p *EmbeddingPipeline) finish(ctx context.Context, res *domain.Resource, channel string, chunksCount int, cascadeErr error) PipelineResult {
	status := domain.ResourceStatusProcessed
	resultErr := cascadeErr
	if cascadeErr != nil {
		status = domain.ResourceStatusFailed
		if errors.Is(cascadeErr, context.DeadlineExceeded) {
			resultErr = fmt.Errorf("%w (%s)", domain.ErrPipelineTimeout, p.timeout)
		}
		chunksCount = 0
	}

	terminalCtx := context.WithoutCancel(ctx)

	if err := p.resourceRepo.UpdateStatus(terminalCtx, res.ID, status); err != nil {
		log.Printf("pipeline: failed to write terminal status for resource %s: %v", res.ID, err)
		if resultErr == nil {
			status = domain.ResourceStatusFailed
			resultErr = domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to write terminal status", err)
			// Best effort: the store may still accept the failure status.
			_ = p.resourceRepo.UpdateStatus(terminalCtx, res.ID, status)
		}
	}

	if res.Type == domain.ResourceTypeLink {
		if err := p.resourceRepo.MarkScraped(terminalCtx, res.ID, time.Now().UTC()); err != nil {
			log.Printf("pipeline: failed to mark resource %s scraped: %v", res.ID, err)
		}
	}

	update := progress.ResourceUpdate{
		ResourceID:   res.ID,
		Status:       progress.StatusPtr(status),
		Title:        progress.StringPtr(res.Title()),
		ChunksLength: progress.IntPtr(chunksCount),
		FileSize:     progress.Int64Ptr(res.FileSize),
	}
	if err := p.publisher.PublishUpdate(terminalCtx, channel, update); err != nil {
		log.Printf("pipeline: failed to publish terminal update for resource %s: %v", res.ID, err)
	}

	return PipelineResult{
		ResourceID:  res.ID,
		Title:       res.Title(),
		ChunksCount: chunksCount,
		Status:      status,
		Err:         resultErr,
	}
}

func (p *EmbeddingPipeline) reportProgress(ctx context.Context, res *domain.Resource, channel string, processed int) {
	delta := progress.ProcessedChunksDelta{ResourceID: res.ID, ProcessedChunks: processed}
	if err := p.publisher.PublishProcessedChunks(ctx, channel, delta); err != nil {
		log.Printf("pipeline: failed to publish progress for resource %s: %v", res.ID, err)
	}
}

// isFatal reports whether a cascade error must not fall through to the next
// tier: persistence failures and an exhausted time budget end the cycle.
func isFatal(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == domain.ErrCodePersistence || domainErr.Code == domain.ErrCodeTimeout
	}
	return false
}
