package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/itzam-ai/itzam-sub000/internal/telemetry"
)

// ResourceRepositoryInterface defines the repository interface for resource persistence
type ResourceRepositoryInterface interface {
	Create(ctx context.Context, res *domain.Resource) error
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
	ListByKnowledge(ctx context.Context, knowledgeID string) ([]*domain.Resource, error)
	ListByContext(ctx context.Context, contextID string) ([]*domain.Resource, error)
	UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error
	MarkScraped(ctx context.Context, id string, scrapedAt time.Time) error
	ResetForRescrape(ctx context.Context, id string) (*domain.Resource, error)
	ClaimDueLinks(ctx context.Context, limit int) ([]*domain.Resource, error)
	Delete(ctx context.Context, id string) error
}

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	InsertBatch(ctx context.Context, chunks []domain.Chunk) error
	CountByResource(ctx context.Context, resourceID string) (int, error)
	DeleteByResource(ctx context.Context, resourceID string) error
	ListByResource(ctx context.Context, resourceID string) ([]*domain.Chunk, error)
}

// PipelineRunner runs one ingestion cycle for one resource.
type PipelineRunner interface {
	Run(ctx context.Context, res *domain.Resource) PipelineResult
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator issues time-ordered UUIDv7 ids so resource and chunk
// rows sort by creation time.
type DefaultUUIDGenerator struct{}

// NewString generates a new UUIDv7 string
func (g *DefaultUUIDGenerator) NewString() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RegistrarService validates ingestion requests, creates resource rows and
// fans out one independent embedding pipeline per resource.
type RegistrarService struct {
	resourceRepo ResourceRepositoryInterface
	txRunner     TxRunner
	pipeline     PipelineRunner
	uuidGen      UUIDGenerator
	uploads      *UploadService
}

// NewRegistrarService creates a new RegistrarService instance
func NewRegistrarService(
	resourceRepo ResourceRepositoryInterface,
	txRunner TxRunner,
	pipeline PipelineRunner,
) *RegistrarService {
	return &RegistrarService{
		resourceRepo: resourceRepo,
		txRunner:     txRunner,
		pipeline:     pipeline,
		uuidGen:      &DefaultUUIDGenerator{},
	}
}

// NewRegistrarServiceWithUUIDGen creates a RegistrarService with a custom id generator (for testing)
func NewRegistrarServiceWithUUIDGen(
	resourceRepo ResourceRepositoryInterface,
	txRunner TxRunner,
	pipeline PipelineRunner,
	uuidGen UUIDGenerator,
) *RegistrarService {
	return &RegistrarService{
		resourceRepo: resourceRepo,
		txRunner:     txRunner,
		pipeline:     pipeline,
		uuidGen:      uuidGen,
	}
}

// WithUploads attaches blob storage handling: FILE resources referencing a
// storage key get their metadata backfilled on ingest and their blob removed
// on delete.
func (s *RegistrarService) WithUploads(uploads *UploadService) *RegistrarService {
	s.uploads = uploads
	return s
}

// ResourceInput describes one resource to ingest.
type ResourceInput struct {
	ID              string
	Type            domain.ResourceType
	URL             string
	FileName        string
	MimeType        string
	FileSize        int64
	ScrapeFrequency domain.ScrapeFrequency
}

// IngestInput is one ingestion request. Exactly one of KnowledgeID/ContextID
// must be set.
type IngestInput struct {
	Resources   []ResourceInput
	KnowledgeID string
	ContextID   string
	WorkflowID  string
	UserID      string
}

// IngestSummary aggregates the per-resource outcomes of a batch.
type IngestSummary struct {
	Total     int
	Processed int
	Failed    int
}

// IngestOutput is the ingestion response: the created rows, the settled
// per-pipeline results and a summary.
type IngestOutput struct {
	Success   bool
	Resources []*domain.Resource
	Results   []PipelineResult
	Summary   IngestSummary
}

// Ingest validates the batch, creates all resource rows in one transaction,
// then launches one embedding pipeline per resource concurrently. The fan-in
// settles every pipeline: an individual failure never aborts the batch.
func (s *RegistrarService) Ingest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrarService.Ingest", telemetry.SpanAttributes{
		WorkflowID:  input.WorkflowID,
		KnowledgeID: input.KnowledgeID,
		Operation:   "ingest",
	})
	defer span.End()

	if err := validateIngestInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	resources := make([]*domain.Resource, 0, len(input.Resources))
	for _, in := range input.Resources {
		id := in.ID
		if id == "" {
			id = s.uuidGen.NewString()
		}
		frequency := in.ScrapeFrequency
		if frequency == "" {
			frequency = domain.ScrapeFrequencyNever
		}
		res := &domain.Resource{
			ID:              id,
			Type:            in.Type,
			URL:             in.URL,
			FileName:        in.FileName,
			MimeType:        in.MimeType,
			FileSize:        in.FileSize,
			Status:          domain.ResourceStatusPending,
			KnowledgeID:     input.KnowledgeID,
			ContextID:       input.ContextID,
			WorkflowID:      input.WorkflowID,
			ScrapeFrequency: frequency,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := domain.ValidateResource(res); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid resource descriptor", err)
		}
		s.backfillBlobMetadata(ctx, res)
		resources = append(resources, res)
	}

	// All rows land in one transaction: either the whole batch registers or
	// nothing does.
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		for _, res := range resources {
			if err := repos.Resources().Create(ctx, res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to register resources", err)
	}

	results := s.settleAll(ctx, resources)

	return &IngestOutput{
		Success:   true,
		Resources: resources,
		Results:   results,
		Summary:   summarize(results),
	}, nil
}

// settleAll fans out one pipeline goroutine per resource and collects every
// outcome, success or failure. Sibling pipelines share no mutable state and
// no ordering.
func (s *RegistrarService) settleAll(ctx context.Context, resources []*domain.Resource) []PipelineResult {
	results := make([]PipelineResult, len(resources))

	var wg sync.WaitGroup
	for i, res := range resources {
		wg.Add(1)
		go func(i int, res *domain.Resource) {
			defer wg.Done()
			results[i] = s.pipeline.Run(ctx, res)
		}(i, res)
	}
	wg.Wait()

	return results
}

func summarize(results []PipelineResult) IngestSummary {
	summary := IngestSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case domain.ResourceStatusProcessed:
			summary.Processed++
		case domain.ResourceStatusFailed:
			summary.Failed++
		}
	}
	return summary
}

// Rescrape moves a LINK resource back to PENDING and runs a fresh ingestion
// cycle against the same resource id.
func (s *RegistrarService) Rescrape(ctx context.Context, resourceID string) (*PipelineResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrarService.Rescrape", telemetry.SpanAttributes{
		ResourceID: resourceID,
		Operation:  "rescrape",
	})
	defer span.End()

	res, err := s.resourceRepo.ResetForRescrape(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	result := s.pipeline.Run(ctx, res)
	return &result, nil
}

// GetByID retrieves a resource by ID
func (s *RegistrarService) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	return s.resourceRepo.GetByID(ctx, id)
}

// ListByKnowledge lists the resources attached to a knowledge base
func (s *RegistrarService) ListByKnowledge(ctx context.Context, knowledgeID string) ([]*domain.Resource, error) {
	return s.resourceRepo.ListByKnowledge(ctx, knowledgeID)
}

// ListByContext lists the resources attached to a context
func (s *RegistrarService) ListByContext(ctx context.Context, contextID string) ([]*domain.Resource, error) {
	return s.resourceRepo.ListByContext(ctx, contextID)
}

// Delete removes a resource and, via cascade, its chunks. The stored blob of
// a FILE resource is removed best-effort: the row disappears even when the
// blob delete fails.
func (s *RegistrarService) Delete(ctx context.Context, id string) error {
	res, err := s.resourceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if s.uploads != nil && res.Type == domain.ResourceTypeFile && IsStorageKey(res.URL) {
		if err := s.uploads.DeleteBlob(ctx, strings.TrimPrefix(res.URL, "/")); err != nil {
			log.Printf("registrar: failed to delete blob for resource %s: %v", id, err)
		}
	}

	return s.resourceRepo.Delete(ctx, id)
}

// backfillBlobMetadata fills in fileSize and mimeType for FILE resources
// whose blob is already in storage but whose descriptor omitted them.
// Best-effort: a missing or unreachable blob surfaces later as an empty
// extraction, not as a registration failure.
func (s *RegistrarService) backfillBlobMetadata(ctx context.Context, res *domain.Resource) {
	if s.uploads == nil || res.Type != domain.ResourceTypeFile || !IsStorageKey(res.URL) {
		return
	}
	if res.FileSize != 0 && res.MimeType != "" {
		return
	}

	meta, err := s.uploads.Verify(ctx, strings.TrimPrefix(res.URL, "/"))
	if err != nil {
		log.Printf("registrar: could not verify blob for resource %s: %v", res.ID, err)
		return
	}
	if res.FileSize == 0 {
		res.FileSize = meta.ContentLength
	}
	if res.MimeType == "" {
		res.MimeType = meta.ContentType
	}
}

func validateIngestInput(input IngestInput) error {
	if len(input.Resources) == 0 {
		return domain.ErrEmptyResourceBatch
	}
	if input.WorkflowID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "workflowId is required")
	}
	if (input.KnowledgeID == "") == (input.ContextID == "") {
		return domain.NewDomainError(domain.ErrCodeValidation, "exactly one of knowledgeId or contextId is required")
	}

	for _, in := range input.Resources {
		if in.Type != domain.ResourceTypeFile && in.Type != domain.ResourceTypeLink {
			return domain.NewDomainError(domain.ErrCodeValidation, "resource type must be FILE or LINK")
		}
		if in.URL == "" {
			return domain.NewDomainError(domain.ErrCodeValidation, "resource url is required")
		}
		if in.Type == domain.ResourceTypeFile && in.FileName == "" {
			return domain.NewDomainError(domain.ErrCodeValidation, "fileName is required for FILE resources")
		}
		if in.Type == domain.ResourceTypeFile && in.ScrapeFrequency != "" && in.ScrapeFrequency != domain.ScrapeFrequencyNever {
			return domain.NewDomainError(domain.ErrCodeValidation, "scrapeFrequency applies to LINK resources only")
		}
	}
	return nil
}
