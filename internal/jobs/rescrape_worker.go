package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/itzam-ai/itzam-sub000/internal/service"
)

const (
	// DefaultClaimBatchSize caps how many due links one poll cycle claims
	DefaultClaimBatchSize = 10
)

// LinkClaimer claims LINK resources whose scrape interval has elapsed
type LinkClaimer interface {
	ClaimDueLinks(ctx context.Context, limit int) ([]*domain.Resource, error)
}

// RescrapeProcessor re-ingests periodic LINK resources. Each poll claims a
// batch of due links and runs a fresh pipeline cycle for each.
type RescrapeProcessor struct {
	claimer   LinkClaimer
	pipeline  service.PipelineRunner
	batchSize int
}

// NewRescrapeProcessor creates a new RescrapeProcessor instance
func NewRescrapeProcessor(claimer LinkClaimer, pipeline service.PipelineRunner) *RescrapeProcessor {
	return &RescrapeProcessor{
		claimer:   claimer,
		pipeline:  pipeline,
		batchSize: DefaultClaimBatchSize,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *RescrapeProcessor) ProcessJobs(ctx context.Context) error {
	resources, err := w.claimer.ClaimDueLinks(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due links: %w", err)
	}

	if len(resources) == 0 {
		return nil
	}

	log.Printf("Rescraping %d due links", len(resources))

	for _, res := range resources {
		result := w.pipeline.Run(ctx, res)
		if result.Err != nil {
			log.Printf("Rescrape of resource %s failed: %v", res.ID, result.Err)
			continue
		}
		log.Printf("Rescrape of resource %s completed with %d chunks", res.ID, result.ChunksCount)
	}

	return nil
}
