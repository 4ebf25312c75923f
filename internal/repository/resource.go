package repository

import (
	"context"
	"errors"
	"time"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resourceColumns = `id, type, url, file_name, mime_type, file_size, status, knowledge_id, context_id, workflow_id, scrape_frequency, last_scraped_at, created_at, updated_at`

type ResourceRepository struct {
	db dbtx
}

func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{db: pool}
}

func NewResourceRepositoryWithTx(tx pgx.Tx) *ResourceRepository {
	return &ResourceRepository{db: tx}
}

func (r *ResourceRepository) Create(ctx context.Context, res *domain.Resource) error {
	frequency := res.ScrapeFrequency
	if frequency == "" {
		frequency = domain.ScrapeFrequencyNever
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO resources (id, type, url, file_name, mime_type, file_size, status, knowledge_id, context_id, workflow_id, scrape_frequency, last_scraped_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID, res.Type, res.URL, nullableString(res.FileName), nullableString(res.MimeType), res.FileSize,
		res.Status, nullableString(res.KnowledgeID), nullableString(res.ContextID), res.WorkflowID,
		frequency, res.LastScrapedAt, res.CreatedAt, res.UpdatedAt,
	)
	return err
}

func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`,
		id,
	)
	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return res, nil
}

func (r *ResourceRepository) ListByKnowledge(ctx context.Context, knowledgeID string) ([]*domain.Resource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE knowledge_id = $1 ORDER BY created_at ASC`,
		knowledgeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResourceRows(rows)
}

func (r *ResourceRepository) ListByContext(ctx context.Context, contextID string) ([]*domain.Resource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE context_id = $1 ORDER BY created_at ASC`,
		contextID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResourceRows(rows)
}

// UpdateStatus writes the status of one ingestion cycle. The pipeline calls
// this exactly once per cycle with a terminal status.
func (r *ResourceRepository) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE resources SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}

// MarkScraped records the completion time of a LINK scrape cycle.
func (r *ResourceRepository) MarkScraped(ctx context.Context, id string, scrapedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE resources SET last_scraped_at = $1, updated_at = $1 WHERE id = $2`,
		scrapedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}

// ResetForRescrape moves a LINK resource from a terminal state back to
// PENDING, starting a new ingestion cycle under the same id. The guard in the
// WHERE clause enforces the state machine: FILE resources and resources still
// PENDING are not touched.
func (r *ResourceRepository) ResetForRescrape(ctx context.Context, id string) (*domain.Resource, error) {
	row := r.db.QueryRow(
		ctx,
		`UPDATE resources
		 SET status = $1, updated_at = $2
		 WHERE id = $3 AND type = $4 AND status IN ($5, $6)
		 RETURNING `+resourceColumns,
		domain.ResourceStatusPending, time.Now().UTC(), id,
		domain.ResourceTypeLink, domain.ResourceStatusProcessed, domain.ResourceStatusFailed,
	)
	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the resource does not exist or the transition is illegal;
			// disambiguate for the caller.
			existing, getErr := r.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if existing.Type == domain.ResourceTypeLink && existing.Status == domain.ResourceStatusPending {
				return nil, domain.ErrIngestionInFlight
			}
			return nil, domain.ErrRescrapeNotAllowed
		}
		return nil, err
	}
	return res, nil
}

// ClaimDueLinks atomically claims LINK resources whose scrape cadence has
// elapsed, flipping them to PENDING so concurrent workers never pick up the
// same resource twice.
func (r *ResourceRepository) ClaimDueLinks(ctx context.Context, limit int) ([]*domain.Resource, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`WITH due AS (
			 SELECT id
			 FROM resources
			 WHERE type = $1
			   AND status IN ($2, $3)
			   AND scrape_frequency <> $4
			   AND (last_scraped_at IS NULL OR last_scraped_at <= now() - CASE scrape_frequency
			       WHEN 'HOURLY' THEN interval '1 hour'
			       WHEN 'DAILY' THEN interval '1 day'
			       WHEN 'WEEKLY' THEN interval '7 days'
			       END)
			 ORDER BY last_scraped_at ASC NULLS FIRST
			 FOR UPDATE SKIP LOCKED
			 LIMIT $5
		 )
		 UPDATE resources
		 SET status = $6, updated_at = now()
		 FROM due
		 WHERE resources.id = due.id
		 RETURNING resources.id, resources.type, resources.url, resources.file_name, resources.mime_type,
		           resources.file_size, resources.status, resources.knowledge_id, resources.context_id,
		           resources.workflow_id, resources.scrape_frequency, resources.last_scraped_at,
		           resources.created_at, resources.updated_at`,
		domain.ResourceTypeLink, domain.ResourceStatusProcessed, domain.ResourceStatusFailed,
		domain.ScrapeFrequencyNever, limit, domain.ResourceStatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResourceRows(rows)
}

// Delete removes a resource; its chunks go with it via ON DELETE CASCADE.
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}

func scanResource(row pgx.Row) (*domain.Resource, error) {
	var res domain.Resource
	var fileName, mimeType, knowledgeID, contextID *string
	err := row.Scan(
		&res.ID, &res.Type, &res.URL, &fileName, &mimeType, &res.FileSize, &res.Status,
		&knowledgeID, &contextID, &res.WorkflowID, &res.ScrapeFrequency, &res.LastScrapedAt,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fileName != nil {
		res.FileName = *fileName
	}
	if mimeType != nil {
		res.MimeType = *mimeType
	}
	if knowledgeID != nil {
		res.KnowledgeID = *knowledgeID
	}
	if contextID != nil {
		res.ContextID = *contextID
	}
	return &res, nil
}

func scanResourceRows(rows pgx.Rows) ([]*domain.Resource, error) {
	var resources []*domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}
