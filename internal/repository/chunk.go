package repository

import (
	"context"
	"time"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of embedded resource chunks. The chunks
// table is append-only and partitioned by resource_id; concurrent pipelines
// for distinct resources never contend.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertBatch appends one cycle's chunks for a resource.
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks (id, resource_id, workflow_id, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.ResourceID, c.WorkflowID, c.Content, pgvector.NewVector(c.Embedding), createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// CountByResource returns the number of persisted chunks for a resource. Used
// to verify counts reported by the delegated-persist path.
func (r *ChunkRepository) CountByResource(ctx context.Context, resourceID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE resource_id = $1`,
		resourceID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByResource purges a resource's chunks. Called at the start of a
// rescrape cycle so a LINK never accumulates stale chunks.
func (r *ChunkRepository) DeleteByResource(ctx context.Context, resourceID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE resource_id = $1`, resourceID)
	return err
}

// ListByResource returns a resource's chunks in insertion order.
func (r *ChunkRepository) ListByResource(ctx context.Context, resourceID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, resource_id, workflow_id, content, embedding, created_at
		 FROM chunks WHERE resource_id = $1 ORDER BY created_at ASC, id ASC`,
		resourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.WorkflowID, &c.Content, &embedding, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = embedding.Slice()
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
