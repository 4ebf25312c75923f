//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChunks(t *testing.T, repo *ChunkRepository, resourceID string, contents ...string) {
	t.Helper()
	chunks := make([]domain.Chunk, 0, len(contents))
	for i, content := range contents {
		embedding := make([]float32, 1536)
		embedding[0] = float32(i + 1)
		chunks = append(chunks, domain.Chunk{
			ID:         resourceID + "-ch-" + content,
			ResourceID: resourceID,
			WorkflowID: "wf-1",
			Content:    content,
			Embedding:  embedding,
		})
	}
	require.NoError(t, repo.InsertBatch(context.Background(), chunks))
}

func TestChunkRepository_InsertAndList(t *testing.T) {
	pool := setupTestDB(t)
	resources := NewResourceRepository(pool)
	repo := NewChunkRepository(pool)
	ctx := context.Background()

	require.NoError(t, resources.Create(ctx, newFileResource("res-chunks", "kn-1")))
	seedChunks(t, repo, "res-chunks", "alpha", "beta", "gamma")

	got, err := repo.ListByResource(ctx, "res-chunks")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Content)
	assert.Equal(t, "res-chunks", got[0].ResourceID)
	assert.Equal(t, "wf-1", got[0].WorkflowID)
	assert.Len(t, got[0].Embedding, 1536)
	assert.Equal(t, float32(1), got[0].Embedding[0])
}

func TestChunkRepository_CountByResource(t *testing.T) {
	pool := setupTestDB(t)
	resources := NewResourceRepository(pool)
	repo := NewChunkRepository(pool)
	ctx := context.Background()

	require.NoError(t, resources.Create(ctx, newFileResource("res-count", "kn-1")))

	count, err := repo.CountByResource(ctx, "res-count")
	require.NoError(t, err)
	assert.Zero(t, count)

	seedChunks(t, repo, "res-count", "one", "two")

	count, err = repo.CountByResource(ctx, "res-count")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChunkRepository_DeleteByResource(t *testing.T) {
	pool := setupTestDB(t)
	resources := NewResourceRepository(pool)
	repo := NewChunkRepository(pool)
	ctx := context.Background()

	require.NoError(t, resources.Create(ctx, newLinkResource("res-purge", "ctx-1", domain.ScrapeFrequencyDaily)))
	require.NoError(t, resources.Create(ctx, newLinkResource("res-keep", "ctx-1", domain.ScrapeFrequencyDaily)))
	seedChunks(t, repo, "res-purge", "old-a", "old-b")
	seedChunks(t, repo, "res-keep", "kept")

	require.NoError(t, repo.DeleteByResource(ctx, "res-purge"))

	count, err := repo.CountByResource(ctx, "res-purge")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Purging one resource never touches a sibling's chunks.
	count, err = repo.CountByResource(ctx, "res-keep")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Purging an empty resource is a no-op, not an error.
	assert.NoError(t, repo.DeleteByResource(ctx, "res-purge"))
}
