package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/itzam-ai/itzam-sub000/internal/converter"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f.data, f.err
}

type fakeEmbedder struct {
	err     error
	batches [][]string
}

func (f *fakeEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.5}
	}
	return out, nil
}

type fakeStore struct {
	inserted []domain.Chunk
	err      error
}

func (f *fakeStore) InsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}

func newLocalChunker(fetcher *fakeFetcher, embedder *fakeEmbedder, store *fakeStore) *Local {
	return NewLocal(fetcher, converter.NewConverter(), embedder, store)
}

func TestLocal_Process_ChunksOnly(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	local := newLocalChunker(fetcher, &fakeEmbedder{}, &fakeStore{})

	result, err := local.Process(context.Background(), Request{Resource: testResource()})

	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "plain text resource content", result.Chunks[0])
	assert.Empty(t, result.Embeddings)
}

func TestLocal_Process_EmbedWithoutSave(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	embedder := &fakeEmbedder{}
	local := newLocalChunker(fetcher, embedder, &fakeStore{})

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
	})

	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	require.Len(t, result.Embeddings, 1)
	assert.False(t, result.SavedToStore)
}

func TestLocal_Process_SaveToStore(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	store := &fakeStore{}
	local := newLocalChunker(fetcher, &fakeEmbedder{}, store)

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
		SaveToStore:        true,
		WorkflowID:         "wf-1",
	})

	require.NoError(t, err)
	assert.True(t, result.SavedToStore)
	assert.Equal(t, 1, result.ChunksSaved)
	require.Len(t, result.ChunkIDs, 1)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "res-1", store.inserted[0].ResourceID)
	assert.Equal(t, "wf-1", store.inserted[0].WorkflowID)
	assert.Equal(t, result.ChunkIDs[0], store.inserted[0].ID)
}

func TestLocal_Process_NoStoreConfigured(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	local := NewLocal(fetcher, converter.NewConverter(), &fakeEmbedder{}, nil)

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
		SaveToStore:        true,
	})

	require.NoError(t, err)
	assert.False(t, result.SavedToStore)
	assert.Equal(t, "no chunk store configured", result.SaveError)
}

func TestLocal_Process_StoreFailureReportedInResult(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	store := &fakeStore{err: errors.New("insert rejected")}
	local := newLocalChunker(fetcher, &fakeEmbedder{}, store)

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
		SaveToStore:        true,
	})

	require.NoError(t, err)
	assert.False(t, result.SavedToStore)
	assert.Equal(t, "insert rejected", result.SaveError)
	// Chunks and embeddings are still returned so a caller can fall back.
	assert.NotEmpty(t, result.Chunks)
	assert.NotEmpty(t, result.Embeddings)
}

func TestLocal_Process_EmbedFailureReportedInResult(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("plain text resource content")}
	embedder := &fakeEmbedder{err: errors.New("rate limited")}
	local := newLocalChunker(fetcher, embedder, &fakeStore{})

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "rate limited", result.EmbeddingsError)
	assert.NotEmpty(t, result.Chunks)
}

func TestLocal_Process_FetchFailureDegradesToZeroChunks(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("404 not found")}
	local := newLocalChunker(fetcher, &fakeEmbedder{}, &fakeStore{})

	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
		SaveToStore:        true,
	})

	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.False(t, result.SavedToStore)
}

func TestLocal_Process_ProgressPerBatch(t *testing.T) {
	// Enough text to split into several chunks so batching is exercised.
	text := strings.Repeat("some words that fill the buffer nicely ", 400)
	fetcher := &fakeFetcher{data: []byte(text)}
	embedder := &fakeEmbedder{}
	local := newLocalChunker(fetcher, embedder, &fakeStore{})

	var deltas []int
	result, err := local.Process(context.Background(), Request{
		Resource:           testResource(),
		GenerateEmbeddings: true,
		OnProgress: func(processed, total int) {
			deltas = append(deltas, processed)
		},
	})

	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	require.NotEmpty(t, deltas)

	// Deltas sum to the chunk total regardless of batch boundaries.
	sum := 0
	for _, d := range deltas {
		sum += d
	}
	assert.Equal(t, len(result.Chunks), sum)
}

func TestLocal_Process_NilResource(t *testing.T) {
	local := newLocalChunker(&fakeFetcher{}, &fakeEmbedder{}, &fakeStore{})

	result, err := local.Process(context.Background(), Request{})

	assert.Nil(t, result)
	assert.Error(t, err)
}
