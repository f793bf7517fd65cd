package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"litsearch/internal/config"
	"litsearch/internal/models"
	"litsearch/internal/providers"
	"litsearch/internal/storage"
	"litsearch/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocs struct {
	mu      sync.Mutex
	texts   map[int64]string
	missing []int64
	errs    map[int64]error
}

func (f *fakeDocs) GetFullText(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return "", err
	}
	return f.texts[id], nil
}

func (f *fakeDocs) IDsWithoutChunks(context.Context) ([]int64, error) {
	return f.missing, nil
}

type fakeChunks struct {
	mu         sync.Mutex
	has        bool
	deleted    []storage.ChunkKey
	upserts    [][]models.Chunk
	chunkedIDs []int64
	cleared    int64
	clearCalls int
	table      map[string]models.Chunk
}

func chunkRowKey(c models.Chunk) string {
	return fmt.Sprintf("%d/%d/%d/%d/%d", c.DocumentID, c.ModelID, c.ChunkSize, c.ChunkOverlap, c.ChunkNo)
}

func (f *fakeChunks) HasChunks(context.Context, storage.ChunkKey) (bool, error) {
	return f.has, nil
}

func (f *fakeChunks) DeleteChunks(_ context.Context, key storage.ChunkKey) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	var removed int64
	for k, c := range f.table {
		if c.DocumentID == key.DocumentID && c.ModelID == key.ModelID &&
			c.ChunkSize == key.ChunkSize && c.ChunkOverlap == key.ChunkOverlap {
			delete(f.table, k)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeChunks) UpsertChunks(_ context.Context, rows []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, rows)
	if f.table == nil {
		f.table = make(map[string]models.Chunk)
	}
	for _, c := range rows {
		f.table[chunkRowKey(c)] = c
	}
	return nil
}

func (f *fakeChunks) ChunkedDocumentIDs(context.Context) ([]int64, error) {
	return f.chunkedIDs, nil
}

func (f *fakeChunks) ClearAll(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return f.cleared, nil
}

func (f *fakeChunks) liveRows() []models.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Chunk, 0, len(f.table))
	for _, c := range f.table {
		out = append(out, c)
	}
	return out
}

func (f *fakeChunks) allRows() []models.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chunk
	for _, batch := range f.upserts {
		out = append(out, batch...)
	}
	return out
}

type fakeModels struct {
	mu   sync.Mutex
	dims []int
}

func (f *fakeModels) GetOrCreate(context.Context, string) (int, error) { return 1, nil }

func (f *fakeModels) ObserveDimension(_ context.Context, _, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dims = append(f.dims, dim)
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []models.QueueEntry
	done    []int64
	failed  map[int64]string
	depth   int64
}

func (f *fakeQueue) Enqueue(_ context.Context, id int64, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, models.QueueEntry{DocumentID: id})
	return nil
}

func (f *fakeQueue) NextBatch(_ context.Context, batchSize, _ int) ([]models.QueueEntry, error) {
	if len(f.entries) > batchSize {
		return f.entries[:batchSize], nil
	}
	return f.entries, nil
}

func (f *fakeQueue) MarkDone(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, id)
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, id int64, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = cause
	return nil
}

func (f *fakeQueue) ListStuck(context.Context, int) ([]models.QueueEntry, error) { return nil, nil }

func (f *fakeQueue) Depth(context.Context, int) (int64, error) { return f.depth, nil }

type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	fn    func(texts []string) ([][]float32, error)
	calls [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Info() providers.BackendInfo {
	return providers.BackendInfo{Name: "fake", Model: "fake-embed"}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ChunkSize:        100,
		ChunkOverlap:     20,
		EmbedModel:       "fake-embed",
		EmbedBatchSize:   4,
		QueueBatchSize:   10,
		QueueMaxAttempts: 5,
		QueueWorkers:     2,
		DataOutRoot:      t.TempDir(),
	}
}

func newTestService(t *testing.T, cfg config.Config, docs *fakeDocs, chunks *fakeChunks, queue *fakeQueue, emb *fakeEmbedder) (*Service, *fakeModels) {
	t.Helper()
	mdl := &fakeModels{}
	svc, err := NewService(cfg, docs, chunks, mdl, queue, emb, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, mdl
}

func longText() string {
	return strings.Repeat("alpha beta gamma delta. ", 20)
}

func TestChunkAndEmbedWritesChunks(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	svc, mdl := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.NoError(t, err)
	require.Greater(t, n, 1)

	rows := chunks.allRows()
	require.Len(t, rows, n)
	for i, row := range rows {
		assert.Equal(t, int64(1), row.DocumentID)
		assert.Equal(t, 1, row.ModelID)
		assert.Equal(t, 100, row.ChunkSize)
		assert.Equal(t, 20, row.ChunkOverlap)
		assert.Equal(t, i, row.ChunkNo)
		assert.NotEmpty(t, row.Embedding)
	}
	require.Len(t, mdl.dims, 1)
	assert.Equal(t, 2, mdl.dims[0])
}

func TestChunkAndEmbedEmptyDocumentIsNoop(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: "   \n\t "}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, chunks.upserts)
	assert.Empty(t, emb.calls)
}

func TestChunkAndEmbedSkipsExistingWithoutOverwrite(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{has: true}
	emb := &fakeEmbedder{dim: 2}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, chunks.upserts)
	assert.Empty(t, chunks.deleted)
}

func TestChunkAndEmbedOverwriteDeletesFirst(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{has: true}
	emb := &fakeEmbedder{dim: 2}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, true)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Len(t, chunks.deleted, 1)
	assert.Equal(t, storage.ChunkKey{DocumentID: 1, ModelID: 1, ChunkSize: 100, ChunkOverlap: 20}, chunks.deleted[0])
}

func TestChunkAndEmbedRerunReplacesChunks(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n1, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, true)
	require.NoError(t, err)
	require.Greater(t, n1, 0)

	n2, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, true)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	// Same key both times, and the stored rows are replaced, not duplicated.
	require.Len(t, chunks.deleted, 2)
	assert.Equal(t, chunks.deleted[0], chunks.deleted[1])
	assert.Len(t, chunks.liveRows(), n1)
}

func TestChunkAndEmbedBatchesAndSkipsFailedChunks(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	// Every batch embeds except its first slot.
	emb.fn = func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := 1; i < len(texts); i++ {
			out[i] = []float32{0.5}
		}
		return out, nil
	}
	cfg := testConfig(t)
	cfg.EmbedBatchSize = 2
	svc, _ := newTestService(t, cfg, docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.NoError(t, err)
	require.Greater(t, len(emb.calls), 1, "chunks should be embedded in multiple batches")
	for _, call := range emb.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
	// One chunk dropped per batch, the rest persisted.
	total := 0
	for _, call := range emb.calls {
		total += len(call)
	}
	assert.Equal(t, total-len(emb.calls), n)
}

func TestChunkAndEmbedSurvivesFailedBatch(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	// First batch comes back all-absent; the rest embed normally.
	var calls, lost int
	emb.fn = func(texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			lost = len(texts)
			return make([][]float32, len(texts)), fmt.Errorf("%w: backend down", util.ErrNoEmbedding)
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1, 0.2}
		}
		return out, nil
	}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	n, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.NoError(t, err)
	require.Greater(t, calls, 1)

	var total int
	for _, batch := range emb.calls {
		total += len(batch)
	}
	assert.Equal(t, total-lost, n)
	require.Len(t, chunks.allRows(), n)
}

func TestChunkAndEmbedFailsWhenNothingEmbeds(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2, fn: func(texts []string) ([][]float32, error) {
		return make([][]float32, len(texts)), fmt.Errorf("%w: backend down", util.ErrNoEmbedding)
	}}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	_, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrNoEmbedding)
	assert.Empty(t, chunks.upserts)
	require.Greater(t, len(emb.calls), 1)
}

func TestChunkAndEmbedAbortsOnUnexpectedEmbedError(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText()}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2, fn: func([]string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, emb)

	_, err := svc.ChunkAndEmbed(context.Background(), 1, Params{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, chunks.upserts)
	assert.Len(t, emb.calls, 1)
}

func TestProcessQueueMarksDoneAndFailed(t *testing.T) {
	docs := &fakeDocs{
		texts: map[int64]string{1: longText(), 3: longText()},
		errs:  map[int64]error{2: errors.New("document vanished")},
	}
	queue := &fakeQueue{entries: []models.QueueEntry{
		{DocumentID: 1}, {DocumentID: 2}, {DocumentID: 3},
	}}
	chunks := &fakeChunks{}
	emb := &fakeEmbedder{dim: 2}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, queue, emb)

	report, err := svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Greater(t, report.ChunksWritten, 0)

	assert.ElementsMatch(t, []int64{1, 3}, queue.done)
	require.Contains(t, queue.failed, int64(2))
	assert.Contains(t, queue.failed[2], "document vanished")
}

func TestProcessQueueEmpty(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t), &fakeDocs{}, &fakeChunks{}, &fakeQueue{}, &fakeEmbedder{dim: 2})

	report, err := svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, report.Succeeded)
}

func TestRechunkAllExistingClearsThenRebuilds(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{1: longText(), 2: longText()}}
	chunks := &fakeChunks{chunkedIDs: []int64{1, 2}, cleared: 7}
	emb := &fakeEmbedder{dim: 2}
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, docs, chunks, &fakeQueue{}, emb)

	report, err := svc.RechunkAll(context.Background(), ModeRechunkExisting, Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, chunks.clearCalls)
	assert.Equal(t, int64(7), report.ChunksCleared)
	assert.Equal(t, 2, report.Planned)
	assert.Equal(t, 2, report.Processed)
	assert.Empty(t, report.FailedIDs)
	assert.Greater(t, report.ChunksWritten, 0)

	// The run report lands on disk as JSON.
	require.NotEmpty(t, report.ArtifactPath)
	assert.Equal(t, filepath.Join(cfg.DataOutRoot, "rechunk"), filepath.Dir(report.ArtifactPath))
	_, statErr := os.Stat(report.ArtifactPath)
	assert.NoError(t, statErr)
}

func TestRechunkAllIsolatesDocumentFailures(t *testing.T) {
	docs := &fakeDocs{
		texts: map[int64]string{1: longText(), 3: longText()},
		errs:  map[int64]error{2: errors.New("boom")},
	}
	chunks := &fakeChunks{chunkedIDs: []int64{1, 2, 3}}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, &fakeEmbedder{dim: 2})

	report, err := svc.RechunkAll(context.Background(), ModeRechunkExisting, Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, []int64{2}, report.FailedIDs)
}

func TestRechunkAllMissingSkipsClear(t *testing.T) {
	docs := &fakeDocs{texts: map[int64]string{5: longText()}, missing: []int64{5}}
	chunks := &fakeChunks{}
	svc, _ := newTestService(t, testConfig(t), docs, chunks, &fakeQueue{}, &fakeEmbedder{dim: 2})

	report, err := svc.RechunkAll(context.Background(), ModeChunkMissing, Params{})
	require.NoError(t, err)
	assert.Zero(t, chunks.clearCalls)
	assert.Equal(t, 1, report.Planned)
	assert.Equal(t, 1, report.Processed)
}

func TestRechunkAllUnknownMode(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t), &fakeDocs{}, &fakeChunks{}, &fakeQueue{}, &fakeEmbedder{dim: 2})

	_, err := svc.RechunkAll(context.Background(), Mode("everything"), Params{})
	require.Error(t, err)
}
