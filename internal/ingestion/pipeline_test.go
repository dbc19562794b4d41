package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimo/yet-another-chatbot/internal/extract"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/rag/ragtest"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

type fixture struct {
	pipeline *Pipeline
	index    *rag.MemoryIndex
	store    *store.SQLiteStore
	embedder *ragtest.HashEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{index: rag.NewMemoryIndex(), store: st, embedder: &ragtest.HashEmbedder{Dim: 32}}
	f.pipeline, err = NewPipeline(Config{
		Embedder:        f.embedder,
		Index:           f.index,
		Files:           st,
		NamespacePrefix: "chat",
	})
	require.NoError(t, err)
	return f
}

func xmlDoc(body string) []byte {
	return []byte("<doc><p>" + body + "</p></doc>")
}

func TestIngest_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	res, err := f.pipeline.Ingest(ctx, "s1", "notes.xml", xmlDoc("the launch date is March"))
	require.NoError(t, err)
	assert.Equal(t, "chat-s1", res.Namespace)
	assert.Positive(t, res.Chars)

	files, err := f.store.GetFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.xml"}, files)

	stats, err := f.index.DescribeNamespace(ctx, "chat-s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.VectorCount, uint64(1))
}

func TestIngest_UnsupportedFormatHasNoSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, "s1", "report.docx", []byte("PK\x03\x04"))
	require.ErrorIs(t, err, extract.ErrUnsupportedFormat)

	files, err := f.store.GetFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, files)
	stats, err := f.index.DescribeNamespace(ctx, "chat-s1")
	require.NoError(t, err)
	assert.False(t, stats.HasDocuments())
	assert.Zero(t, f.embedder.Calls())
}

func TestIngest_UnknownSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), "missing", "a.xml", xmlDoc("x"))
	require.ErrorIs(t, err, store.ErrUnknownSession)
	assert.Zero(t, f.embedder.Calls())
}

func TestIngest_ExtractionError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, "s1", "broken.pdf", []byte("not a pdf"))
	require.ErrorIs(t, err, extract.ErrExtraction)

	files, err := f.store.GetFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngest_UpsertFailureWritesNoFileRow(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	_, err = st.CreateSession(ctx, "s1")
	require.NoError(t, err)

	idx := &ragtest.FailingIndex{VectorIndex: rag.NewMemoryIndex(), Err: errors.New("qdrant unavailable")}
	p, err := NewPipeline(Config{
		Embedder:        &ragtest.HashEmbedder{},
		Index:           idx,
		Files:           st,
		NamespacePrefix: "chat",
	})
	require.NoError(t, err)

	_, err = p.Ingest(ctx, "s1", "a.xml", xmlDoc("hello"))
	require.ErrorIs(t, err, rag.ErrGeneration)
	assert.Equal(t, 1, idx.Upserts())

	files, err := st.GetFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngest_EmbeddingTimeout(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	_, err = st.CreateSession(ctx, "s1")
	require.NoError(t, err)

	p, err := NewPipeline(Config{
		Embedder:        ragtest.BlockingEmbedder{},
		Index:           rag.NewMemoryIndex(),
		Files:           st,
		NamespacePrefix: "chat",
		ProviderTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = p.Ingest(ctx, "s1", "a.xml", xmlDoc("hello"))
	require.ErrorIs(t, err, rag.ErrProviderTimeout)
}

func TestIngest_SameFilenameReplacesPassage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, "s1", "a.xml", xmlDoc("first version"))
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, "s1", "a.xml", xmlDoc("second version"))
	require.NoError(t, err)

	stats, err := f.index.DescribeNamespace(ctx, "chat-s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.VectorCount)

	files, err := f.store.GetFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestIngest_ConcurrentSessionsStayIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	const sessions = 8
	for i := range sessions {
		_, err := f.store.CreateSession(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	var g errgroup.Group
	for i := range sessions {
		g.Go(func() error {
			id := fmt.Sprintf("s%d", i)
			_, err := f.pipeline.Ingest(ctx, id, id+".xml", xmlDoc("secret of session "+id))
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := range sessions {
		id := fmt.Sprintf("s%d", i)
		vec, err := rag.EmbedOne(ctx, f.embedder, "secret")
		require.NoError(t, err)
		hits, err := f.index.Query(ctx, rag.Namespace("chat", id), vec, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, id+".xml", hits[0].Source)

		files, err := f.store.GetFiles(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{id + ".xml"}, files)
	}
}
