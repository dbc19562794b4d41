package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/rag/ragtest"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// fakeModel records every prompt and replies with answer, or err.
type fakeModel struct {
	answer string
	err    error
	block  bool

	mu    sync.Mutex
	calls [][]*schema.Message
	temps []*float32
}

func (m *fakeModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{}, opts...)
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.temps = append(m.temps, o.Temperature)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.answer, nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fixture struct {
	engine   *Engine
	model    *fakeModel
	index    *rag.MemoryIndex
	store    *store.SQLiteStore
	embedder *ragtest.HashEmbedder
}

func newFixture(t *testing.T, m *fakeModel, timeout time.Duration) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{model: m, index: rag.NewMemoryIndex(), store: st, embedder: &ragtest.HashEmbedder{Dim: 32}}
	f.engine, err = New(context.Background(), Config{
		ChatModel:       m,
		Embedder:        f.embedder,
		Index:           f.index,
		Messages:        st,
		NamespacePrefix: "chat",
		ProviderTimeout: timeout,
	})
	require.NoError(t, err)

	_, err = st.CreateSession(context.Background(), "s1")
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(t *testing.T, sessionID string, docs map[string]string) {
	t.Helper()
	ctx := context.Background()
	ns := rag.Namespace("chat", sessionID)
	for src, text := range docs {
		vec, err := rag.EmbedOne(ctx, f.embedder, text)
		require.NoError(t, err)
		require.NoError(t, f.index.Upsert(ctx, ns, []rag.Record{{ID: rag.RecordID(ns, src), Vector: vec, Source: src, Text: text}}))
	}
}

func TestAsk_NoDocumentsSkipsModel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "should not be used"}, 0)

	res, err := f.engine.Ask(context.Background(), "s1", "what is in my files?")
	require.NoError(t, err)
	assert.True(t, res.NoDocuments)
	assert.Equal(t, NoDocumentsMessage, res.Answer)
	assert.Zero(t, f.model.callCount())
	assert.Zero(t, f.embedder.Calls())

	msgs, err := f.store.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAsk_PromptAndTemperature(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "  The launch is in March.  "}, time.Second)
	f.seed(t, "s1", map[string]string{"plan.xml": "the launch is scheduled for March"})

	res, err := f.engine.Ask(context.Background(), "s1", "When is the launch?")
	require.NoError(t, err)
	assert.Equal(t, "The launch is in March.", res.Answer)
	require.Len(t, res.Passages, 1)
	assert.Equal(t, "plan.xml", res.Passages[0].Source)

	require.Equal(t, 1, f.model.callCount())
	prompt := f.model.calls[0]
	require.Len(t, prompt, 2)
	assert.Equal(t, schema.System, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "the launch is scheduled for March")
	assert.Contains(t, prompt[0].Content, "not prior knowledge")
	assert.Equal(t, schema.User, prompt[1].Role)
	assert.Equal(t, "When is the launch?", prompt[1].Content)

	require.NotNil(t, f.model.temps[0])
	assert.Zero(t, *f.model.temps[0])
}

func TestAsk_RetrievesAtMostTopK(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "ok"}, 0)
	f.seed(t, "s1", map[string]string{
		"a.xml": "alpha report", "b.xml": "beta report", "c.xml": "gamma report",
		"d.xml": "delta report", "e.xml": "epsilon report",
	})

	res, err := f.engine.Ask(context.Background(), "s1", "report")
	require.NoError(t, err)
	assert.Len(t, res.Passages, TopK)
}

func TestAsk_DoesNotSeeOtherSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "ok"}, 0)
	_, err := f.store.CreateSession(context.Background(), "s2")
	require.NoError(t, err)
	f.seed(t, "s2", map[string]string{"secret.xml": "the vault code is 1234"})

	res, err := f.engine.Ask(context.Background(), "s1", "what is the vault code?")
	require.NoError(t, err)
	assert.True(t, res.NoDocuments)
	assert.Zero(t, f.model.callCount())
}

func TestAsk_TimeoutIsProviderTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{block: true}, 30*time.Millisecond)
	f.seed(t, "s1", map[string]string{"a.xml": "alpha"})

	_, err := f.engine.Ask(context.Background(), "s1", "alpha?")
	require.ErrorIs(t, err, rag.ErrProviderTimeout)
	require.ErrorIs(t, err, rag.ErrGeneration)

	msgs, err := f.store.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAsk_GenerationErrorLogsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{err: errors.New("rate limited")}, 0)
	f.seed(t, "s1", map[string]string{"a.xml": "alpha"})

	_, err := f.engine.Ask(context.Background(), "s1", "alpha?")
	require.ErrorIs(t, err, rag.ErrGeneration)
	assert.NotErrorIs(t, err, rag.ErrProviderTimeout)
	assert.True(t, strings.Contains(err.Error(), "rate limited"))

	msgs, err := f.store.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAsk_EmbeddingFailureIsGenerationError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "ok"}, 0)
	f.seed(t, "s1", map[string]string{"a.xml": "alpha"})
	f.embedder.Err = errors.New("embedding quota exceeded")

	_, err := f.engine.Ask(context.Background(), "s1", "alpha?")
	var pe *rag.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, rag.StageEmbed, pe.Stage)
	assert.Zero(t, f.model.callCount())
}

func TestAsk_TwoQueriesLoggedInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "answer"}, 0)
	f.seed(t, "s1", map[string]string{"a.xml": "alpha"})
	ctx := context.Background()

	_, err := f.engine.Ask(ctx, "s1", "first?")
	require.NoError(t, err)
	_, err = f.engine.Ask(ctx, "s1", "second?")
	require.NoError(t, err)

	msgs, err := f.store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first?", msgs[0].Question)
	assert.Equal(t, "second?", msgs[1].Question)
}

func TestAsk_InputErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "ok"}, 0)

	_, err := f.engine.Ask(context.Background(), "s1", "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = f.engine.Ask(context.Background(), "nope", "hello?")
	require.ErrorIs(t, err, store.ErrUnknownSession)
}

func TestBuildMessages_NumbersPassages(t *testing.T) {
	t.Parallel()
	msgs := BuildMessages("q?", []rag.Passage{
		{Source: "a.pdf", Text: "first"},
		{Source: "b.xml", Text: "second 100%"},
	})
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "[1] a.pdf\nfirst")
	assert.Contains(t, msgs[0].Content, "[2] b.xml\nsecond 100%")
	assert.Equal(t, "q?", msgs[1].Content)
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestAsk_BlankReplyIsGenerationError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeModel{answer: "  \n "}, 0)
	f.seed(t, "s1", map[string]string{"a.xml": "alpha"})

	_, err := f.engine.Ask(context.Background(), "s1", "alpha?")
	var pe *rag.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, rag.StageGenerate, pe.Stage)
	require.ErrorIs(t, err, rag.ErrGeneration)

	msgs, err := f.store.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// stalledIndex never answers a namespace count before its context ends.
type stalledIndex struct {
	rag.VectorIndex
}

func (stalledIndex) DescribeNamespace(ctx context.Context, _ string) (rag.NamespaceStats, error) {
	<-ctx.Done()
	return rag.NamespaceStats{}, ctx.Err()
}

func TestAsk_StalledCountIsProviderTimeout(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.CreateSession(context.Background(), "s1")
	require.NoError(t, err)

	m := &fakeModel{answer: "unused"}
	engine, err := New(context.Background(), Config{
		ChatModel:       m,
		Embedder:        &ragtest.HashEmbedder{Dim: 8},
		Index:           stalledIndex{VectorIndex: rag.NewMemoryIndex()},
		Messages:        st,
		NamespacePrefix: "chat",
		ProviderTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = engine.Ask(context.Background(), "s1", "anything?")
	var pe *rag.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, rag.StageIndex, pe.Stage)
	require.ErrorIs(t, err, rag.ErrProviderTimeout)
	assert.Zero(t, m.callCount())
}
