package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimo/yet-another-chatbot/internal/ingestion"
	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/qa"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/rag/ragtest"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// echoModel answers with the system prompt it was given, so tests can see
// which passages reached the model. err and block force failures.
type echoModel struct {
	err   error
	block bool
	calls atomic.Int64
}

func (m *echoModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls.Add(1)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(in[0].Content, nil), nil
}

func (m *echoModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *store.SQLiteStore
	model   *echoModel
	reg     *prometheus.Registry
}

type envOption func(*Config, *qa.Config)

func newTestEnv(t *testing.T, m *echoModel, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	idx := rag.NewMemoryIndex()
	emb := &ragtest.HashEmbedder{Dim: 64}

	qcfg := qa.Config{ChatModel: m, Embedder: emb, Index: idx, Messages: st, NamespacePrefix: "chat"}
	reg := prometheus.NewRegistry()
	cfg := &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimit:       1000,
		RateBurst:       1000,
	}
	for _, o := range opts {
		o(cfg, &qcfg)
	}

	engine, err := qa.New(ctx, qcfg)
	if err != nil {
		t.Fatalf("qa: %v", err)
	}
	pipeline, err := ingestion.NewPipeline(ingestion.Config{
		Embedder:        emb,
		Index:           idx,
		Files:           st,
		NamespacePrefix: "chat",
		ProviderTimeout: qcfg.ProviderTimeout,
	})
	if err != nil {
		t.Fatalf("ingestion: %v", err)
	}

	s, err := New(engine, pipeline, st, cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &testEnv{srv: s, handler: s.Handler(), store: st, model: m, reg: reg}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func askRequest(sessionID, question string) *http.Request {
	body := url.Values{"question": {question}}.Encode()
	req := httptest.NewRequest(http.MethodPut, "/chats/"+sessionID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func xmlDoc(text string) []byte {
	return []byte("<notes><note>" + text + "</note></notes>")
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestChatLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	w := env.do(t, uploadRequest(t, "/chats", "notes.xml", xmlDoc("the rollout starts on the ninth of May")))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /chats: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[createChatResponse](t, w.Body)
	if !sessionIDPattern.MatchString(created.SessionID) {
		t.Errorf("session id %q is not 32 lowercase hex chars", created.SessionID)
	}
	if len(created.Files) != 1 || created.Files[0] != "notes.xml" {
		t.Errorf("files: got %v", created.Files)
	}

	w = env.do(t, askRequest(created.SessionID, "When does the rollout start?"))
	if w.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	answer := decode[askResponse](t, w.Body)
	if !strings.Contains(answer.Answer, "ninth of May") {
		t.Errorf("answer should be grounded in the upload, got %q", answer.Answer)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/chats/"+created.SessionID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET chat: expected 200, got %d", w.Code)
	}
	chat := decode[chatResponse](t, w.Body)
	if chat.SessionID != created.SessionID || len(chat.Files) != 1 {
		t.Errorf("unexpected chat: %+v", chat)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].Question != "When does the rollout start?" {
		t.Errorf("messages: got %+v", chat.Messages)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/chats", nil))
	sessions := decode[[]store.Session](t, w.Body)
	if len(sessions) != 1 || sessions[0].ID != created.SessionID {
		t.Errorf("sessions: got %+v", sessions)
	}
}

func TestCreateChat_UnsupportedFormatCreatesNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	w := env.do(t, uploadRequest(t, "/chats", "report.docx", []byte("PK\x03\x04")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[map[string]string](t, w.Body)
	if !strings.Contains(body["error"], "unsupported") {
		t.Errorf("error message: %q", body["error"])
	}

	sessions, err := env.store.GetSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestCreateChat_BadUploads(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{}, func(c *Config, _ *qa.Config) { c.MaxUploadBytes = 1024 })

	// No multipart body.
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("non-multipart: expected 400, got %d", w.Code)
	}

	// Oversized upload.
	big := xmlDoc(strings.Repeat("word ", 1000))
	if w := env.do(t, uploadRequest(t, "/chats", "big.xml", big)); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: expected 413, got %d", w.Code)
	}

	// Malformed document.
	if w := env.do(t, uploadRequest(t, "/chats", "broken.xml", []byte("<a><b>"))); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed: expected 422, got %d", w.Code)
	}
}

func TestAddFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	w := env.do(t, uploadRequest(t, "/chats", "a.xml", xmlDoc("alpha")))
	created := decode[createChatResponse](t, w.Body)

	w = env.do(t, uploadRequest(t, "/chats/"+created.SessionID+"/files", "b.xml", xmlDoc("beta")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[createChatResponse](t, w.Body)
	if strings.Join(resp.Files, ",") != "a.xml,b.xml" {
		t.Errorf("files: got %v", resp.Files)
	}

	w = env.do(t, uploadRequest(t, "/chats/doesnotexist/files", "c.xml", xmlDoc("gamma")))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", w.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	if w := env.do(t, askRequest("nope", "hello?")); w.Code != http.StatusNotFound {
		t.Errorf("PUT: expected 404, got %d", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/chats/nope", nil)); w.Code != http.StatusNotFound {
		t.Errorf("GET: expected 404, got %d", w.Code)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})
	if _, err := env.store.CreateSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	if w := env.do(t, askRequest("s1", "  ")); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAsk_NoDocuments(t *testing.T) {
	t.Parallel()
	m := &echoModel{}
	env := newTestEnv(t, m)
	if _, err := env.store.CreateSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, askRequest("s1", "anything?"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[askResponse](t, w.Body).Answer; got != qa.NoDocumentsMessage {
		t.Errorf("answer: got %q", got)
	}
	if m.calls.Load() != 0 {
		t.Errorf("model should not be called, got %d calls", m.calls.Load())
	}
}

func TestAsk_ProviderFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		model *echoModel
		want  int
	}{
		{"generation error", &echoModel{err: errors.New("upstream 500")}, http.StatusBadGateway},
		{"timeout", &echoModel{block: true}, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tc.model, func(_ *Config, q *qa.Config) { q.ProviderTimeout = 50 * time.Millisecond })

			w := env.do(t, uploadRequest(t, "/chats", "a.xml", xmlDoc("alpha")))
			created := decode[createChatResponse](t, w.Body)

			w = env.do(t, askRequest(created.SessionID, "alpha?"))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if strings.Contains(w.Body.String(), "upstream 500") {
				t.Error("provider detail leaked to client")
			}

			msgs, err := env.store.GetMessages(context.Background(), created.SessionID)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 0 {
				t.Errorf("failed query must not be logged, got %d messages", len(msgs))
			}
		})
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	const n = 6
	ids := make([]string, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			w := env.do(t, uploadRequest(t, "/chats", fmt.Sprintf("doc%d.xml", i), xmlDoc(fmt.Sprintf("codeword marker%d", i))))
			if w.Code != http.StatusOK {
				return fmt.Errorf("upload %d: status %d", i, w.Code)
			}
			var resp createChatResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				return err
			}
			ids[i] = resp.SessionID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	for i := range n {
		g.Go(func() error {
			w := env.do(t, askRequest(ids[i], "what is the codeword?"))
			if w.Code != http.StatusOK {
				return fmt.Errorf("ask %d: status %d", i, w.Code)
			}
			var resp askResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				return err
			}
			for j := range n {
				has := strings.Contains(resp.Answer, fmt.Sprintf("marker%d", j))
				if has != (i == j) {
					return fmt.Errorf("session %d: marker%d present=%v", i, j, has)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestAuthProtectsChatsOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{}, func(c *Config, _ *qa.Config) { c.APIKey = "s3cret" })

	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/chats", nil)); w.Code != http.StatusUnauthorized {
		t.Errorf("GET /chats without token: expected 401, got %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if w := env.do(t, req); w.Code != http.StatusOK {
		t.Errorf("GET /chats with token: expected 200, got %d", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil)); w.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", w.Code)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil dependencies")
	}
}

func TestServer_CloseTwice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &echoModel{})

	if err := env.srv.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
