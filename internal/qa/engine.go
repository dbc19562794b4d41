// Package qa answers questions from the documents of a single session. The
// engine checks the session's namespace holds passages, retrieves the top
// matches for the question, and asks the chat model to answer strictly from
// them. Successful answers are appended to the session's message history.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/thatsimo/yet-another-chatbot/internal/budget"
	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

const (
	// TopK is the number of passages retrieved per question.
	TopK = 3

	// NoDocumentsMessage is the answer when the session has no passages.
	NoDocumentsMessage = "No documents found in the specified namespace. Please check your session ID or ensure documents have been uploaded."
)

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("qa: question must not be empty")

// MessageLog is the slice of the metadata store the engine uses.
type MessageLog interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	LogMessage(ctx context.Context, sessionID, question, answer string) error
}

// Config holds the dependencies of an Engine.
type Config struct {
	ChatModel model.BaseChatModel
	Embedder  rag.Embedder
	Index     rag.VectorIndex
	Messages  MessageLog
	// NamespacePrefix is joined with the session id to form the namespace.
	NamespacePrefix string
	// ProviderTimeout bounds retrieval and generation separately. Zero means
	// the caller's context only.
	ProviderTimeout time.Duration
	// MaxContextTokens caps the passage text handed to the model. Defaults
	// to budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Result is the outcome of Ask.
type Result struct {
	Answer string `json:"answer"`
	// Passages are the retrieved passages in rank order, as sent to the model.
	Passages []rag.Passage `json:"passages,omitempty"`
	// NoDocuments is set when the namespace was empty. Answer then holds
	// NoDocumentsMessage and the model was not called.
	NoDocuments bool `json:"-"`
}

// Engine answers questions. Safe for concurrent use.
type Engine struct {
	chain     compose.Runnable[[]*schema.Message, *schema.Message]
	retriever *rag.Retriever
	index     rag.VectorIndex
	messages  MessageLog
	prefix    string
	timeout   time.Duration
	maxTokens int
}

// New compiles the generation chain and returns an Engine.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("qa: chat model must not be nil")
	}
	if cfg.Messages == nil {
		return nil, fmt.Errorf("qa: message log must not be nil")
	}
	if cfg.NamespacePrefix == "" {
		return nil, fmt.Errorf("qa: namespace prefix must not be empty")
	}
	retriever, err := rag.NewRetriever(cfg.Embedder, cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("qa: %w", err)
	}

	chain, err := compose.NewChain[[]*schema.Message, *schema.Message]().
		AppendChatModel(cfg.ChatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("qa: failed to compile chain: %w", err)
	}

	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	return &Engine{
		chain:     chain,
		retriever: retriever,
		index:     cfg.Index,
		messages:  cfg.Messages,
		prefix:    cfg.NamespacePrefix,
		timeout:   cfg.ProviderTimeout,
		maxTokens: maxTokens,
	}, nil
}

// Ask answers question using only the documents uploaded to sessionID.
//
// An empty namespace is not an error: the result carries NoDocumentsMessage
// and nothing is logged. Provider failures are returned as *rag.ProviderError
// (matching rag.ErrGeneration) and leave no message in the history.
func (e *Engine) Ask(ctx context.Context, sessionID, question string) (Result, error) {
	log := logging.FromContext(ctx).With(slog.String("session_id", sessionID))

	if strings.TrimSpace(question) == "" {
		return Result{}, ErrEmptyQuestion
	}
	ok, err := e.messages.SessionExists(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("qa: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("qa: %w: %s", store.ErrUnknownSession, sessionID)
	}

	namespace := rag.Namespace(e.prefix, sessionID)

	stats, err := e.describe(ctx, namespace)
	if err != nil {
		log.Warn("qa: describe namespace failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("qa: %w", rag.WrapProvider(rag.StageIndex, err))
	}
	if !stats.HasDocuments() {
		log.Info("query: no documents", slog.String("namespace", namespace))
		return Result{Answer: NoDocumentsMessage, NoDocuments: true}, nil
	}

	passages, err := e.retrieve(ctx, namespace, question)
	if err != nil {
		log.Warn("qa: retrieval failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("qa: %w", err)
	}

	trimmed := budget.TrimPassages(passages, e.maxTokens)
	if len(trimmed) < len(passages) {
		log.Warn("budget: dropped passages to fit context window",
			slog.Int("dropped", len(passages)-len(trimmed)),
			slog.Int("max_tokens", e.maxTokens),
		)
	}

	answer, err := e.generate(ctx, BuildMessages(question, trimmed))
	if err != nil {
		log.Error("qa: generation failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("qa: %w", err)
	}

	if err := e.messages.LogMessage(ctx, sessionID, question, answer); err != nil {
		return Result{}, fmt.Errorf("qa: %w", err)
	}

	log.Info("query answered", slog.Int("passages", len(trimmed)), slog.Int("answer_chars", len(answer)))
	return Result{Answer: answer, Passages: trimmed}, nil
}

func (e *Engine) describe(ctx context.Context, namespace string) (rag.NamespaceStats, error) {
	ctx, cancel := e.providerContext(ctx)
	defer cancel()
	return e.index.DescribeNamespace(ctx, namespace)
}

func (e *Engine) retrieve(ctx context.Context, namespace, question string) ([]rag.Passage, error) {
	ctx, cancel := e.providerContext(ctx)
	defer cancel()
	return e.retriever.Retrieve(ctx, namespace, question, TopK)
}

func (e *Engine) generate(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx, cancel := e.providerContext(ctx)
	defer cancel()

	out, err := e.chain.Invoke(ctx, msgs, compose.WithChatModelOption(model.WithTemperature(0)))
	if err != nil {
		// The chain may rewrap node errors; keep the deadline visible.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return "", rag.WrapProvider(rag.StageGenerate, err)
	}
	if out == nil {
		return "", rag.WrapProvider(rag.StageGenerate, errors.New("model returned no message"))
	}
	answer := strings.TrimSpace(out.Content)
	if answer == "" {
		return "", rag.WrapProvider(rag.StageGenerate, errors.New("model returned an empty answer"))
	}
	return answer, nil
}

func (e *Engine) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
