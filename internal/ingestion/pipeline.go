// Package ingestion turns an uploaded document into one retrievable passage
// in its session's namespace: extract text, embed it, upsert it, then record
// the filename in the metadata store.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thatsimo/yet-another-chatbot/internal/extract"
	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// FileLog is the slice of the metadata store the pipeline writes to.
type FileLog interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	LogFile(ctx context.Context, sessionID, filename string) error
}

// Config holds the dependencies of a Pipeline.
type Config struct {
	// Extractors maps file formats to text extractors. Defaults to
	// extract.Default().
	Extractors *extract.Registry
	Embedder   rag.Embedder
	Index      rag.VectorIndex
	Files      FileLog
	// NamespacePrefix is joined with the session id to form the namespace.
	NamespacePrefix string
	// ProviderTimeout bounds the embedding and upsert calls. Zero means no
	// timeout beyond the caller's context.
	ProviderTimeout time.Duration
}

// Pipeline ingests documents. Safe for concurrent use.
type Pipeline struct {
	extractors *extract.Registry
	embedder   rag.Embedder
	index      rag.VectorIndex
	files      FileLog
	prefix     string
	timeout    time.Duration
}

// Result describes a completed ingestion.
type Result struct {
	SessionID string
	Filename  string
	Namespace string
	// Chars is the length of the extracted text.
	Chars int
}

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("ingestion: file log must not be nil")
	}
	if cfg.NamespacePrefix == "" {
		return nil, fmt.Errorf("ingestion: namespace prefix must not be empty")
	}
	reg := cfg.Extractors
	if reg == nil {
		reg = extract.Default()
	}
	return &Pipeline{
		extractors: reg,
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		files:      cfg.Files,
		prefix:     cfg.NamespacePrefix,
		timeout:    cfg.ProviderTimeout,
	}, nil
}

// Supports returns extract.ErrUnsupportedFormat when filename has no
// registered extractor. Callers use it to reject uploads before creating
// anything.
func (p *Pipeline) Supports(filename string) error {
	_, err := p.extractors.For(filename)
	return err
}

// Ingest adds one document to sessionID's namespace.
//
// The file is logged only after the upsert has returned, so a listed file is
// always retrievable. Unsupported formats and unknown sessions fail before
// any provider call.
func (p *Pipeline) Ingest(ctx context.Context, sessionID, filename string, data []byte) (Result, error) {
	log := logging.FromContext(ctx)

	if err := p.Supports(filename); err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}

	ok, err := p.files.SessionExists(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("ingestion: %w: %s", store.ErrUnknownSession, sessionID)
	}

	text, err := p.extractors.Extract(filename, data)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}

	namespace := rag.Namespace(p.prefix, sessionID)

	pctx, cancel := p.providerContext(ctx)
	defer cancel()

	vec, err := rag.EmbedOne(pctx, p.embedder, text)
	if err != nil {
		log.Warn("ingest: embedding failed", slog.String("session_id", sessionID), slog.String("filename", filename), slog.Any("error", err))
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}

	rec := rag.Record{
		ID:     rag.RecordID(namespace, filename),
		Vector: vec,
		Source: filename,
		Text:   text,
	}
	if err := p.index.Upsert(pctx, namespace, []rag.Record{rec}); err != nil {
		log.Warn("ingest: upsert failed", slog.String("session_id", sessionID), slog.String("filename", filename), slog.Any("error", err))
		return Result{}, fmt.Errorf("ingestion: %w", rag.WrapProvider(rag.StageIndex, err))
	}

	if err := p.files.LogFile(ctx, sessionID, filename); err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}

	log.Info("ingest complete",
		slog.String("session_id", sessionID),
		slog.String("filename", filename),
		slog.Int("chars", len(text)),
	)
	return Result{SessionID: sessionID, Filename: filename, Namespace: namespace, Chars: len(text)}, nil
}

func (p *Pipeline) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}
