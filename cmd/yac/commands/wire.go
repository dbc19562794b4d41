package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thatsimo/yet-another-chatbot/internal/config"
	"github.com/thatsimo/yet-another-chatbot/internal/embedder"
	"github.com/thatsimo/yet-another-chatbot/internal/ingestion"
	"github.com/thatsimo/yet-another-chatbot/internal/provider"
	"github.com/thatsimo/yet-another-chatbot/internal/qa"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/server"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// runtime bundles the long-lived dependencies shared by serve, ingest and
// ask. Close releases them in reverse order of acquisition.
type runtime struct {
	cfg      *config.Runtime
	store    *store.SQLiteStore
	index    rag.VectorIndex
	embedder rag.Embedder
	pingers  []server.Pinger
	closers  []func() error
}

// openStore resolves the runtime config and opens only the metadata store.
// Used by the read-only sessions and history commands.
func openStore(log *slog.Logger) (*config.Runtime, *store.SQLiteStore, error) {
	rt, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(rt.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	log.Debug("metadata store opened", slog.String("path", rt.DBPath))
	return rt, st, nil
}

// buildRuntime opens the metadata store, the embedder and the vector index
// selected by VECTOR_BACKEND. The embedder is validated before the index is
// created so a missing key fails fast rather than after a network dial.
func buildRuntime(ctx context.Context, log *slog.Logger) (*runtime, error) {
	rt, st, err := openStore(log)
	if err != nil {
		return nil, err
	}
	r := &runtime{cfg: rt, store: st}
	r.closers = append(r.closers, st.Close)
	r.pingers = append(r.pingers, server.PingFunc{Label: "sqlite", Fn: st.Ping})

	if err := embedder.Validate(log); err != nil {
		_ = r.Close()
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.embedder = emb

	if err := r.openIndex(ctx, log); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *runtime) openIndex(ctx context.Context, log *slog.Logger) error {
	dims := embedder.Dimensions()

	switch r.cfg.VectorBackend {
	case config.BackendQdrant:
		idx, err := rag.NewQdrantIndex(ctx, rag.QdrantConfig{
			Host:       r.cfg.QdrantHost,
			Port:       r.cfg.QdrantPort,
			Collection: r.cfg.QdrantCollection,
			VectorSize: uint64(dims),
			APIKey:     r.cfg.QdrantAPIKey,
			UseTLS:     r.cfg.QdrantTLS,
		})
		if err != nil {
			return err
		}
		r.index = idx
		r.closers = append(r.closers, idx.Close)
		r.pingers = append(r.pingers, server.NewQdrantPinger(idx.Client()))

	case config.BackendPgvector:
		idx, err := rag.NewPgvectorIndex(ctx, rag.PgvectorConfig{
			DSN:        r.cfg.PgvectorDSN,
			Table:      r.cfg.PgvectorTable,
			Dimensions: dims,
		})
		if err != nil {
			return err
		}
		r.index = idx
		r.closers = append(r.closers, idx.Close)
		r.pingers = append(r.pingers, server.NewPgPinger(idx.Pool()))

	case config.BackendMemory:
		log.Warn("vector index is in-memory, uploads are lost on exit")
		r.index = rag.NewMemoryIndex()

	default:
		return fmt.Errorf("unsupported vector backend %q", r.cfg.VectorBackend)
	}

	log.Info("vector index ready",
		slog.String("backend", r.cfg.VectorBackend),
		slog.String("embedder", embedder.Backend()),
		slog.Int("dimensions", dims),
	)
	return nil
}

// pipeline builds the ingestion pipeline over the runtime's dependencies.
func (r *runtime) pipeline() (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(ingestion.Config{
		Embedder:        r.embedder,
		Index:           r.index,
		Files:           r.store,
		NamespacePrefix: r.cfg.NamespacePrefix,
		ProviderTimeout: r.cfg.ProviderTimeout,
	})
}

// engine builds the chat model from the environment and compiles the QA
// engine around it.
func (r *runtime) engine(ctx context.Context, log *slog.Logger) (*qa.Engine, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	return qa.New(ctx, qa.Config{
		ChatModel:       chatModel,
		Embedder:        r.embedder,
		Index:           r.index,
		Messages:        r.store,
		NamespacePrefix: r.cfg.NamespacePrefix,
		ProviderTimeout: r.cfg.ProviderTimeout,
	})
}

// Close releases every dependency, newest first.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
