package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Vector index backends accepted by VECTOR_BACKEND.
const (
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"
)

// Defaults applied by FromEnv when a key is unset.
const (
	DefaultNamespacePrefix  = "chat"
	DefaultQdrantCollection = "yac-passages"
	DefaultPgvectorTable    = "yac_passages"
	DefaultProviderTimeout  = 60 * time.Second
	DefaultMaxUploadBytes   = 32 << 20
)

// DefaultCORSOrigins matches the bundled web front-end's dev server.
var DefaultCORSOrigins = []string{"http://localhost:3000"}

// Runtime is the resolved, typed view of the environment used to wire the
// serve, ingest and ask commands. Provider and embedder credentials are read
// by their own packages and are not duplicated here.
type Runtime struct {
	VectorBackend    string
	NamespacePrefix  string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool
	PgvectorDSN      string
	PgvectorTable    string

	DBPath string

	Host           string
	Port           int
	APIKey         string
	CORSOrigins    []string
	MaxUploadBytes int64
	RateLimit      float64
	RateBurst      int

	ProviderTimeout time.Duration
}

// FromEnv resolves Runtime from the environment. Malformed numeric or
// duration values are reported rather than silently defaulted.
func FromEnv() (*Runtime, error) {
	rt := &Runtime{
		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", BackendQdrant)),
		NamespacePrefix:  getEnv("NAMESPACE_PREFIX", DefaultNamespacePrefix),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", DefaultQdrantCollection),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		PgvectorDSN:      os.Getenv("PGVECTOR_DSN"),
		PgvectorTable:    getEnv("PGVECTOR_TABLE", DefaultPgvectorTable),
		Host:             getEnv("YAC_HOST", "127.0.0.1"),
		APIKey:           os.Getenv("YAC_API_KEY"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", strings.Join(DefaultCORSOrigins, ","))),
	}

	var err error
	if rt.QdrantPort, err = getInt("QDRANT_PORT", 6334); err != nil {
		return nil, err
	}
	if rt.Port, err = getInt("YAC_PORT", 8080); err != nil {
		return nil, err
	}
	if rt.RateBurst, err = getInt("RATE_BURST", 0); err != nil {
		return nil, err
	}
	maxUpload, err := getInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	if err != nil {
		return nil, err
	}
	rt.MaxUploadBytes = int64(maxUpload)
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if rt.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: RATE_LIMIT %q: %w", v, err)
		}
	}
	rt.ProviderTimeout = DefaultProviderTimeout
	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		if rt.ProviderTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("config: PROVIDER_TIMEOUT %q: %w", v, err)
		}
		if rt.ProviderTimeout <= 0 {
			return nil, fmt.Errorf("config: PROVIDER_TIMEOUT must be positive, got %s", v)
		}
	}

	rt.DBPath = os.Getenv("YAC_DB_PATH")
	if rt.DBPath == "" {
		if rt.DBPath, err = DefaultDBPath(); err != nil {
			return nil, err
		}
	}

	switch rt.VectorBackend {
	case BackendQdrant, BackendMemory:
	case BackendPgvector:
		if rt.PgvectorDSN == "" {
			return nil, fmt.Errorf("config: VECTOR_BACKEND=pgvector requires PGVECTOR_DSN")
		}
	default:
		return nil, fmt.Errorf("config: unsupported VECTOR_BACKEND %q (want qdrant, pgvector or memory)", rt.VectorBackend)
	}
	if strings.TrimSpace(rt.NamespacePrefix) == "" {
		return nil, fmt.Errorf("config: NAMESPACE_PREFIX must not be blank")
	}

	return rt, nil
}

// DefaultDBPath returns ~/.yac/yac.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".yac", "yac.db"), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
