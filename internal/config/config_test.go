package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

// clearEnv unsets keys for the duration of the test. t.Setenv registers the
// restore; Unsetenv makes the key absent rather than empty.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
model:
  provider: openai
  openai:
    model: gpt-4
embedding:
  provider: ollama
  model: nomic-embed-text
vector:
  backend: pgvector
  namespace_prefix: docs
  pgvector:
    dsn: postgres://yac@db/yac
store:
  db_path: /var/lib/yac/yac.db
server:
  port: 9000
  cors_origins: [http://localhost:3000, https://chat.example.com]
  rate_limit: 2.5
timeouts:
  provider: 45s
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	clearEnv(t, "MODEL_PROVIDER", "OPENAI_MODEL", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"VECTOR_BACKEND", "NAMESPACE_PREFIX", "PGVECTOR_DSN", "YAC_DB_PATH", "YAC_PORT",
		"CORS_ORIGINS", "RATE_LIMIT", "PROVIDER_TIMEOUT")

	loaded, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":     "openai",
		"OPENAI_MODEL":       "gpt-4",
		"EMBEDDING_PROVIDER": "ollama",
		"EMBEDDING_MODEL":    "nomic-embed-text",
		"VECTOR_BACKEND":     "pgvector",
		"NAMESPACE_PREFIX":   "docs",
		"PGVECTOR_DSN":       "postgres://yac@db/yac",
		"YAC_DB_PATH":        "/var/lib/yac/yac.db",
		"YAC_PORT":           "9000",
		"CORS_ORIGINS":       "http://localhost:3000,https://chat.example.com",
		"RATE_LIMIT":         "2.5",
		"PROVIDER_TIMEOUT":   "45s",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("vector:\n  namespace_prefix: fromyaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NAMESPACE_PREFIX", "fromenv")

	if _, err := Load(cfgPath, logging.Discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("NAMESPACE_PREFIX"); got != "fromenv" {
		t.Errorf("NAMESPACE_PREFIX: expected env override, got %q", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("model: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath, logging.Discard()); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("QDRANT_HOST=dotenv-host\nQDRANT_COLLECTION=dotenv-coll\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QDRANT_HOST", "already-set")
	clearEnv(t, "QDRANT_COLLECTION")

	if err := loadDotEnv(envPath, logging.Discard()); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("QDRANT_HOST"); got != "already-set" {
		t.Errorf("QDRANT_HOST overwritten: %q", got)
	}
	if got := os.Getenv("QDRANT_COLLECTION"); got != "dotenv-coll" {
		t.Errorf("QDRANT_COLLECTION = %q, want dotenv-coll", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	t.Parallel()

	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env"), logging.Discard()); err != nil {
		t.Fatalf("missing .env must not be an error: %v", err)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t, "VECTOR_BACKEND", "NAMESPACE_PREFIX", "QDRANT_PORT", "QDRANT_COLLECTION",
		"PROVIDER_TIMEOUT", "MAX_UPLOAD_BYTES", "CORS_ORIGINS", "RATE_LIMIT", "RATE_BURST", "YAC_PORT")
	t.Setenv("YAC_DB_PATH", "/tmp/yac-test.db")

	rt, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if rt.VectorBackend != BackendQdrant {
		t.Errorf("VectorBackend = %q", rt.VectorBackend)
	}
	if rt.NamespacePrefix != DefaultNamespacePrefix {
		t.Errorf("NamespacePrefix = %q", rt.NamespacePrefix)
	}
	if rt.QdrantPort != 6334 || rt.Port != 8080 {
		t.Errorf("ports = %d/%d", rt.QdrantPort, rt.Port)
	}
	if rt.ProviderTimeout != DefaultProviderTimeout {
		t.Errorf("ProviderTimeout = %s", rt.ProviderTimeout)
	}
	if rt.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Errorf("MaxUploadBytes = %d", rt.MaxUploadBytes)
	}
	if len(rt.CORSOrigins) != 1 || rt.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("CORSOrigins = %v", rt.CORSOrigins)
	}
	if rt.DBPath != "/tmp/yac-test.db" {
		t.Errorf("DBPath = %q", rt.DBPath)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "Memory")
	t.Setenv("NAMESPACE_PREFIX", "tenant")
	t.Setenv("PROVIDER_TIMEOUT", "1500ms")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("YAC_DB_PATH", "/tmp/yac-test.db")

	rt, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if rt.VectorBackend != BackendMemory {
		t.Errorf("VectorBackend = %q, want memory", rt.VectorBackend)
	}
	if rt.ProviderTimeout != 1500*time.Millisecond {
		t.Errorf("ProviderTimeout = %s", rt.ProviderTimeout)
	}
	if len(rt.CORSOrigins) != 2 || rt.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", rt.CORSOrigins)
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"VECTOR_BACKEND": "faiss"}},
		{"pgvector without dsn", map[string]string{"VECTOR_BACKEND": "pgvector", "PGVECTOR_DSN": ""}},
		{"bad timeout", map[string]string{"PROVIDER_TIMEOUT": "soon"}},
		{"negative timeout", map[string]string{"PROVIDER_TIMEOUT": "-1s"}},
		{"bad port", map[string]string{"QDRANT_PORT": "sixty"}},
		{"bad rate", map[string]string{"RATE_LIMIT": "fast"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t, "VECTOR_BACKEND", "PGVECTOR_DSN", "PROVIDER_TIMEOUT", "QDRANT_PORT", "RATE_LIMIT")
			t.Setenv("YAC_DB_PATH", "/tmp/yac-test.db")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStrHelpers(t *testing.T) {
	t.Parallel()

	if intStr(0) != "" || intStr(42) != "42" {
		t.Error("intStr")
	}
	if floatStr(0) != "" || floatStr(0.5) != "0.5" {
		t.Error("floatStr")
	}
	if boolStr(false) != "" || boolStr(true) != "true" {
		t.Error("boolStr")
	}
}
