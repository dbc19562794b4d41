package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thatsimo/yet-another-chatbot/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"
)

// defaultDimensions is the native output size of each backend's default
// model. EMBEDDING_DIMENSIONS overrides it.
var defaultDimensions = map[string]int{
	"ollama": 768,
	"openai": 1536,
	"azure":  1536,
	"gemini": 768,
}

// Backend resolves the embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER when it names a backend that can embed, then openai.
func Backend() string {
	if b := strings.ToLower(os.Getenv("EMBEDDING_PROVIDER")); b != "" {
		return b
	}
	if b := strings.ToLower(os.Getenv("MODEL_PROVIDER")); b != "" {
		if _, ok := defaultDimensions[b]; ok {
			return b
		}
	}
	return "openai"
}

// Dimensions returns the vector size the resolved backend will produce.
// Vector indexes are created with this size.
func Dimensions() int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	if d, ok := defaultDimensions[Backend()]; ok {
		return d
	}
	return defaultDimensions["openai"]
}

// NewFromEnv builds the embedder selected by Backend. Credentials fall back
// to the chat provider's variables when EMBEDDING_* overrides are unset.
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	dims := getEnvInt("EMBEDDING_DIMENSIONS", 0)

	switch backend := Backend(); backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT", getEnv("OLLAMA_HOST", "http://localhost:11434"))
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: getEnv("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(getEnv("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"), "/"),
			APIKey:     apiKey,
			Model:      getEnv("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY", os.Getenv("AZURE_OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT", os.Getenv("AZURE_OPENAI_ENDPOINT"))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnv("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		}), nil

	case "gemini":
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     getEnv("EMBEDDING_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			Model:      getEnv("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
		})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, gemini)", backend)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
