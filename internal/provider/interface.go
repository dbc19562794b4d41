// Package provider builds the answer-generation chat model. The backend is
// chosen at runtime; every backend is an eino model.BaseChatModel so the
// query engine never depends on a specific vendor SDK.
package provider

import (
	"fmt"
	"strings"
)

// Backend names a supported LLM provider.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendAzure  Backend = "azure"
	BackendOllama Backend = "ollama"
	BackendGemini Backend = "gemini"
	// BackendArk is Volcengine Ark.
	BackendArk Backend = "ark"
)

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderGemini holds Google AI Studio settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Config selects a backend and carries the settings of every backend; only
// the selected one is read. Sampling temperature is not configurable.
type Config struct {
	Backend     Backend
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ollama      ProviderOllama
	Gemini      ProviderGemini
	Ark         ProviderArk
	// MaxTokens caps the generated answer (0 = backend default).
	MaxTokens int
}

// Validate reports every missing setting for the selected backend in one
// error, naming the environment variables that supply them.
func (c *Config) Validate() error {
	var missing []string
	req := func(v, env string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOpenAI:
		req(c.OpenAI.APIKey, "OPENAI_API_KEY")
		req(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		req(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		req(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		req(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendOllama:
		req(c.Ollama.Host, "OLLAMA_HOST")
		req(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendGemini:
		req(c.Gemini.APIKey, "GOOGLE_API_KEY")
		req(c.Gemini.Model, "GEMINI_MODEL")
	case BackendArk:
		req(c.Ark.APIKey, "ARK_API_KEY")
		req(c.Ark.Model, "ARK_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: openai, azure, ollama, gemini, ark)", c.Backend)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative")
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	return nil
}

// ModelName returns the model or deployment the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendOllama:
		return c.Ollama.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}
