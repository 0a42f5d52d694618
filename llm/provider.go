// Package llm provides clients for the generative-text and embedding
// providers used by the matching pipeline. All providers speak the
// OpenAI-compatible wire format; Gemini is the production default.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts. The returned
	// slice preserves input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// ResponseFormat can be "json_object" for free-form JSON mode or
	// "json_schema" to constrain the output shape. When set to
	// "json_schema", ResponseSchema must hold the JSON Schema document
	// and SchemaName its identifier.
	ResponseFormat string          `json:"response_format,omitempty"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
	SchemaName     string          `json:"schema_name,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // gemini, openai, ollama, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// Logger receives retry warnings. Defaults to a no-op logger.
	Logger *logging.Logger `json:"-" yaml:"-"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
