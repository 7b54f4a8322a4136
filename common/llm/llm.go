package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ReasoningEffort controls the amount of reasoning for supported models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Config holds LLM client configuration.
type Config struct {
	Provider        string          // "openai", "anthropic" or "gemini"
	APIKey          string          // Required: API key for the provider
	BaseURL         string          // Optional: custom API endpoint
	Model           string          // Model name
	MaxTokens       int             // Default completion budget when a request sets none
	ReasoningEffort ReasoningEffort // Optional: OpenAI reasoning models only
}

// ChatClient produces a plain-text reply. Every provider adapter maps its own
// response shape into Completion; callers never see provider types.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Model() string
}

type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Message represents a conversation message.
type Message struct {
	Role    string // "user" or "assistant"
	Name    string // Optional: participant name (user messages only, OpenAI only)
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completion is the normalised provider result.
type Completion struct {
	Content          string
	Model            string
	FinishReason     string // "stop", "length" or provider specific
	PromptTokens     int
	CompletionTokens int
}

// NewChatClient selects the adapter for cfg.Provider. Defaults to OpenAI.
func NewChatClient(cfg Config) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg), nil
	case ProviderGemini:
		return newGeminiClient(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// ParseJSON unmarshals a model's JSON output into the target type.
func ParseJSON[T any](content string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return result, fmt.Errorf("parse model output: %w", err)
	}
	return result, nil
}

// GenerateSchemaFrom generates a JSON schema from an instance value.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// SanitizeName converts a display name to a valid OpenAI name parameter.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
