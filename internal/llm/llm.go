package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/config"
)

// Client is what the assistant needs from a language model provider.
type Client interface {
	// Embed returns a fixed-dimension vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Complete sends prompt as a single user turn and returns the reply text.
	Complete(ctx context.Context, prompt string) (string, error)
	// ChooseFunction runs the model in function-calling mode. The decision
	// holds either a function call or free text.
	ChooseFunction(ctx context.Context, system, message string, functions []FunctionDeclaration) (*Decision, error)
	GenerateTitle(ctx context.Context, basis string) (string, error)
	Close() error
}

type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
	TypeObject  SchemaType = "object"
)

// Schema is a provider-neutral subset of JSON schema.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
}

type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Decision is the model's answer in function-calling mode. FunctionName is
// empty when the model replied with text instead. ArgsErr is set when the
// call's arguments could not be decoded.
type Decision struct {
	FunctionName string
	Args         map[string]any
	ArgsErr      error
	Text         string
}

func (d *Decision) IsFunctionCall() bool {
	return d != nil && d.FunctionName != ""
}

type Options struct {
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration
}

const (
	chatSystemInstruction = "You are a helpful personal assistant. Follow any instructions given at the start of the message, " +
		"use the provided conversation context when it is relevant, and keep answers concise. Do not make up information."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."

	fallbackTitle = "New chat"
)

func titlePrompt(basis string) string {
	return fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)
}

func cleanTitle(title string) string {
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return fallbackTitle
	}
	return title
}

// New builds the provider selected by cfg.LLMProvider.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	opts := Options{
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Dimensions:     cfg.EmbeddingDimensions,
		Timeout:        cfg.ExternalTimeout,
	}
	switch cfg.LLMProvider {
	case "gemini":
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, opts)
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, "", opts), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func checkDimensions(op string, vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return apperr.External(op, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), want))
	}
	return nil
}
