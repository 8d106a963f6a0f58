package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"gwi.com/calendar-assistant/internal/apperr"
)

const (
	defaultOpenAIChatModel      = openai.GPT3Dot5Turbo
	defaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)
)

type OpenAIClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIClient builds a client. baseURL overrides the API endpoint when set.
func NewOpenAIClient(apiKey, baseURL string, opts Options) *OpenAIClient {
	if opts.ChatModel == "" {
		opts.ChatModel = defaultOpenAIChatModel
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultOpenAIEmbeddingModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (o *OpenAIClient) Close() error { return nil }

func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.opts.EmbeddingModel),
		Dimensions: o.opts.Dimensions,
	})
	if err != nil {
		return nil, apperr.External("openai.embed", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, apperr.External("openai.embed", fmt.Errorf("no embedding data received"))
	}
	vec := resp.Data[0].Embedding
	if err := checkDimensions("openai.embed", vec, o.opts.Dimensions); err != nil {
		return nil, err
	}
	return vec, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.opts.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: chatSystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", apperr.External("openai.complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAIClient) ChooseFunction(ctx context.Context, system, message string, functions []FunctionDeclaration) (*Decision, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:      o.opts.ChatModel,
		Messages:   messages,
		Tools:      toOpenAITools(functions),
		ToolChoice: "auto",
	})
	if err != nil {
		return nil, apperr.External("openai.choose_function", err)
	}
	if len(resp.Choices) == 0 {
		return &Decision{}, nil
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0].Function
		args := map[string]any{}
		if strings.TrimSpace(call.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return &Decision{
					FunctionName: call.Name,
					ArgsErr:      apperr.Validation("openai.choose_function", "function arguments are not valid JSON"),
				}, nil
			}
		}
		return &Decision{FunctionName: call.Name, Args: args}, nil
	}
	return &Decision{Text: strings.TrimSpace(msg.Content)}, nil
}

func (o *OpenAIClient) GenerateTitle(ctx context.Context, basis string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.opts.ChatModel,
		Temperature: 0.3,
		MaxTokens:   20,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: titlePrompt(basis)},
		},
	})
	if err != nil {
		return "", apperr.External("openai.title", err)
	}
	if len(resp.Choices) == 0 {
		return fallbackTitle, nil
	}
	return cleanTitle(resp.Choices[0].Message.Content), nil
}

func toOpenAITools(functions []FunctionDeclaration) []openai.Tool {
	tools := make([]openai.Tool, 0, len(functions))
	for _, fn := range functions {
		params := toJSONSchema(fn.Parameters)
		if params == nil {
			params = &jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  *params,
			},
		})
	}
	return tools
}

func toJSONSchema(s *Schema) *jsonschema.Definition {
	if s == nil {
		return nil
	}
	out := &jsonschema.Definition{
		Type:        jsonschema.DataType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       toJSONSchema(s.Items),
	}
	if s.Type == TypeObject {
		out.Properties = make(map[string]jsonschema.Definition, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = *toJSONSchema(prop)
		}
	}
	return out
}
