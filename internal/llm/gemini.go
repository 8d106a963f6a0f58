package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gwi.com/calendar-assistant/internal/apperr"
)

const (
	defaultGeminiChatModel      = "gemini-1.5-flash-latest"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

type GeminiClient struct {
	client *genai.Client
	opts   Options
}

func NewGeminiClient(ctx context.Context, apiKey string, opts Options, extra ...option.ClientOption) (*GeminiClient, error) {
	if opts.ChatModel == "" {
		opts.ChatModel = defaultGeminiChatModel
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultGeminiEmbeddingModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	em := g.client.EmbeddingModel(g.opts.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, apperr.External("gemini.embed", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apperr.External("gemini.embed", fmt.Errorf("no embedding data received"))
	}
	if err := checkDimensions("gemini.embed", res.Embedding.Values, g.opts.Dimensions); err != nil {
		return nil, err
	}
	return res.Embedding.Values, nil
}

func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.opts.ChatModel)
	model.SystemInstruction = genai.NewUserContent(genai.Text(chatSystemInstruction))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", apperr.External("gemini.complete", err)
	}
	return responseText(resp), nil
}

func (g *GeminiClient) ChooseFunction(ctx context.Context, system, message string, functions []FunctionDeclaration) (*Decision, error) {
	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.opts.ChatModel)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	model.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiDeclarations(functions)}}
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAuto},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		return nil, apperr.External("gemini.choose_function", err)
	}
	if resp != nil && len(resp.Candidates) > 0 {
		if calls := resp.Candidates[0].FunctionCalls(); len(calls) > 0 {
			args := calls[0].Args
			if args == nil {
				args = map[string]any{}
			}
			return &Decision{FunctionName: calls[0].Name, Args: args}, nil
		}
	}
	return &Decision{Text: responseText(resp)}, nil
}

func (g *GeminiClient) GenerateTitle(ctx context.Context, basis string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.opts.ChatModel)
	model.SystemInstruction = genai.NewUserContent(genai.Text(titleSystemInstruction))
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(20)

	resp, err := model.GenerateContent(ctx, genai.Text(titlePrompt(basis)))
	if err != nil {
		return "", apperr.External("gemini.title", err)
	}
	return cleanTitle(responseText(resp)), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(text.String())
}

func toGeminiDeclarations(functions []FunctionDeclaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(functions))
	for _, fn := range functions {
		out = append(out, &genai.FunctionDeclaration{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  toGeminiSchema(fn.Parameters),
		})
	}
	return out
}

func toGeminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGeminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	return out
}

func geminiType(t SchemaType) genai.Type {
	switch t {
	case TypeString:
		return genai.TypeString
	case TypeNumber:
		return genai.TypeNumber
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	case TypeArray:
		return genai.TypeArray
	case TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
