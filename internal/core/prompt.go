package core

import (
	"context"
	"strings"

	"gwi.com/calendar-assistant/internal/rag"
)

const fallbackReply = "Sorry, I couldn't respond."

// ComposePrompt builds the single user turn sent to the model. Without
// context documents it is just the rules (if any) followed by the message.
func ComposePrompt(rules string, docs []rag.Document, message string) string {
	var b strings.Builder
	if rules = strings.TrimSpace(rules); rules != "" {
		b.WriteString("Instructions: ")
		b.WriteString(rules)
		b.WriteString("\n\n")
	}
	if len(docs) == 0 {
		b.WriteString(message)
		return b.String()
	}

	b.WriteString("Relevant earlier messages from this conversation:\n")
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(message)
	b.WriteString("\n\nRespond to the last message. Use the earlier messages only where they are relevant.")
	return b.String()
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ResponseEngine sends a composed prompt as one turn.
type ResponseEngine struct {
	model Completer
}

func NewResponseEngine(model Completer) *ResponseEngine {
	return &ResponseEngine{model: model}
}

func (e *ResponseEngine) Respond(ctx context.Context, prompt string) (string, error) {
	text, err := e.model.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return fallbackReply, nil
	}
	return text, nil
}
