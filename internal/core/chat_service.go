package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/assistant"
	"gwi.com/calendar-assistant/internal/intent"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/rag"
	"gwi.com/calendar-assistant/internal/store"
)

const (
	errorReply      = "I'm sorry, I encountered an error while processing your request."
	titleTimeout    = 30 * time.Second
	maxMessagesPage = 100
)

// ConversationStore is the part of store.Store the chat flow needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID int64, name *string) (*store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string, userID int64) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	RenameConversation(ctx context.Context, conversationID string, userID int64, name string) error
	UpdateConversationRules(ctx context.Context, conversationID string, userID int64, rules *string) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error)
}

type Classifier interface {
	Classify(message string) intent.Intent
}

type CalendarAssistant interface {
	Handle(ctx context.Context, userID int64, message string) (assistant.Reply, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query, conversationID string, userID int64, limit int) []rag.Document
	IndexMessage(ctx context.Context, msg store.Message) error
}

type Titler interface {
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

type ChatService struct {
	store     ConversationStore
	router    Classifier
	calendar  CalendarAssistant
	retriever Retriever
	engine    *ResponseEngine
	titler    Titler
	log       *logger.Logger

	titles sync.WaitGroup
}

func NewChatService(db ConversationStore, router Classifier, cal CalendarAssistant, retriever Retriever,
	engine *ResponseEngine, titler Titler, log *logger.Logger) *ChatService {
	return &ChatService{
		store:     db,
		router:    router,
		calendar:  cal,
		retriever: retriever,
		engine:    engine,
		titler:    titler,
		log:       log,
	}
}

// Reply is the answer to one posted message.
type Reply struct {
	Message        string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
	ConversationID string        `json:"conversationId"`
	Intent         intent.Intent `json:"intent"`
}

// PostMessage runs one exchange. An empty conversationID starts a new
// conversation. The user message is stored and indexed before the reply is
// produced.
func (s *ChatService) PostMessage(ctx context.Context, userID int64, conversationID, content string) (*Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("chat.post", "message is required")
	}

	conv, err := s.ensureConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: content}
	if err := s.store.CreateMessage(ctx, &userMsg); err != nil {
		return nil, err
	}
	if err := s.retriever.IndexMessage(ctx, userMsg); err != nil {
		s.log.Warn("failed to index message", "conversation_id", conv.ID, "message_id", userMsg.ID, "error", err)
	}

	kind := s.router.Classify(content)
	var replyText string
	switch kind {
	case intent.Calendar:
		replyText = s.calendarReply(ctx, userID, content)
	default:
		replyText = s.chatReply(ctx, userID, conv, content)
	}

	assistantMsg := store.Message{ConversationID: conv.ID, Role: store.RoleAssistant, Content: replyText}
	if err := s.store.CreateMessage(ctx, &assistantMsg); err != nil {
		return nil, err
	}

	if conv.Name == nil || *conv.Name == "" {
		s.generateTitleAsync(conv.ID, userID, content)
	}

	return &Reply{
		Message:        assistantMsg.Content,
		Timestamp:      assistantMsg.CreatedAt,
		ConversationID: conv.ID,
		Intent:         kind,
	}, nil
}

func (s *ChatService) ensureConversation(ctx context.Context, userID int64, conversationID string) (*store.Conversation, error) {
	if conversationID == "" {
		return s.store.CreateConversation(ctx, userID, nil)
	}
	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.NotFound("chat.post", "conversation not found")
	}
	return conv, nil
}

func (s *ChatService) calendarReply(ctx context.Context, userID int64, content string) string {
	reply, err := s.calendar.Handle(ctx, userID, content)
	if err != nil {
		s.log.Error("calendar assistant failed", "user_id", userID, "error", err)
		return errorReply
	}
	if strings.TrimSpace(reply.Text) == "" {
		return fallbackReply
	}
	return reply.Text
}

func (s *ChatService) chatReply(ctx context.Context, userID int64, conv *store.Conversation, content string) string {
	docs := s.retriever.Retrieve(ctx, content, conv.ID, userID, 0)
	rules := ""
	if conv.Rules != nil {
		rules = *conv.Rules
	}
	text, err := s.engine.Respond(ctx, ComposePrompt(rules, docs, content))
	if err != nil {
		s.log.Error("failed to generate reply", "conversation_id", conv.ID, "error", err)
		return errorReply
	}
	return text
}

// generateTitleAsync names the conversation in the background. It is
// detached from the request so it outlives the response.
func (s *ChatService) generateTitleAsync(conversationID string, userID int64, basis string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := s.titler.GenerateTitle(ctx, basis)
		if err != nil {
			s.log.Warn("failed to generate title", "conversation_id", conversationID, "error", err)
			return
		}
		if err := s.store.RenameConversation(ctx, conversationID, userID, title); err != nil {
			s.log.Warn("failed to save title", "conversation_id", conversationID, "error", err)
			return
		}
		s.log.Debug("conversation titled", "conversation_id", conversationID, "title", title)
	}()
}

// Wait blocks until background title generation has finished.
func (s *ChatService) Wait() {
	s.titles.Wait()
}

func (s *ChatService) CreateConversation(ctx context.Context, userID int64, name string) (*store.Conversation, error) {
	var namePtr *string
	if name = strings.TrimSpace(name); name != "" {
		namePtr = &name
	}
	return s.store.CreateConversation(ctx, userID, namePtr)
}

func (s *ChatService) ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// GetConversation returns the conversation and its first page of messages.
func (s *ChatService) GetConversation(ctx context.Context, conversationID string, userID int64) (*store.Conversation, []store.Message, error) {
	conv, err := s.owned(ctx, "chat.get", conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conv.ID, maxMessagesPage, 0)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func (s *ChatService) Messages(ctx context.Context, conversationID string, userID int64, limit, offset int) ([]store.Message, error) {
	if _, err := s.owned(ctx, "chat.messages", conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxMessagesPage {
		limit = maxMessagesPage
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

func (s *ChatService) Rename(ctx context.Context, conversationID string, userID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("chat.rename", "name is required")
	}
	return s.store.RenameConversation(ctx, conversationID, userID, name)
}

// UpdateRules replaces the conversation rules. Blank rules clear them.
func (s *ChatService) UpdateRules(ctx context.Context, conversationID string, userID int64, rules string) error {
	var rulesPtr *string
	if rules = strings.TrimSpace(rules); rules != "" {
		rulesPtr = &rules
	}
	return s.store.UpdateConversationRules(ctx, conversationID, userID, rulesPtr)
}

// AddMessage appends a message without producing a reply. User messages
// are indexed for retrieval.
func (s *ChatService) AddMessage(ctx context.Context, conversationID string, userID int64, role, content string) (*store.Message, error) {
	if role != store.RoleUser && role != store.RoleAssistant {
		return nil, apperr.Validation("chat.add", "role must be user or assistant")
	}
	if content = strings.TrimSpace(content); content == "" {
		return nil, apperr.Validation("chat.add", "content is required")
	}
	conv, err := s.owned(ctx, "chat.add", conversationID, userID)
	if err != nil {
		return nil, err
	}
	msg := store.Message{ConversationID: conv.ID, Role: role, Content: content}
	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		return nil, err
	}
	if role == store.RoleUser {
		if err := s.retriever.IndexMessage(ctx, msg); err != nil {
			s.log.Warn("failed to index message", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
		}
	}
	return &msg, nil
}

func (s *ChatService) owned(ctx context.Context, op, conversationID string, userID int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.NotFound(op, "conversation not found")
	}
	return conv, nil
}
