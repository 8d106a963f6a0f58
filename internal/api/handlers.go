package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/auth"
	"gwi.com/calendar-assistant/internal/calendar"
	"gwi.com/calendar-assistant/internal/core"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/store"
	"gwi.com/calendar-assistant/internal/timeparse"
)

type Users interface {
	CreateUser(ctx context.Context, externalUserID, passwordHash string) (*store.User, error)
	GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error)
}

type Chats interface {
	PostMessage(ctx context.Context, userID int64, conversationID, content string) (*core.Reply, error)
	CreateConversation(ctx context.Context, userID int64, name string) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string, userID int64) (*store.Conversation, []store.Message, error)
	Messages(ctx context.Context, conversationID string, userID int64, limit, offset int) ([]store.Message, error)
	Rename(ctx context.Context, conversationID string, userID int64, name string) error
	UpdateRules(ctx context.Context, conversationID string, userID int64, rules string) error
	AddMessage(ctx context.Context, conversationID string, userID int64, role, content string) (*store.Message, error)
}

type CalendarConnections interface {
	AuthURL(userID int64) (string, error)
	HandleCallback(ctx context.Context, code, state string) (int64, error)
	Status(ctx context.Context, userID int64) (calendar.Status, error)
	Disconnect(ctx context.Context, userID int64) error
}

type CalendarEvents interface {
	ListEvents(ctx context.Context, userID int64, start, end time.Time) ([]calendar.Event, error)
	InsertEvent(ctx context.Context, userID int64, ev calendar.NewEvent) (*calendar.Event, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Users       Users
	Chats       Chats
	Issuer      *auth.Issuer
	Connections CalendarConnections
	Events      CalendarEvents
	Parser      *timeparse.Parser
	FrontendURL string
	Log         *logger.Logger
}

type APIHandler struct {
	users       Users
	chats       Chats
	issuer      *auth.Issuer
	connections CalendarConnections
	events      CalendarEvents
	parser      *timeparse.Parser
	frontendURL string
	log         *logger.Logger
}

func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{
		users:       d.Users,
		chats:       d.Chats,
		issuer:      d.Issuer,
		connections: d.Connections,
		events:      d.Events,
		parser:      d.Parser,
		frontendURL: strings.TrimRight(d.FrontendURL, "/"),
		log:         d.Log,
	}
}

type ctxKey int

const userIDKey ctxKey = 0

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := h.issuer.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.users.GetUserByExternalID(r.Context(), externalUserID)
		if err != nil {
			h.log.Error("failed to resolve user from token", "external_user_id", externalUserID, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication, apperr.KindTokenRefresh:
		return http.StatusUnauthorized
	case apperr.KindCalendarNotConnected:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExternalService:
		if apperr.IsRetryable(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := apperr.UserMessage(err, "Internal server error")
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("api.decode", "Invalid request body: "+err.Error())
	}
	return nil
}

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.UserID == "" || req.Password == "" {
		h.writeError(w, r, apperr.Validation("api.signup", "User ID and password are required"))
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.users.CreateUser(r.Context(), req.UserID, hashedPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.UserID == "" || req.Password == "" {
		h.writeError(w, r, apperr.Validation("api.login", "User ID and password are required"))
		return
	}

	user, err := h.users.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		h.writeError(w, r, apperr.Authentication("api.login", "Invalid credentials", nil))
		return
	}

	token, err := h.issuer.GenerateJWT(req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createChatRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	conv, err := h.chats.CreateConversation(r.Context(), userIDFrom(r.Context()), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chats.ListConversations(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

type chatDetailsResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	conv, messages, err := h.chats.GetConversation(r.Context(), chi.URLParam(r, "chatID"), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, chatDetailsResponse{Conversation: conv, Messages: messages})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.chats.Rename(r.Context(), chi.URLParam(r, "chatID"), userIDFrom(r.Context()), req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rulesRequest struct {
	Rules string `json:"rules"`
}

func (h *APIHandler) UpdateRulesHandler(w http.ResponseWriter, r *http.Request) {
	var req rulesRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.chats.UpdateRules(r.Context(), chi.URLParam(r, "chatID"), userIDFrom(r.Context()), req.Rules); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := h.chats.Messages(r.Context(), chi.URLParam(r, "chatID"), userIDFrom(r.Context()), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type postMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, r, apperr.Validation("api.chat", "Message content cannot be empty"))
		return
	}

	reply, err := h.chats.PostMessage(r.Context(), userIDFrom(r.Context()), req.ConversationID, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *APIHandler) AddMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = store.RoleUser
	}
	msg, err := h.chats.AddMessage(r.Context(), chi.URLParam(r, "chatID"), userIDFrom(r.Context()), req.Role, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
