package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"user_id"`
	Name      *string   `json:"name"`
	Rules     *string   `json:"rules"`
	CreatedAt time.Time `json:"created_at"`

	// Populated by ListConversations only.
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

type Message struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Embedding is the vector for one message, keyed by the message id.
type Embedding struct {
	DocumentID     string
	ConversationID string
	Content        string
	Vector         []float32
}

type CalendarToken struct {
	UserID       int64
	AccessToken  string
	RefreshToken *string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// CandidateQuery selects prior messages of one conversation to score
// against a query vector.
type CandidateQuery struct {
	ConversationID string
	UserID         int64
	Query          string
	Vector         []float32
	Denylist       []string
	MinLength      int
	Limit          int
}

// ScoredDocument is a candidate with similarity = 1 - cosine distance.
// Returned newest first.
type ScoredDocument struct {
	DocumentID string
	Content    string
	Similarity float64
	CreatedAt  time.Time
}
