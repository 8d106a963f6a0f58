package store

import (
	"context"
	"fmt"
	"strings"
)

// Store is the persistence surface shared by the SQLite and Postgres backends.
type Store interface {
	CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error)

	CreateConversation(ctx context.Context, userID int64, name *string) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID string, userID int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]Conversation, error)
	RenameConversation(ctx context.Context, conversationID string, userID int64, name string) error
	UpdateConversationRules(ctx context.Context, conversationID string, userID int64, rules *string) error

	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)

	StoreEmbedding(ctx context.Context, emb Embedding) error
	SimilarDocuments(ctx context.Context, q CandidateQuery) ([]ScoredDocument, error)

	GetCalendarToken(ctx context.Context, userID int64) (*CalendarToken, error)
	UpsertCalendarToken(ctx context.Context, tok CalendarToken) (*CalendarToken, error)
	DeleteCalendarToken(ctx context.Context, userID int64) error

	Close() error
}

// Open picks a backend by driver name.
func Open(ctx context.Context, driver, dsn string, dimensions int) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn, dimensions)
	case "postgres":
		return NewPostgresStore(ctx, dsn, dimensions)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func likePatterns(denylist []string) []string {
	out := make([]string, 0, len(denylist))
	for _, d := range denylist {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, "%"+d+"%")
		}
	}
	return out
}

func normalizeRefreshToken(rt *string) *string {
	if rt == nil || *rt == "" {
		return nil
	}
	return rt
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
