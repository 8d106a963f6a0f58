package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"gwi.com/calendar-assistant/internal/apperr"
)

const pgUniqueViolation = "23505"

// PostgresStore stores embeddings in a pgvector column and lets the
// database compute cosine distance.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

func NewPostgresStore(ctx context.Context, connString string, dimensions int) (*PostgresStore, error) {
	// The vector type must exist before the pool registers its codec.
	if err := ensureVectorExtension(ctx, connString); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, dimensions: dimensions}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func ensureVectorExtension(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users (id),
        name TEXT,
        rules TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        conversation_id TEXT NOT NULL REFERENCES conversations (id),
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS document_embeddings (
        document_id TEXT PRIMARY KEY REFERENCES messages (id),
        conversation_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding vector(%d) NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS calendar_tokens (
        user_id BIGINT PRIMARY KEY,
        access_token TEXT NOT NULL,
        refresh_token TEXT,
        expiry TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    `, s.dimensions)
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// User methods
func (s *PostgresStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = $1", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error) {
	user := User{ExternalUserID: externalUserID, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx, "INSERT INTO users (external_user_id, password_hash) VALUES ($1, $2) RETURNING id, created_at", externalUserID, passwordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, apperr.Validation("store.create_user", "user already exists")
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

// Conversation methods
func (s *PostgresStore) CreateConversation(ctx context.Context, userID int64, name *string) (*Conversation, error) {
	conv := &Conversation{ID: uuid.NewString(), UserID: userID, Name: name}
	err := s.pool.QueryRow(ctx, "INSERT INTO conversations (id, user_id, name) VALUES ($1, $2, $3) RETURNING created_at", conv.ID, userID, name).
		Scan(&conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string, userID int64) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx, "SELECT id, user_id, name, rules, created_at FROM conversations WHERE id = $1 AND user_id = $2", conversationID, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Name, &conv.Rules, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT c.id, c.user_id, c.name, c.rules, c.created_at, COUNT(m.id), MAX(m.created_at)
        FROM conversations c
        LEFT JOIN messages m ON m.conversation_id = c.id
        WHERE c.user_id = $1
        GROUP BY c.id
        ORDER BY COALESCE(MAX(m.created_at), c.created_at) DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Name, &conv.Rules, &conv.CreatedAt, &conv.MessageCount, &conv.LastMessageAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) RenameConversation(ctx context.Context, conversationID string, userID int64, name string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE conversations SET name = $1 WHERE id = $2 AND user_id = $3", name, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("store.rename_conversation", "conversation not found")
	}
	return nil
}

func (s *PostgresStore) UpdateConversationRules(ctx context.Context, conversationID string, userID int64, rules *string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE conversations SET rules = $1 WHERE id = $2 AND user_id = $3", rules, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation rules: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("store.update_rules", "conversation not found")
	}
	return nil
}

// Message methods
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	err := s.pool.QueryRow(ctx, "INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, $3, $4) RETURNING created_at",
		msg.ID, msg.ConversationID, msg.Role, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3",
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Embedding methods
func (s *PostgresStore) StoreEmbedding(ctx context.Context, emb Embedding) error {
	if len(emb.Vector) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(emb.Vector), s.dimensions)
	}
	_, err := s.pool.Exec(ctx, "INSERT INTO document_embeddings (document_id, conversation_id, content, embedding) VALUES ($1, $2, $3, $4)",
		emb.DocumentID, emb.ConversationID, emb.Content, pgvector.NewVector(emb.Vector))
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) SimilarDocuments(ctx context.Context, q CandidateQuery) ([]ScoredDocument, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT e.document_id, e.content, 1 - (e.embedding <=> $1) AS similarity, m.created_at
        FROM document_embeddings e
        JOIN messages m ON m.id = e.document_id
        JOIN conversations c ON c.id = m.conversation_id
        WHERE m.conversation_id = $2 AND c.user_id = $3
          AND e.content <> $4
          AND NOT (LOWER(e.content) LIKE ANY($5::text[]))
          AND LENGTH(e.content) > $6
        ORDER BY m.created_at DESC
        LIMIT $7
    `, pgvector.NewVector(q.Vector), q.ConversationID, q.UserID, q.Query, likePatterns(q.Denylist), q.MinLength, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate documents: %w", err)
	}
	defer rows.Close()

	var docs []ScoredDocument
	for rows.Next() {
		var doc ScoredDocument
		if err := rows.Scan(&doc.DocumentID, &doc.Content, &doc.Similarity, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Calendar token methods
func (s *PostgresStore) GetCalendarToken(ctx context.Context, userID int64) (*CalendarToken, error) {
	var tok CalendarToken
	err := s.pool.QueryRow(ctx, "SELECT user_id, access_token, refresh_token, expiry, updated_at FROM calendar_tokens WHERE user_id = $1", userID).
		Scan(&tok.UserID, &tok.AccessToken, &tok.RefreshToken, &tok.Expiry, &tok.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get calendar token: %w", err)
	}
	return &tok, nil
}

func (s *PostgresStore) UpsertCalendarToken(ctx context.Context, tok CalendarToken) (*CalendarToken, error) {
	var out CalendarToken
	err := s.pool.QueryRow(ctx, `
        INSERT INTO calendar_tokens (user_id, access_token, refresh_token, expiry, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = COALESCE(EXCLUDED.refresh_token, calendar_tokens.refresh_token),
            expiry = EXCLUDED.expiry,
            updated_at = EXCLUDED.updated_at
        RETURNING user_id, access_token, refresh_token, expiry, updated_at
    `, tok.UserID, tok.AccessToken, normalizeRefreshToken(tok.RefreshToken), tok.Expiry, time.Now()).
		Scan(&out.UserID, &out.AccessToken, &out.RefreshToken, &out.Expiry, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert calendar token: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) DeleteCalendarToken(ctx context.Context, userID int64) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM calendar_tokens WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to delete calendar token: %w", err)
	}
	return nil
}
