package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/utils"
)

// SQLiteStore keeps embeddings as JSON text and scores them in process.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

func NewSQLiteStore(dataSourceName string, dimensions int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, dimensions: dimensions}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        name TEXT,
        rules TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS document_embeddings (
        document_id TEXT PRIMARY KEY,
        conversation_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT NOT NULL, -- JSON array of float32
        FOREIGN KEY (document_id) REFERENCES messages (id)
    );

    CREATE TABLE IF NOT EXISTS calendar_tokens (
        user_id INTEGER PRIMARY KEY,
        access_token TEXT NOT NULL,
        refresh_token TEXT,
        expiry DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (external_user_id, password_hash, created_at) VALUES (?, ?, ?)", externalUserID, passwordHash, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, apperr.Validation("store.create_user", "user already exists")
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, ExternalUserID: externalUserID, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID int64, name *string) (*Conversation, error) {
	conv := &Conversation{ID: uuid.NewString(), UserID: userID, Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, "INSERT INTO conversations (id, user_id, name, created_at) VALUES (?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Name, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string, userID int64) (*Conversation, error) {
	var conv Conversation
	var name, rules sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, name, rules, created_at FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID).
		Scan(&conv.ID, &conv.UserID, &name, &rules, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.Name = nullString(name)
	conv.Rules = nullString(rules)
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.user_id, c.name, c.rules, c.created_at, COUNT(m.id), MAX(m.created_at)
        FROM conversations c
        LEFT JOIN messages m ON m.conversation_id = c.id
        WHERE c.user_id = ?
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
		var name, rules, lastMessageAt sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &name, &rules, &conv.CreatedAt, &conv.MessageCount, &lastMessageAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conv.Name = nullString(name)
		conv.Rules = nullString(rules)
		// Aggregates lose the column type, so the driver hands back text.
		if lastMessageAt.Valid {
			if t, ok := parseSQLiteTime(lastMessageAt.String); ok {
				conv.LastMessageAt = &t
			}
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, conversationID string, userID int64, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET name = ? WHERE id = ? AND user_id = ?", name, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return requireAffected(res, "store.rename_conversation")
}

func (s *SQLiteStore) UpdateConversationRules(ctx context.Context, conversationID string, userID int64, rules *string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET rules = ? WHERE id = ? AND user_id = ?", rules, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation rules: %w", err)
	}
	return requireAffected(res, "store.update_rules")
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, "INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?",
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
func (s *SQLiteStore) StoreEmbedding(ctx context.Context, emb Embedding) error {
	if len(emb.Vector) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(emb.Vector), s.dimensions)
	}
	embeddingBytes, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, "INSERT INTO document_embeddings (document_id, conversation_id, content, embedding_json) VALUES (?, ?, ?, ?)",
		emb.DocumentID, emb.ConversationID, emb.Content, string(embeddingBytes))
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// SimilarDocuments applies the candidate filters in SQL and scores the
// survivors with cosine similarity in Go.
func (s *SQLiteStore) SimilarDocuments(ctx context.Context, q CandidateQuery) ([]ScoredDocument, error) {
	query := `
        SELECT e.document_id, e.content, e.embedding_json, m.created_at
        FROM document_embeddings e
        JOIN messages m ON m.id = e.document_id
        JOIN conversations c ON c.id = m.conversation_id
        WHERE m.conversation_id = ? AND c.user_id = ?
          AND e.content != ?
          AND LENGTH(e.content) > ?`
	args := []interface{}{q.ConversationID, q.UserID, q.Query, q.MinLength}
	for _, p := range likePatterns(q.Denylist) {
		query += "\n          AND LOWER(e.content) NOT LIKE ?"
		args = append(args, p)
	}
	query += "\n        ORDER BY m.created_at DESC\n        LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate documents: %w", err)
	}
	defer rows.Close()

	var docs []ScoredDocument
	for rows.Next() {
		var doc ScoredDocument
		var embeddingJSON string
		if err := rows.Scan(&doc.DocumentID, &doc.Content, &embeddingJSON, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for %s: %w", doc.DocumentID, err)
		}
		sim, err := utils.CosineSimilarity(q.Vector, vec)
		if err != nil {
			return nil, fmt.Errorf("failed to score document %s: %w", doc.DocumentID, err)
		}
		doc.Similarity = float64(sim)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Calendar token methods
func (s *SQLiteStore) GetCalendarToken(ctx context.Context, userID int64) (*CalendarToken, error) {
	var tok CalendarToken
	var refresh sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT user_id, access_token, refresh_token, expiry, updated_at FROM calendar_tokens WHERE user_id = ?", userID).
		Scan(&tok.UserID, &tok.AccessToken, &refresh, &tok.Expiry, &tok.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get calendar token: %w", err)
	}
	tok.RefreshToken = nullString(refresh)
	return &tok, nil
}

// UpsertCalendarToken keeps the stored refresh token when tok has none.
func (s *SQLiteStore) UpsertCalendarToken(ctx context.Context, tok CalendarToken) (*CalendarToken, error) {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO calendar_tokens (user_id, access_token, refresh_token, expiry, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            access_token = excluded.access_token,
            refresh_token = COALESCE(excluded.refresh_token, calendar_tokens.refresh_token),
            expiry = excluded.expiry,
            updated_at = excluded.updated_at
    `, tok.UserID, tok.AccessToken, normalizeRefreshToken(tok.RefreshToken), tok.Expiry.UTC(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert calendar token: %w", err)
	}
	return s.GetCalendarToken(ctx, tok.UserID)
}

func (s *SQLiteStore) DeleteCalendarToken(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM calendar_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete calendar token: %w", err)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func requireAffected(res sql.Result, op string) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.NotFound(op, "conversation not found")
	}
	return nil
}

func parseSQLiteTime(v string) (time.Time, bool) {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
