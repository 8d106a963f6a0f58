package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gwi.com/calendar-assistant/internal/apperr"
)

const testDims = 3

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore) (*User, *Conversation) {
	t.Helper()
	ctx := context.Background()
	user, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	return user, conv
}

func addIndexed(t *testing.T, s *SQLiteStore, convID, content string, vec []float32) Message {
	t.Helper()
	ctx := context.Background()
	msg := Message{ConversationID: convID, Role: RoleUser, Content: content}
	require.NoError(t, s.CreateMessage(ctx, &msg))
	require.NoError(t, s.StoreEmbedding(ctx, Embedding{DocumentID: msg.ID, ConversationID: convID, Content: content, Vector: vec}))
	return msg
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	_, err = s.CreateUser(ctx, "alice", "other")
	require.True(t, apperr.IsKind(err, apperr.KindValidation))

	got, err := s.GetUserByExternalID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	missing, err := s.GetUserByExternalID(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, conv := seedConversation(t, s)

	require.NoError(t, s.RenameConversation(ctx, conv.ID, user.ID, "Planning"))
	rules := "Answer in French."
	require.NoError(t, s.UpdateConversationRules(ctx, conv.ID, user.ID, &rules))

	got, err := s.GetConversation(ctx, conv.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, "Planning", *got.Name)
	require.Equal(t, rules, *got.Rules)

	other, err := s.GetConversation(ctx, conv.ID, user.ID+1)
	require.NoError(t, err)
	require.Nil(t, other)

	err = s.RenameConversation(ctx, "missing", user.ID, "x")
	require.True(t, apperr.IsKind(err, apperr.KindNotFound))

	for _, content := range []string{"first", "second"} {
		require.NoError(t, s.CreateMessage(ctx, &Message{ConversationID: conv.ID, Role: RoleUser, Content: content}))
	}
	msgs, err := s.ListMessages(ctx, conv.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)

	convs, err := s.ListConversations(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].MessageCount)
	require.NotNil(t, convs[0].LastMessageAt)
	require.WithinDuration(t, msgs[1].CreatedAt, *convs[0].LastMessageAt, time.Second)
}

func TestSimilarDocumentsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, conv := seedConversation(t, s)

	addIndexed(t, s, conv.ID, "the quarterly roadmap review", []float32{1, 0, 0})
	addIndexed(t, s, conv.ID, "short", []float32{1, 0, 0})
	addIndexed(t, s, conv.ID, "What did we decide yesterday?", []float32{1, 0, 0})
	addIndexed(t, s, conv.ID, "budget numbers for marketing", []float32{0, 1, 0})
	addIndexed(t, s, conv.ID, "how do b-trees balance?", []float32{1, 0, 0})

	_, otherConv := seedConversationFor(t, s, "bob")
	addIndexed(t, s, otherConv.ID, "another user's roadmap notes", []float32{1, 0, 0})

	docs, err := s.SimilarDocuments(ctx, CandidateQuery{
		ConversationID: conv.ID,
		UserID:         user.ID,
		Query:          "how do b-trees balance?",
		Vector:         []float32{1, 0, 0},
		Denylist:       []string{"what did we", "discuss", "talk about"},
		MinLength:      10,
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// newest first
	require.Equal(t, "budget numbers for marketing", docs[0].Content)
	require.InDelta(t, 0.0, docs[0].Similarity, 1e-6)
	require.Equal(t, "the quarterly roadmap review", docs[1].Content)
	require.InDelta(t, 1.0, docs[1].Similarity, 1e-6)

	// wrong owner sees nothing
	docs, err = s.SimilarDocuments(ctx, CandidateQuery{ConversationID: conv.ID, UserID: user.ID + 100, Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func seedConversationFor(t *testing.T, s *SQLiteStore, name string) (*User, *Conversation) {
	t.Helper()
	ctx := context.Background()
	user, err := s.CreateUser(ctx, name, "hash")
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	return user, conv
}

func TestStoreEmbeddingRejectsWrongDimensions(t *testing.T) {
	s := newTestStore(t)
	_, conv := seedConversation(t, s)
	msg := Message{ConversationID: conv.ID, Role: RoleUser, Content: "hello there"}
	require.NoError(t, s.CreateMessage(context.Background(), &msg))

	err := s.StoreEmbedding(context.Background(), Embedding{DocumentID: msg.ID, ConversationID: conv.ID, Content: msg.Content, Vector: []float32{1}})
	require.Error(t, err)
}

func TestCalendarTokenUpsertPreservesRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	refresh := "refresh-1"
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	tok, err := s.UpsertCalendarToken(ctx, CalendarToken{UserID: 7, AccessToken: "a1", RefreshToken: &refresh, Expiry: expiry})
	require.NoError(t, err)
	require.Equal(t, "refresh-1", *tok.RefreshToken)

	empty := ""
	tok, err = s.UpsertCalendarToken(ctx, CalendarToken{UserID: 7, AccessToken: "a2", RefreshToken: &empty, Expiry: expiry.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "a2", tok.AccessToken)
	require.NotNil(t, tok.RefreshToken)
	require.Equal(t, "refresh-1", *tok.RefreshToken)
	require.True(t, tok.Expiry.Equal(expiry.Add(time.Hour)))

	require.NoError(t, s.DeleteCalendarToken(ctx, 7))
	tok, err = s.GetCalendarToken(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, tok)
}
