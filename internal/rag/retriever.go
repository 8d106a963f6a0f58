// Package rag retrieves earlier messages of a conversation that are
// relevant to a new one.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/config"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/store"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector side of the store.
type Index interface {
	StoreEmbedding(ctx context.Context, emb store.Embedding) error
	SimilarDocuments(ctx context.Context, q store.CandidateQuery) ([]store.ScoredDocument, error)
}

type Document struct {
	Content    string
	Similarity float64
	CreatedAt  time.Time
}

type Retriever struct {
	embedder Embedder
	index    Index
	cfg      config.RAGConfig
	log      *logger.Logger
}

func NewRetriever(embedder Embedder, index Index, cfg config.RAGConfig, log *logger.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, cfg: cfg, log: log}
}

// Retrieve returns up to limit documents, or the configured default when
// limit is not positive. It never fails: errors are logged and yield an
// empty result.
func (r *Retriever) Retrieve(ctx context.Context, query, conversationID string, userID int64, limit int) []Document {
	if conversationID == "" || userID == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}

	docs, err := r.candidates(ctx, query, conversationID, userID)
	if err != nil {
		r.log.Warn("context retrieval failed, continuing without context",
			"conversation_id", conversationID, "error", apperr.FromContext("rag.retrieve", err))
		return nil
	}

	ranked := Rank(docs, r.cfg.SimilarityThreshold, r.cfg.RecencyWindow)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	r.log.Debug("retrieved context", "conversation_id", conversationID, "candidate_count", len(docs), "result_count", len(ranked))
	return ranked
}

func (r *Retriever) candidates(ctx context.Context, query, conversationID string, userID int64) ([]Document, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := r.index.SimilarDocuments(ctx, store.CandidateQuery{
		ConversationID: conversationID,
		UserID:         userID,
		Query:          query,
		Vector:         vec,
		Denylist:       r.cfg.Denylist,
		MinLength:      r.cfg.MinContentLength,
		Limit:          r.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("similar documents: %w", err)
	}

	docs := make([]Document, 0, len(scored))
	for _, s := range scored {
		docs = append(docs, Document{Content: s.Content, Similarity: s.Similarity, CreatedAt: s.CreatedAt})
	}
	return docs, nil
}

// IndexMessage embeds msg and stores the vector under the message id.
func (r *Retriever) IndexMessage(ctx context.Context, msg store.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("embed message %s: %w", msg.ID, err)
	}
	return r.index.StoreEmbedding(ctx, store.Embedding{
		DocumentID:     msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Vector:         vec,
	})
}

// Rank drops documents at or below threshold and orders the rest newest
// first. Two documents created within window of each other are ordered by
// similarity instead. The comparison is pairwise and candidates are few, so
// the stable insertion pass settles on an order that satisfies every pair
// whenever one exists.
func Rank(docs []Document, threshold float64, window time.Duration) []Document {
	kept := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Similarity > threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if withinWindow(a.CreatedAt, b.CreatedAt, window) {
			return a.Similarity > b.Similarity
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return kept
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
