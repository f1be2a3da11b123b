// Package retrieval finds prior knowledge relevant to a query.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/logger"
)

// Request is a retrieval over one collection, paged by Offset and K.
type Request struct {
	Text       string
	Collection string
	K          int
	Offset     int
}

// Service embeds queries and resolves KNN hits into knowledge entries.
type Service struct {
	embed   domain.Embedder
	vectors VectorSearcher
	entries EntryReader
	now     func() time.Time
}

// New creates a retrieval service. embed should already apply the query instruction.
func New(embed domain.Embedder, vectors VectorSearcher, entries EntryReader) *Service {
	return &Service{embed: embed, vectors: vectors, entries: entries, now: time.Now}
}

// Retrieve returns up to K matches ordered by similarity, skipping the first Offset hits.
// Hits whose row is gone (deleted, not yet collected from the index) are dropped.
func (s *Service) Retrieve(ctx context.Context, req Request) ([]domknow.Match, error) {
	if req.K <= 0 {
		return nil, nil
	}

	emb, err := s.embed.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, req.Collection, emb.Embedding, req.Offset+req.K)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.Collection, err)
	}
	if req.Offset >= len(hits) {
		return nil, nil
	}
	hits = hits[req.Offset:]

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := s.entries.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate entries: %w", err)
	}

	matches := make([]domknow.Match, 0, len(hits))
	served := make([]string, 0, len(hits))
	for _, h := range hits {
		e, ok := rows[h.ID]
		if !ok {
			continue
		}
		matches = append(matches, domknow.Match{Entry: e, Similarity: h.Score})
		served = append(served, h.ID)
	}

	if len(served) > 0 {
		if err := s.entries.MarkRetrieved(ctx, served, s.now()); err != nil {
			logger.FromContext(ctx).Warn("Failed to record retrieval hits",
				zap.Int("entries", len(served)), zap.Error(err))
		}
	}
	return matches, nil
}
