// Package vector stores knowledge embeddings in per-collection FT indexes.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/hybridcoord/internal/db"
	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

const (
	fieldVector     = "__vector"
	fieldEntryID    = "entry_id"
	fieldCollection = "collection"
)

// store is the consumer interface for the vector index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Hit is one KNN result: the entry ID, cosine similarity and stored payload.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// Repo is the vector index collaborator: upsert, search, delete, collection_exists.
type Repo struct {
	store     store
	dimension int
	hnsw      HNSWConfig
}

// New creates a vector repository for embeddings of the given dimension.
func New(s store, dimension int) *Repo {
	return &Repo{store: s, dimension: dimension, hnsw: HNSWConfig{M: 16, EFConstruct: 200}}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// EnsureCollection creates the collection index when it does not exist yet.
func (r *Repo) EnsureCollection(ctx context.Context, collection string) error {
	err := r.store.CreateIndex(ctx, buildIndex(collection, r.dimension, r.hnsw))
	if err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index for %s: %w", collection, err)
	}
	return nil
}

// CollectionExists reports whether the collection index is present.
func (r *Repo) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ok, err := r.store.IndexExists(ctx, indexName(collection))
	if err != nil {
		return false, fmt.Errorf("index exists %s: %w", collection, err)
	}
	return ok, nil
}

// Upsert writes the vector with its payload under id.
func (r *Repo) Upsert(
	ctx context.Context, collection, id string, vec []float32, payload map[string]string,
) error {
	if len(vec) != r.dimension {
		return fmt.Errorf("vector dimension %d, index expects %d", len(vec), r.dimension)
	}

	fields := make(map[string]string, len(payload)+3)
	for k, v := range payload {
		fields[k] = v
	}
	fields[fieldVector] = db.EncodeVector(vec)
	fields[fieldEntryID] = id
	fields[fieldCollection] = collection

	if err := r.store.HSet(ctx, entryKey(collection, id), fields); err != nil {
		return fmt.Errorf("hset %s: %w", id, err)
	}
	return nil
}

// Search returns the k nearest entries to vec, most similar first.
func (r *Repo) Search(ctx context.Context, collection string, vec []float32, k int) ([]Hit, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(collection),
		Vector:       vec,
		K:            k,
		ReturnFields: []string{fieldEntryID, fieldCollection},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("collection %s: %w", collection, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("knn %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := e.Fields[fieldEntryID]
		if id == "" {
			id = idFromKey(collection, e.Key)
		}
		hits = append(hits, Hit{ID: id, Score: e.Score, Payload: e.Fields})
	}
	return hits, nil
}

// Vector returns the stored embedding of an entry.
func (r *Repo) Vector(ctx context.Context, collection, id string) ([]float32, error) {
	fields, err := r.store.HGetAll(ctx, entryKey(collection, id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("hgetall %s: %w", id, err)
	}
	blob, ok := fields[fieldVector]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return db.DecodeVector(blob)
}

// Delete removes an entry's vector. Deleting a missing entry is not an error.
func (r *Repo) Delete(ctx context.Context, collection, id string) error {
	if err := r.store.Del(ctx, entryKey(collection, id)); err != nil {
		return fmt.Errorf("del %s: %w", id, err)
	}
	return nil
}
