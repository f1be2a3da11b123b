// Package db defines the storage contracts of the vector backend. Keys are plain
// strings; callers namespace them under domain.KeyPrefix.
package db

import (
	"context"
	"time"
)

// Store is everything the service needs from Redis 8 / valkey-search.
type Store interface {
	Pinger
	VectorBackend
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// VectorBackend keeps one hash per vector and searches them through per-collection FT indexes.
type VectorBackend interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}

// KVStore holds the embedding cache and the token ledgers.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}
