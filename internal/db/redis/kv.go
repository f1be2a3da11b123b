package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/hybridcoord/internal/db"
)

// Get reads a string value. A missing key yields db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.do(ctx, s.b().Get().Key(key).Build()).AsBytes()
	if rueidis.IsRedisNil(err) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, db.Wrap(db.OpGet, key, err)
	}
	return data, nil
}

// SetWithTTL writes a value with SET EX.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.b().Set().Key(key).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	return db.Wrap(db.OpSet, key, s.do(ctx, cmd).Error())
}

// IncrBy adds val to a ledger counter.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	cmd := s.b().Incrby().Key(key).Increment(val).Build()
	return db.Wrap(db.OpIncrBy, key, s.do(ctx, cmd).Error())
}

// Expire sets a TTL in whole seconds. nx only sets it when the key has none yet,
// so repeated ledger writes keep the expiry of the first one.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error {
	exp := s.b().Expire().Key(key).Seconds(int64(ttl / time.Second))
	if nx {
		return db.Wrap(db.OpExpire, key, s.do(ctx, exp.Nx().Build()).Error())
	}
	return db.Wrap(db.OpExpire, key, s.do(ctx, exp.Build()).Error())
}
