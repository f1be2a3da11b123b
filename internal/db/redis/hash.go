package redis

import (
	"context"

	"github.com/kailas-cloud/hybridcoord/internal/db"
)

// HSet writes the vector hash of one knowledge entry.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	cmd := s.b().Hset().Key(key).FieldValue()
	for k, v := range fields {
		cmd = cmd.FieldValue(k, v)
	}
	return db.Wrap(db.OpHSet, key, s.do(ctx, cmd.Build()).Error())
}

// HGetAll reads a whole hash. Redis answers an empty map for a missing key,
// which is reported as db.ErrKeyNotFound.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.do(ctx, s.b().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, db.Wrap(db.OpHGetAll, key, err)
	}
	if len(m) == 0 {
		return nil, db.ErrKeyNotFound
	}
	return m, nil
}

// Del removes a key. Deleting a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	return db.Wrap(db.OpDel, key, s.do(ctx, s.b().Del().Key(key).Build()).Error())
}
