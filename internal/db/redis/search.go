package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/hybridcoord/internal/db"
)

// scoreField is the distance field FT.SEARCH adds for the aliased vector.
const scoreField = "__vector_score"

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Cosine distance is converted to similarity: 1 - d, floored at 0.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	args := []string{q.IndexName, fmt.Sprintf("*=>[KNN %d @vector $BLOB]", q.K)}
	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, scoreField)
	}
	args = append(args,
		"SORTBY", scoreField,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", db.EncodeVector(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if serverErrContains(err, "no such index", "unknown index name") {
			return nil, db.ErrIndexNotFound
		}
		return nil, db.Wrap(db.OpSearch, q.IndexName, err)
	}

	return parseKNNResult(raw)
}

// parseKNNResult reads the RESP2 reply [total, key1, [f1, v1, ...], key2, ...].
// Malformed pairs are skipped rather than failing the whole search.
func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	res := &db.SearchResult{}
	if len(raw) == 0 {
		return res, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("FT.SEARCH reply: total: %w", err)
	}
	res.Total = int(total)

	for rest := raw[1:]; len(rest) >= 2; rest = rest[2:] {
		key, kerr := rest[0].ToString()
		pairs, ferr := rest[1].ToArray()
		if kerr != nil || ferr != nil {
			continue
		}
		fields := make(map[string]string, len(pairs)/2)
		for ; len(pairs) >= 2; pairs = pairs[2:] {
			name, nerr := pairs[0].ToString()
			val, verr := pairs[1].ToString()
			if nerr == nil && verr == nil {
				fields[name] = val
			}
		}
		entry := db.SearchEntry{Key: key, Fields: fields}
		if d, ok := fields[scoreField]; ok {
			entry.Score = similarity(d)
			delete(fields, scoreField)
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

// similarity converts a cosine distance reply to a score in [0,1]. Unparseable distances score 0.
func similarity(distance string) float64 {
	d, err := strconv.ParseFloat(distance, 64)
	if err != nil {
		return 0
	}
	return min(1, max(0, 1-d))
}
