package redis

import (
	"context"
	"strconv"

	"github.com/kailas-cloud/hybridcoord/internal/db"
)

// CreateIndex runs FT.CREATE ON HASH for one collection. An existing index yields db.ErrIndexExists.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(buildCreateArgs(def)...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if serverErrContains(err, "index already exists") {
			return db.ErrIndexExists
		}
		return db.Wrap(db.OpCreateIndex, def.Name, err)
	}
	return nil
}

// IndexExists probes the index with FT.INFO. Redis and valkey-search word the
// missing-index error differently; both mean absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if serverErrContains(err, "unknown index name", "not found") {
			return false, nil
		}
		return false, db.Wrap(db.OpIndexInfo, name, err)
	}
	return true, nil
}

func buildCreateArgs(idx *db.IndexDefinition) []string {
	args := []string{idx.Name, "ON", "HASH"}

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	args = append(args, "SCHEMA")
	for i := range idx.Fields {
		args = append(args, buildFieldArgs(&idx.Fields[i])...)
	}
	return args
}

func buildFieldArgs(f *db.IndexField) []string {
	args := []string{f.Name}
	if f.Alias != "" {
		args = append(args, "AS", f.Alias)
	}
	if f.Type != db.FieldVector {
		return append(args, "TAG")
	}

	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.Vector.Dim),
		"DISTANCE_METRIC", "COSINE",
	}
	if f.Vector.M > 0 {
		attrs = append(attrs, "M", strconv.Itoa(f.Vector.M))
	}
	if f.Vector.EFConstruction > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.Vector.EFConstruction))
	}
	args = append(args, "VECTOR", "HNSW", strconv.Itoa(len(attrs)))
	return append(args, attrs...)
}
