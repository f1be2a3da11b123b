package vector

import (
	"strings"

	"github.com/kailas-cloud/hybridcoord/internal/db"
	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

func collectionPrefix(collection string) string {
	return domain.KeyPrefix + collection + ":"
}

func indexName(collection string) string {
	return collectionPrefix(collection) + "idx"
}

func entryKey(collection, id string) string {
	return collectionPrefix(collection) + id
}

func idFromKey(collection, key string) string {
	return strings.TrimPrefix(key, collectionPrefix(collection))
}

// buildIndex defines the per-collection index: two tag fields and the cosine HNSW vector.
func buildIndex(collection string, dimension int, hnsw HNSWConfig) *db.IndexDefinition {
	return &db.IndexDefinition{
		Name:     indexName(collection),
		Prefixes: []string{collectionPrefix(collection)},
		Fields: []db.IndexField{
			{Name: fieldEntryID, Type: db.FieldTag},
			{Name: fieldCollection, Type: db.FieldTag},
			{
				Name:  fieldVector,
				Alias: "vector",
				Type:  db.FieldVector,
				Vector: &db.HNSW{
					Dim:            dimension,
					M:              hnsw.M,
					EFConstruction: hnsw.EFConstruct,
				},
			},
		},
	}
}
