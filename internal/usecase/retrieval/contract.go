package retrieval

import (
	"context"
	"time"

	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/repository/vector"
)

// VectorSearcher runs KNN over a collection's vector index.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, error)
}

// EntryReader hydrates knowledge entries and records that they were served.
type EntryReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]domknow.Entry, error)
	MarkRetrieved(ctx context.Context, ids []string, now time.Time) error
}
