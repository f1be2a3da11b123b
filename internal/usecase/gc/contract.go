package gc

import (
	"context"
	"time"

	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/repository/vector"
)

// KnowledgeStore is the relational side of the knowledge base.
type KnowledgeStore interface {
	Get(ctx context.Context, id string) (domknow.Entry, error)
	Count(ctx context.Context) (int, error)
	AgedLowValue(ctx context.Context, lastSeenBefore, createdBefore time.Time, minScore float64) ([]domknow.Ref, error)
	LowestValue(ctx context.Context, n int) ([]domknow.Ref, error)
	RankedRefs(ctx context.Context) ([]domknow.Ref, error)
	Orphans(ctx context.Context, createdBefore time.Time) ([]domknow.Ref, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Merge(ctx context.Context, survivorID, loserID string) (domknow.Entry, error)
}

// VectorIndex is the vector side of the knowledge base.
type VectorIndex interface {
	Vector(ctx context.Context, collection, id string) ([]float32, error)
	Search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, error)
	Delete(ctx context.Context, collection, id string) error
}
