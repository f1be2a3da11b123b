package interaction

import (
	"context"
	"time"

	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/repository/vector"
)

// Repository persists interactions.
type Repository interface {
	Save(ctx context.Context, in *dominter.Interaction) error
	Get(ctx context.Context, id string) (dominter.Interaction, error)
	Confirm(ctx context.Context, id string, md dominter.Metadata, valueScore float64) error
	Delete(ctx context.Context, id string) error
}

// KnowledgeWriter persists knowledge entries.
type KnowledgeWriter interface {
	Insert(ctx context.Context, e *domknow.Entry) error
	RecordOccurrence(ctx context.Context, id string, valueScore float64, now time.Time) error
	Delete(ctx context.Context, ids []string) (int, error)
}

// VectorIndex stores and searches knowledge embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, error)
}

// Scorer computes value scores and the promotion decision.
type Scorer interface {
	Score(md dominter.Metadata) (float64, error)
	Promote(score float64) bool
}
