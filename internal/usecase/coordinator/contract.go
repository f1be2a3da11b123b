package coordinator

import (
	"context"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/health"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/retrieval"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/routing"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/validate"
)

// QueryValidator validates raw queries.
type QueryValidator interface {
	Validate(query, collection string, limit, offset int) (validate.Query, error)
}

// RateLimiter admits requests per client.
type RateLimiter interface {
	Allow(clientID string) error
}

// ReadinessProbe reports dependency health.
type ReadinessProbe interface {
	Ready(ctx context.Context) health.Report
}

// Retriever finds knowledge relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]domknow.Match, error)
}

// Router picks the inference backend.
type Router interface {
	Decide(query string, matches []domknow.Match, v routing.View) routing.Decision
}

// Backend answers prompts.
type Backend interface {
	Complete(ctx context.Context, p domain.Prompt) (domain.Completion, error)
	Name() string
}

// RecordQueue persists interactions off the request path.
type RecordQueue interface {
	Enqueue(in interaction.RecordInput) bool
}

// SavingsLedger accumulates tokens answered locally.
type SavingsLedger interface {
	Record(tokens int64)
}

// Recorder persists interactions synchronously.
type Recorder interface {
	Record(ctx context.Context, in interaction.RecordInput) (interaction.Result, error)
}
