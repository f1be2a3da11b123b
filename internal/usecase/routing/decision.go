// Package routing decides which inference backend answers a query.
package routing

import (
	"github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
)

// Decision reasons.
const (
	ReasonLocalUnhealthy       = "local_unhealthy"
	ReasonHighSimilaritySimple = "high_similarity_simple"
	ReasonNoContext            = "no_context"
	ReasonLowSimilarity        = "low_similarity"
	ReasonComplexQuery         = "complex_query"
)

// DefaultSimilarityThreshold is the top similarity at which local inference is trusted.
const DefaultSimilarityThreshold = 0.85

// View is the dependency state a decision is taken against.
type View struct {
	LocalHealthy bool
}

// Decision is the chosen route and why.
type Decision struct {
	Route         route.Route
	Reason        string
	TopSimilarity float64
}

// Engine is the routing decision engine. It performs no I/O.
type Engine struct {
	threshold  float64
	classifier Classifier
}

// NewEngine creates an Engine. A non-positive threshold uses DefaultSimilarityThreshold.
func NewEngine(threshold float64, classifier Classifier) *Engine {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Engine{threshold: threshold, classifier: classifier}
}

// Decide picks local only when local is healthy, the best match clears the threshold,
// and the query is simple. Everything else goes remote.
func (e *Engine) Decide(query string, matches []knowledge.Match, v View) Decision {
	top := knowledge.TopSimilarity(matches)
	d := Decision{Route: route.Remote, TopSimilarity: top}

	switch {
	case !v.LocalHealthy:
		d.Reason = ReasonLocalUnhealthy
	case len(matches) == 0:
		d.Reason = ReasonNoContext
	case top < e.threshold:
		d.Reason = ReasonLowSimilarity
	case !e.classifier.IsSimple(query):
		d.Reason = ReasonComplexQuery
	default:
		d.Route = route.Local
		d.Reason = ReasonHighSimilaritySimple
	}
	return d
}
