package interaction

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
)

// MaxResponseSize is the maximum stored response size in bytes.
const MaxResponseSize = 262144 // 256KB

// Metadata holds the value-score inputs supplied by the inference layer.
// Numeric fields are expected in [0,1]; range checks belong to the scorer.
type Metadata struct {
	Complexity  float64
	Reusability float64
	Novelty     float64
	Confirmed   bool
	Impact      float64
}

// Interaction is one query/response exchange (immutable except for confirmation).
type Interaction struct {
	id         string
	query      string
	response   string
	collection string
	route      route.Route
	relevance  float64
	metadata   Metadata
	valueScore float64
	createdAt  time.Time
}

// New validates and creates an Interaction.
func New(
	id, query, response, collection string, r route.Route,
	relevance float64, md Metadata, valueScore float64, createdAt time.Time,
) (Interaction, error) {
	if id == "" {
		return Interaction{}, fmt.Errorf("interaction ID is required")
	}
	if query == "" {
		return Interaction{}, fmt.Errorf("query is required")
	}
	if len(response) > MaxResponseSize {
		return Interaction{}, fmt.Errorf("response too large (max %d bytes)", MaxResponseSize)
	}
	if !r.IsValid() {
		return Interaction{}, fmt.Errorf("invalid routing decision %q", r)
	}
	if relevance < 0 || relevance > 1 {
		return Interaction{}, fmt.Errorf("relevance score must be within [0,1], got %v", relevance)
	}

	return Interaction{
		id:         id,
		query:      query,
		response:   response,
		collection: collection,
		route:      r,
		relevance:  relevance,
		metadata:   md,
		valueScore: valueScore,
		createdAt:  createdAt.UTC(),
	}, nil
}

// Reconstruct creates an Interaction without validation (storage hydration).
func Reconstruct(
	id, query, response, collection string, r route.Route,
	relevance float64, md Metadata, valueScore float64, createdAt time.Time,
) Interaction {
	return Interaction{
		id: id, query: query, response: response, collection: collection, route: r,
		relevance: relevance, metadata: md, valueScore: valueScore, createdAt: createdAt,
	}
}

// ID returns the interaction identifier.
func (i *Interaction) ID() string { return i.id }

// Query returns the user query text.
func (i *Interaction) Query() string { return i.query }

// Response returns the inference response text.
func (i *Interaction) Response() string { return i.response }

// Collection returns the knowledge collection the interaction belongs to.
func (i *Interaction) Collection() string { return i.collection }

// Route returns the routing decision taken for the query.
func (i *Interaction) Route() route.Route { return i.route }

// Relevance returns the top retrieval similarity at decision time.
func (i *Interaction) Relevance() float64 { return i.relevance }

// Metadata returns the value-score inputs.
func (i *Interaction) Metadata() Metadata { return i.metadata }

// ValueScore returns the stored value score.
func (i *Interaction) ValueScore() float64 { return i.valueScore }

// CreatedAt returns the creation timestamp.
func (i *Interaction) CreatedAt() time.Time { return i.createdAt }

// Confirmed returns a copy carrying md, marked as confirmed, with the recomputed value score.
func (i *Interaction) Confirmed(md Metadata, valueScore float64) Interaction {
	c := *i
	c.metadata = md
	c.metadata.Confirmed = true
	c.valueScore = valueScore
	return c
}
