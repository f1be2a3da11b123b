// Package coordinator runs the query pipeline: validation, admission, retrieval,
// routing, inference and recording.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
	"github.com/kailas-cloud/hybridcoord/internal/logger"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/health"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/retrieval"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/routing"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/validate"
)

// Estimated metadata for auto-recorded interactions.
const (
	simpleComplexity  = 0.3
	complexComplexity = 0.7
	neutralEstimate   = 0.5
)

// Deps are the pipeline collaborators. Recorder, Queue and Saved may be nil.
type Deps struct {
	Validator  QueryValidator
	Limiter    RateLimiter
	Health     ReadinessProbe
	Retriever  Retriever
	Router     Router
	Classifier routing.Classifier
	Composer   *Composer
	Local      Backend
	Remote     Backend
	Recorder   Recorder
	Queue      RecordQueue
	Saved      SavingsLedger
}

// QueryRequest is one incoming query.
type QueryRequest struct {
	ClientID   string
	Query      string
	Context    string
	Collection string
	Limit      int
	Offset     int
}

// QueryResult is the answer and how it was produced.
type QueryResult struct {
	Response      string
	Model         string
	Route         route.Route
	Reason        string
	Relevance     float64
	Sources       []domknow.Match
	TokensSaved   int
	InteractionID string
}

// SearchRequest is a raw retrieval without inference.
type SearchRequest struct {
	ClientID   string
	Query      string
	Collection string
	Limit      int
	Offset     int
}

// SearchResult is the retrieved knowledge of one collection.
type SearchResult struct {
	Collection string
	Matches    []domknow.Match
}

// Service is the hybrid coordinator.
type Service struct {
	d      Deps
	topK   int
	logger *zap.Logger
}

// New creates the coordinator. topK caps retrieval for /query.
func New(d Deps, topK int, logger *zap.Logger) *Service {
	if topK <= 0 {
		topK = 5
	}
	if d.Composer == nil {
		d.Composer = NewComposer(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{d: d, topK: topK, logger: logger}
}

// Query answers a query through the local or remote backend.
// Validation and rate limiting short-circuit before any I/O.
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	q, err := s.admit(ctx, req.ClientID, req.Query, req.Collection, req.Limit, req.Offset)
	if err != nil {
		return QueryResult{}, err
	}
	log := logger.FromContext(ctx)

	ready := s.d.Health.Ready(ctx)
	view := routing.View{LocalHealthy: ready.Healthy(health.DepLocalInference)}

	var matches []domknow.Match
	if ready.Healthy(health.DepVectorIndex) && ready.Healthy(health.DepMetadataStore) {
		matches, err = s.d.Retriever.Retrieve(ctx, retrieval.Request{
			Text:       q.Text,
			Collection: q.Collection,
			K:          min(q.Limit, s.topK),
			Offset:     q.Offset,
		})
		if err != nil {
			log.Warn("Retrieval failed, routing without context",
				zap.String("collection", q.Collection), zap.Error(err))
			matches = nil
		}
	} else {
		log.Warn("Knowledge store unhealthy, skipping retrieval",
			zap.Error(fmt.Errorf("%s: %w", ready.Message, domain.ErrDependencyUnhealthy)))
	}

	decision := s.d.Router.Decide(q.Text, matches, view)
	metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Route), decision.Reason).Inc()

	prompt, used := s.d.Composer.Compose(q.Text, req.Context, matches)
	backend := s.d.Remote
	if decision.Route == route.Local {
		backend = s.d.Local
	}

	completion, err := backend.Complete(ctx, prompt)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%s inference: %w", backend.Name(), err)
	}

	res := QueryResult{
		Response:      completion.Text,
		Model:         completion.Model,
		Route:         decision.Route,
		Reason:        decision.Reason,
		Relevance:     decision.TopSimilarity,
		Sources:       used,
		InteractionID: uuid.NewString(),
	}
	if decision.Route == route.Local {
		res.TokensSaved = completion.TotalTokens()
		metrics.TokensSavedTotal.Add(float64(res.TokensSaved))
		if s.d.Saved != nil {
			s.d.Saved.Record(int64(res.TokensSaved))
		}
	}

	s.record(q, &res)

	log.Info("Query routed",
		zap.String("route", string(res.Route)),
		zap.String("reason", res.Reason),
		zap.Float64("relevance", res.Relevance),
		zap.Int("sources", len(res.Sources)),
		zap.Int("tokens_saved", res.TokensSaved),
	)
	return res, nil
}

// Search returns knowledge for a query without running inference.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	q, err := s.admit(ctx, req.ClientID, req.Query, req.Collection, req.Limit, req.Offset)
	if err != nil {
		return SearchResult{}, err
	}

	matches, err := s.d.Retriever.Retrieve(ctx, retrieval.Request{
		Text:       q.Text,
		Collection: q.Collection,
		K:          q.Limit,
		Offset:     q.Offset,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return SearchResult{Collection: q.Collection}, nil
	}
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}
	return SearchResult{Collection: q.Collection, Matches: matches}, nil
}

// Record validates and admits an explicitly reported interaction, then persists it.
// A missing route counts as remote.
func (s *Service) Record(ctx context.Context, clientID string, in interaction.RecordInput) (interaction.Result, error) {
	if s.d.Recorder == nil {
		return interaction.Result{}, errors.New("recording is not configured")
	}
	q, err := s.admit(ctx, clientID, in.Query, in.Collection, 0, 0)
	if err != nil {
		return interaction.Result{}, err
	}
	in.Query = q.Text
	in.Collection = q.Collection
	if in.Route == "" {
		in.Route = route.Remote
	}

	res, err := s.d.Recorder.Record(ctx, in)
	if err != nil {
		return interaction.Result{}, fmt.Errorf("record interaction: %w", err)
	}
	return res, nil
}

func (s *Service) admit(ctx context.Context, clientID, query, collection string, limit, offset int) (validate.Query, error) {
	q, err := s.d.Validator.Validate(query, collection, limit, offset)
	if err != nil {
		reason := "invalid"
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		metrics.ValidationRejectionsTotal.WithLabelValues(reason).Inc()
		logger.FromContext(ctx).Warn("Query rejected",
			zap.String("reason", reason), zap.String("client_id", clientID))
		return validate.Query{}, err
	}
	if err := s.d.Limiter.Allow(clientID); err != nil {
		return validate.Query{}, err
	}
	return q, nil
}

// record queues the exchange with estimated metadata; callers raise it later through confirm.
func (s *Service) record(q validate.Query, res *QueryResult) {
	if s.d.Queue == nil {
		return
	}
	complexity := complexComplexity
	if s.d.Classifier != nil && s.d.Classifier.IsSimple(q.Text) {
		complexity = simpleComplexity
	}
	// cosine scores can leave [0,1] by a rounding error or for opposed vectors
	rel := min(max(res.Relevance, 0), 1)
	s.d.Queue.Enqueue(interaction.RecordInput{
		ID:         res.InteractionID,
		Query:      q.Text,
		Response:   res.Response,
		Collection: q.Collection,
		Route:      res.Route,
		Relevance:  rel,
		Metadata: dominter.Metadata{
			Complexity:  complexity,
			Reusability: neutralEstimate,
			Novelty:     1 - rel,
			Impact:      neutralEstimate,
		},
	})
}
