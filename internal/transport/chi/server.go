// Package chi is the HTTP transport of the coordinator.
package chi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
	"github.com/kailas-cloud/hybridcoord/internal/logger"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/coordinator"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/health"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/usage"
)

// maxBodyBytes bounds request bodies; a recorded response is at most 256KB.
const maxBodyBytes = 1 << 20

// Coordinator runs the query pipeline.
type Coordinator interface {
	Query(ctx context.Context, req coordinator.QueryRequest) (coordinator.QueryResult, error)
	Search(ctx context.Context, req coordinator.SearchRequest) (coordinator.SearchResult, error)
	Record(ctx context.Context, clientID string, in interaction.RecordInput) (interaction.Result, error)
}

// Interactions manages stored interactions.
type Interactions interface {
	Get(ctx context.Context, id string) (dominter.Interaction, error)
	Confirm(ctx context.Context, id string, in interaction.ConfirmInput) (interaction.Result, error)
	Delete(ctx context.Context, id string) error
}

// UsageReporter reports token usage.
type UsageReporter interface {
	GetReport(ctx context.Context, period usage.Period) usage.Report
}

// HealthReporter runs the health probes.
type HealthReporter interface {
	Live(ctx context.Context) health.Report
	Ready(ctx context.Context) health.Report
	Startup(ctx context.Context) health.Report
}

// Server holds the HTTP handlers.
type Server struct {
	coordinator   Coordinator
	interactions  Interactions
	usage         UsageReporter
	health        HealthReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	coord Coordinator,
	interactions Interactions,
	usage UsageReporter,
	health HealthReporter,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		coordinator:   coord,
		interactions:  interactions,
		usage:         usage,
		health:        health,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/query", s.Query)
	r.Post("/search", s.Search)
	r.Route("/interactions", func(r chi.Router) {
		r.Post("/record", s.RecordInteraction)
		r.Get("/{id}", s.GetInteraction)
		r.Delete("/{id}", s.DeleteInteraction)
		r.Post("/{id}/confirm", s.ConfirmInteraction)
	})
	r.Get("/usage", s.GetUsage)
	r.Get("/health/live", s.Live)
	r.Get("/health/ready", s.Ready)
	r.Get("/health/startup", s.Startup)
	r.Get("/metrics", s.Metrics)
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := clientID(r)
	res, err := s.coordinator.Query(callerContext(r, id), coordinator.QueryRequest{
		ClientID:   id,
		Query:      req.Query,
		Context:    req.Context,
		Collection: req.Collection,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := queryResponse{
		Response:        res.Response,
		Model:           res.Model,
		RoutingDecision: string(res.Route),
		RoutingReason:   res.Reason,
		RelevanceScore:  res.Relevance,
		ContextSources:  sourcesToDTO(res.Sources),
		InteractionID:   res.InteractionID,
	}
	if res.Route == route.Local {
		saved := res.TokensSaved
		resp.TokensSaved = &saved
	}
	writeJSON(w, http.StatusOK, resp)
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := clientID(r)
	res, err := s.coordinator.Search(callerContext(r, id), coordinator.SearchRequest{
		ClientID:   id,
		Query:      req.Query,
		Collection: req.Collection,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Collection: res.Collection,
		Results:    sourcesToDTO(res.Matches),
	})
}

// RecordInteraction handles POST /interactions/record.
func (s *Server) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Metadata == nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "metadata is required")
		return
	}

	id := clientID(r)
	res, err := s.coordinator.Record(callerContext(r, id), id, interaction.RecordInput{
		Query:      req.Query,
		Response:   req.Response,
		Collection: req.Collection,
		Route:      route.Route(req.RoutingDecision),
		Relevance:  req.RelevanceScore,
		Metadata:   req.Metadata.toDomain(),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordResponse{
		ID:               res.Interaction.ID(),
		ValueScore:       res.Interaction.ValueScore(),
		Promoted:         res.Promoted,
		Duplicate:        res.Duplicate,
		KnowledgeEntryID: res.KnowledgeEntryID,
	})
}

// GetInteraction handles GET /interactions/{id}.
func (s *Server) GetInteraction(w http.ResponseWriter, r *http.Request) {
	it, err := s.interactions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionToDTO(&it))
}

// ConfirmInteraction handles POST /interactions/{id}/confirm.
func (s *Server) ConfirmInteraction(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	res, err := s.interactions.Confirm(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		interactionResponse: interactionToDTO(&res.Interaction),
		Promoted:            res.Promoted,
		KnowledgeEntryID:    res.KnowledgeEntryID,
	})
}

// DeleteInteraction handles DELETE /interactions/{id}.
func (s *Server) DeleteInteraction(w http.ResponseWriter, r *http.Request) {
	if err := s.interactions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUsage handles GET /usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := usage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	report := s.usage.GetReport(r.Context(), period)
	writeJSON(w, http.StatusOK, usageToDTO(&report))
}

// Live handles GET /health/live.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health.Live(r.Context()))
}

// Ready handles GET /health/ready.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health.Ready(r.Context()))
}

// Startup handles GET /health/startup.
func (s *Server) Startup(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health.Startup(r.Context()))
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// writeHealth answers 200 for healthy and degraded, 503 for unhealthy.
func writeHealth(w http.ResponseWriter, report health.Report) {
	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthToDTO(&report))
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON accepts an empty body and leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// callerContext tags the request logger with the client identity.
func callerContext(r *http.Request, id string) context.Context {
	return logger.With(r.Context(), zap.String("client_id", id))
}

// clientID identifies the caller for rate limiting: X-Client-ID, else a digest
// of the bearer token, else the remote IP.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if token, ok := bearerToken(r); ok && token != "" {
		sum := sha256.Sum256([]byte(token))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
