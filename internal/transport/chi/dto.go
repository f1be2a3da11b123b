package chi

import (
	"time"

	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/health"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/usage"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodeNotFound               ErrorCode = "not_found"
	CodeMethodNotAllowed       ErrorCode = "method_not_allowed"
	CodeInferenceTimeout       ErrorCode = "inference_timeout"
	CodeInferenceFailed        ErrorCode = "inference_failed"
	CodeRemoteBudgetExceeded   ErrorCode = "remote_budget_exceeded"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeStoreUnavailable       ErrorCode = "store_unavailable"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type queryRequest struct {
	Query      string `json:"query"`
	Context    string `json:"context,omitempty"`
	Collection string `json:"collection,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type contextSource struct {
	ID         string  `json:"id"`
	Collection string  `json:"collection"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

type queryResponse struct {
	Response        string          `json:"response"`
	Model           string          `json:"model,omitempty"`
	RoutingDecision string          `json:"routing_decision"`
	RoutingReason   string          `json:"routing_reason"`
	RelevanceScore  float64         `json:"relevance_score"`
	ContextSources  []contextSource `json:"context_sources"`
	TokensSaved     *int            `json:"tokens_saved,omitempty"`
	InteractionID   string          `json:"interaction_id"`
}

type searchRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type searchResponse struct {
	Collection string          `json:"collection"`
	Results    []contextSource `json:"results"`
}

type metadataDTO struct {
	Complexity  float64 `json:"complexity"`
	Reusability float64 `json:"reusability"`
	Novelty     float64 `json:"novelty"`
	Confirmed   bool    `json:"confirmed"`
	Impact      float64 `json:"impact"`
}

type confirmRequest struct {
	Complexity  *float64 `json:"complexity,omitempty"`
	Reusability *float64 `json:"reusability,omitempty"`
	Novelty     *float64 `json:"novelty,omitempty"`
	Impact      *float64 `json:"impact,omitempty"`
}

func (c *confirmRequest) toInput() interaction.ConfirmInput {
	return interaction.ConfirmInput{
		Complexity:  c.Complexity,
		Reusability: c.Reusability,
		Novelty:     c.Novelty,
		Impact:      c.Impact,
	}
}

type recordRequest struct {
	Query           string       `json:"query"`
	Response        string       `json:"response"`
	Metadata        *metadataDTO `json:"metadata"`
	Collection      string       `json:"collection,omitempty"`
	RoutingDecision string       `json:"routing_decision,omitempty"`
	RelevanceScore  float64      `json:"relevance_score,omitempty"`
}

type recordResponse struct {
	ID               string  `json:"id"`
	ValueScore       float64 `json:"value_score"`
	Promoted         bool    `json:"promoted"`
	Duplicate        bool    `json:"duplicate,omitempty"`
	KnowledgeEntryID string  `json:"knowledge_entry_id,omitempty"`
}

type interactionResponse struct {
	ID              string      `json:"id"`
	Query           string      `json:"query"`
	Response        string      `json:"response"`
	Collection      string      `json:"collection"`
	RoutingDecision string      `json:"routing_decision"`
	RelevanceScore  float64     `json:"relevance_score"`
	Metadata        metadataDTO `json:"metadata"`
	ValueScore      float64     `json:"value_score"`
	CreatedAt       time.Time   `json:"created_at"`
}

type confirmResponse struct {
	interactionResponse
	Promoted         bool   `json:"promoted"`
	KnowledgeEntryID string `json:"knowledge_entry_id,omitempty"`
}

type usageResponse struct {
	Period          string    `json:"period"`
	PeriodStartAt   time.Time `json:"period_start_at"`
	PeriodEndAt     time.Time `json:"period_end_at"`
	RemoteTokens    int64     `json:"remote_tokens"`
	RemoteLimit     int64     `json:"remote_limit"`
	RemoteRemaining int64     `json:"remote_remaining"`
	IsExhausted     bool      `json:"is_exhausted"`
	TokensSaved     int64     `json:"tokens_saved"`
}

type healthDetail struct {
	Status     string    `json:"status"`
	Critical   bool      `json:"critical"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at"`
}

type healthResponse struct {
	Status     string                  `json:"status"`
	CheckType  string                  `json:"check_type"`
	Message    string                  `json:"message,omitempty"`
	Details    map[string]healthDetail `json:"details,omitempty"`
	DurationMS float64                 `json:"duration_ms"`
}

func sourcesToDTO(matches []domknow.Match) []contextSource {
	out := make([]contextSource, len(matches))
	for i := range matches {
		e := &matches[i].Entry
		out[i] = contextSource{
			ID:         e.ID(),
			Collection: e.Collection(),
			Similarity: matches[i].Similarity,
			Content:    e.Content(),
		}
	}
	return out
}

func (m *metadataDTO) toDomain() dominter.Metadata {
	return dominter.Metadata{
		Complexity:  m.Complexity,
		Reusability: m.Reusability,
		Novelty:     m.Novelty,
		Confirmed:   m.Confirmed,
		Impact:      m.Impact,
	}
}

func interactionToDTO(it *dominter.Interaction) interactionResponse {
	md := it.Metadata()
	return interactionResponse{
		ID:              it.ID(),
		Query:           it.Query(),
		Response:        it.Response(),
		Collection:      it.Collection(),
		RoutingDecision: string(it.Route()),
		RelevanceScore:  it.Relevance(),
		Metadata: metadataDTO{
			Complexity:  md.Complexity,
			Reusability: md.Reusability,
			Novelty:     md.Novelty,
			Confirmed:   md.Confirmed,
			Impact:      md.Impact,
		},
		ValueScore: it.ValueScore(),
		CreatedAt:  it.CreatedAt().UTC(),
	}
}

func usageToDTO(r *usage.Report) usageResponse {
	return usageResponse{
		Period:          string(r.Period),
		PeriodStartAt:   r.PeriodStart,
		PeriodEndAt:     r.PeriodEnd,
		RemoteTokens:    r.RemoteTokens,
		RemoteLimit:     r.RemoteLimit,
		RemoteRemaining: r.RemoteRemaining,
		IsExhausted:     r.Exhausted,
		TokensSaved:     r.TokensSaved,
	}
}

func healthToDTO(r *health.Report) healthResponse {
	resp := healthResponse{
		Status:     string(r.Status),
		CheckType:  string(r.CheckType),
		Message:    r.Message,
		DurationMS: durationMS(r.Duration),
	}
	if len(r.Details) > 0 {
		resp.Details = make(map[string]healthDetail, len(r.Details))
		for name, rec := range r.Details {
			resp.Details[name] = healthDetail{
				Status:     string(rec.Status),
				Critical:   rec.Critical,
				Error:      rec.Error,
				DurationMS: durationMS(rec.Duration),
				CheckedAt:  rec.CheckedAt.UTC(),
			}
		}
	}
	return resp
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
