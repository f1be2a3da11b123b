// Package interaction records query/response exchanges and promotes valuable ones into knowledge.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// DefaultDuplicateSimilarity is the similarity at which a promoted solution counts as already known.
const DefaultDuplicateSimilarity = 0.95

// Promotion outcomes, also used as metric labels.
const (
	PromotionCreated   = "created"
	PromotionDuplicate = "duplicate"
	PromotionFailed    = "failed"
)

// RecordInput is one exchange to persist. An empty ID is generated.
type RecordInput struct {
	ID         string
	Query      string
	Response   string
	Collection string
	Route      route.Route
	Relevance  float64
	Metadata   dominter.Metadata
}

// Result is the outcome of Record or Confirm.
type Result struct {
	Interaction      dominter.Interaction
	Promoted         bool
	Duplicate        bool
	KnowledgeEntryID string
}

// Service handles the interaction lifecycle.
type Service struct {
	repo      Repository
	knowledge KnowledgeWriter
	vectors   VectorIndex
	embed     domain.Embedder
	scorer    Scorer
	dupSim    float64
	now       func() time.Time
	logger    *zap.Logger
}

// New creates an interaction service. embed should apply the document instruction.
func New(
	repo Repository, knowledge KnowledgeWriter, vectors VectorIndex,
	embed domain.Embedder, scorer Scorer, duplicateSimilarity float64, logger *zap.Logger,
) *Service {
	if duplicateSimilarity <= 0 {
		duplicateSimilarity = DefaultDuplicateSimilarity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		knowledge: knowledge,
		vectors:   vectors,
		embed:     embed,
		scorer:    scorer,
		dupSim:    duplicateSimilarity,
		now:       time.Now,
		logger:    logger,
	}
}

// Record scores and persists an interaction, then promotes it when the score reaches the threshold.
// A failed promotion is logged; the interaction itself stays recorded.
func (s *Service) Record(ctx context.Context, in RecordInput) (Result, error) {
	score, err := s.scorer.Score(in.Metadata)
	if err != nil {
		return Result{}, fmt.Errorf("score: %w", err)
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	it, err := dominter.New(id, in.Query, in.Response, in.Collection, in.Route,
		in.Relevance, in.Metadata, score, s.now())
	if err != nil {
		return Result{}, domain.NewValidationError("invalid_interaction", err.Error())
	}

	if err := s.repo.Save(ctx, &it); err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	metrics.ValueScore.Observe(score)

	res := Result{Interaction: it}
	if s.scorer.Promote(score) {
		s.promoteInto(ctx, &it, &res)
	}
	return res, nil
}

// ConfirmInput carries optional metadata revisions applied on confirmation.
// Nil fields keep the stored value.
type ConfirmInput struct {
	Complexity  *float64
	Reusability *float64
	Novelty     *float64
	Impact      *float64
}

func (in ConfirmInput) empty() bool {
	return in.Complexity == nil && in.Reusability == nil && in.Novelty == nil && in.Impact == nil
}

func (in ConfirmInput) apply(md dominter.Metadata) dominter.Metadata {
	if in.Complexity != nil {
		md.Complexity = *in.Complexity
	}
	if in.Reusability != nil {
		md.Reusability = *in.Reusability
	}
	if in.Novelty != nil {
		md.Novelty = *in.Novelty
	}
	if in.Impact != nil {
		md.Impact = *in.Impact
	}
	md.Confirmed = true
	return md
}

// Confirm marks an interaction confirmed, applies any metadata revisions, rescores it, and
// promotes it when the new score crosses the threshold. Confirming twice without revisions
// is a no-op.
func (s *Service) Confirm(ctx context.Context, id string, in ConfirmInput) (Result, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("get interaction: %w", err)
	}
	if it.Metadata().Confirmed && in.empty() {
		return Result{Interaction: it}, nil
	}

	md := in.apply(it.Metadata())
	score, err := s.scorer.Score(md)
	if err != nil {
		return Result{}, fmt.Errorf("score: %w", err)
	}

	if err := s.repo.Confirm(ctx, id, md, score); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	metrics.ValueScore.Observe(score)

	confirmed := it.Confirmed(md, score)
	res := Result{Interaction: confirmed}
	if !s.scorer.Promote(it.ValueScore()) && s.scorer.Promote(score) {
		s.promoteInto(ctx, &confirmed, &res)
	}
	return res, nil
}

// Get returns an interaction by ID.
func (s *Service) Get(ctx context.Context, id string) (dominter.Interaction, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return dominter.Interaction{}, fmt.Errorf("get interaction: %w", err)
	}
	return it, nil
}

// Delete removes an interaction. Knowledge promoted from it becomes an orphan for GC.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete interaction: %w", err)
	}
	return nil
}

func (s *Service) promoteInto(ctx context.Context, it *dominter.Interaction, res *Result) {
	entryID, dup, err := s.promote(ctx, it)
	if err != nil {
		metrics.KnowledgePromotionsTotal.WithLabelValues(PromotionFailed).Inc()
		s.logger.Error("Knowledge promotion failed",
			zap.String("interaction_id", it.ID()),
			zap.String("collection", it.Collection()),
			zap.Error(err),
		)
		return
	}

	outcome := PromotionCreated
	if dup {
		outcome = PromotionDuplicate
	}
	metrics.KnowledgePromotionsTotal.WithLabelValues(outcome).Inc()

	res.Promoted = true
	res.Duplicate = dup
	res.KnowledgeEntryID = entryID
}

// promote writes the interaction as a knowledge entry, or bumps the near-duplicate that already holds it.
func (s *Service) promote(ctx context.Context, it *dominter.Interaction) (string, bool, error) {
	content := domknow.FormatContent(it.Query(), it.Response())
	emb, err := s.embed.Embed(ctx, content)
	if err != nil {
		return "", false, fmt.Errorf("vectorize content: %w", err)
	}

	now := s.now()
	if id, ok, err := s.recordDuplicate(ctx, it, emb.Embedding, now); err != nil || ok {
		return id, ok, err
	}

	entry, err := domknow.New(uuid.NewString(), it.ID(), it.Collection(), content, it.ValueScore(), now)
	if err != nil {
		return "", false, fmt.Errorf("build entry: %w", err)
	}
	if err := s.knowledge.Insert(ctx, &entry); err != nil {
		return "", false, fmt.Errorf("%w: insert entry: %w", domain.ErrStoreWrite, err)
	}

	payload := map[string]string{"interaction_id": it.ID()}
	if err := s.vectors.Upsert(ctx, it.Collection(), entry.ID(), emb.Embedding, payload); err != nil {
		if _, derr := s.knowledge.Delete(ctx, []string{entry.ID()}); derr != nil {
			s.logger.Error("Failed to roll back knowledge entry",
				zap.String("entry_id", entry.ID()), zap.Error(derr))
		}
		return "", false, fmt.Errorf("%w: upsert vector: %w", domain.ErrStoreWrite, err)
	}
	return entry.ID(), false, nil
}

func (s *Service) recordDuplicate(
	ctx context.Context, it *dominter.Interaction, vec []float32, now time.Time,
) (string, bool, error) {
	hits, err := s.vectors.Search(ctx, it.Collection(), vec, 1)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("duplicate search: %w", err)
	}
	if len(hits) == 0 || hits[0].Score < s.dupSim {
		return "", false, nil
	}

	err = s.knowledge.RecordOccurrence(ctx, hits[0].ID, it.ValueScore(), now)
	if errors.Is(err, domain.ErrNotFound) {
		// vector outlived its row; GC will drop it
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: record occurrence: %w", domain.ErrStoreWrite, err)
	}
	return hits[0].ID, true, nil
}
