// Package gc prunes, deduplicates and cleans up knowledge entries.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// Step names, also used as metric labels.
const (
	StepAge    = "age"
	StepSize   = "size"
	StepDedup  = "dedup"
	StepOrphan = "orphan"
)

// Config holds the retention policy.
type Config struct {
	MaxAge                time.Duration
	MinValueScore         float64
	MaxSolutions          int
	DeduplicateSimilarity float64
	DedupNeighbors        int
	Grace                 time.Duration
	OrphanWindow          time.Duration
	PassTimeout           time.Duration
}

// StepError is a failed GC step. It is logged and counted, never escalated.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("gc step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// StepResult is the outcome of one step.
type StepResult struct {
	Step     string
	Affected int
	Err      error
}

// Report is the outcome of one pass.
type Report struct {
	Steps    []StepResult
	Duration time.Duration
}

// Failed reports whether any step failed.
func (r Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Service runs GC passes.
type Service struct {
	knowledge KnowledgeStore
	vectors   VectorIndex
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a GC service.
func New(knowledge KnowledgeStore, vectors VectorIndex, cfg Config, logger *zap.Logger) *Service {
	if cfg.DedupNeighbors <= 0 {
		cfg.DedupNeighbors = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		knowledge: knowledge,
		vectors:   vectors,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// RunPass runs the four steps in order. A failed step does not stop the pass.
func (s *Service) RunPass(ctx context.Context) Report {
	start := time.Now()
	if s.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PassTimeout)
		defer cancel()
	}

	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{StepAge, s.pruneAged},
		{StepSize, s.pruneOversize},
		{StepDedup, s.deduplicate},
		{StepOrphan, s.dropOrphans},
	}

	var rep Report
	for _, st := range steps {
		rep.Steps = append(rep.Steps, s.runStep(ctx, st.name, st.fn))
	}
	rep.Duration = time.Since(start)

	metrics.GCPassDuration.Observe(rep.Duration.Seconds())
	if !rep.Failed() {
		metrics.GCLastSuccess.Set(float64(s.now().Unix()))
	}

	fields := make([]zap.Field, 0, len(rep.Steps)+1)
	for _, r := range rep.Steps {
		fields = append(fields, zap.Int(r.Step, r.Affected))
	}
	fields = append(fields, zap.Duration("duration", rep.Duration))
	s.logger.Info("GC pass finished", fields...)
	return rep
}

func (s *Service) runStep(ctx context.Context, name string, fn func(context.Context) (int, error)) (res StepResult) {
	res.Step = name
	defer func() {
		if r := recover(); r != nil {
			res.Err = &StepError{Step: name, Err: fmt.Errorf("panic: %v", r)}
		}
		if res.Affected > 0 {
			metrics.GCRowsAffectedTotal.WithLabelValues(name).Add(float64(res.Affected))
		}
		if res.Err != nil {
			metrics.GCStepFailuresTotal.WithLabelValues(name).Inc()
			s.logger.Error("GC step failed", zap.String("step", name), zap.Int("affected", res.Affected), zap.Error(res.Err))
		}
	}()

	n, err := fn(ctx)
	res.Affected = n
	if err != nil {
		res.Err = &StepError{Step: name, Err: err}
	}
	return res
}

func (s *Service) pruneAged(ctx context.Context) (int, error) {
	now := s.now()
	refs, err := s.knowledge.AgedLowValue(ctx, now.Add(-s.cfg.MaxAge), now.Add(-s.cfg.Grace), s.cfg.MinValueScore)
	if err != nil {
		return 0, err
	}
	return s.deleteRefs(ctx, refs)
}

func (s *Service) pruneOversize(ctx context.Context) (int, error) {
	if s.cfg.MaxSolutions <= 0 {
		return 0, nil
	}
	n, err := s.knowledge.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n <= s.cfg.MaxSolutions {
		return 0, nil
	}
	refs, err := s.knowledge.LowestValue(ctx, n-s.cfg.MaxSolutions)
	if err != nil {
		return 0, err
	}
	return s.deleteRefs(ctx, refs)
}

func (s *Service) dropOrphans(ctx context.Context) (int, error) {
	refs, err := s.knowledge.Orphans(ctx, s.now().Add(-s.cfg.OrphanWindow))
	if err != nil {
		return 0, err
	}
	return s.deleteRefs(ctx, refs)
}

// deleteRefs removes rows first, then their vectors. A vector left behind is
// filtered out at retrieval because its row is gone.
func (s *Service) deleteRefs(ctx context.Context, refs []domknow.Ref) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	n, err := s.knowledge.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, r := range refs {
		s.dropVector(ctx, r)
	}
	return n, nil
}

func (s *Service) dropVector(ctx context.Context, r domknow.Ref) {
	if err := s.vectors.Delete(ctx, r.Collection, r.ID); err != nil {
		s.logger.Warn("Failed to delete knowledge vector",
			zap.String("entry_id", r.ID), zap.String("collection", r.Collection), zap.Error(err))
	}
}

// deduplicate walks entries in survivor order and folds near-identical neighbors into them.
func (s *Service) deduplicate(ctx context.Context) (int, error) {
	refs, err := s.knowledge.RankedRefs(ctx)
	if err != nil {
		return 0, err
	}

	gone := make(map[string]struct{})
	merged := 0
	var errs []error
	for _, ref := range refs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, ok := gone[ref.ID]; ok {
			continue
		}
		n, err := s.dedupOne(ctx, ref, gone)
		merged += n
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", ref.ID, err))
		}
	}
	return merged, errors.Join(errs...)
}

func (s *Service) dedupOne(ctx context.Context, ref domknow.Ref, gone map[string]struct{}) (int, error) {
	vec, err := s.vectors.Vector(ctx, ref.Collection, ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load vector: %w", err)
	}
	hits, err := s.vectors.Search(ctx, ref.Collection, vec, s.cfg.DedupNeighbors+1)
	if err != nil {
		return 0, fmt.Errorf("neighbors: %w", err)
	}

	merged := 0
	for _, h := range hits {
		if h.ID == ref.ID || h.Score < s.cfg.DeduplicateSimilarity {
			continue
		}
		if _, ok := gone[h.ID]; ok {
			continue
		}

		survivor, loser, err := s.order(ctx, ref.ID, h.ID)
		if errors.Is(err, domain.ErrNotFound) {
			s.dropVector(ctx, domknow.Ref{ID: h.ID, Collection: ref.Collection})
			continue
		}
		if err != nil {
			return merged, err
		}

		if _, err := s.knowledge.Merge(ctx, survivor, loser); err != nil {
			return merged, fmt.Errorf("merge %s into %s: %w", loser, survivor, err)
		}
		gone[loser] = struct{}{}
		merged++
		s.dropVector(ctx, domknow.Ref{ID: loser, Collection: ref.Collection})
		s.logger.Debug("Merged duplicate knowledge entry",
			zap.String("survivor", survivor), zap.String("loser", loser), zap.Float64("similarity", h.Score))

		if loser == ref.ID {
			return merged, nil
		}
	}
	return merged, nil
}

// order returns the survivor and loser of a merge between a and b.
func (s *Service) order(ctx context.Context, a, b string) (string, string, error) {
	ea, err := s.knowledge.Get(ctx, a)
	if err != nil {
		return "", "", err
	}
	eb, err := s.knowledge.Get(ctx, b)
	if err != nil {
		return "", "", err
	}
	if domknow.Outranks(&eb, &ea) {
		return b, a, nil
	}
	return a, b, nil
}
