package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

func testConfig() Config {
	return Config{
		MaxAge:                30 * 24 * time.Hour,
		MinValueScore:         0.5,
		MaxSolutions:          100,
		DeduplicateSimilarity: 0.95,
		DedupNeighbors:        5,
		Grace:                 24 * time.Hour,
		OrphanWindow:          24 * time.Hour,
	}
}

func newTestService(store *memStore, idx *memIndex, cfg Config) *Service {
	s := New(store, idx, cfg, zap.NewNop())
	s.now = func() time.Time { return t0 }
	return s
}

func stepResult(t *testing.T, rep Report, step string) StepResult {
	t.Helper()
	for _, r := range rep.Steps {
		if r.Step == step {
			return r
		}
	}
	t.Fatalf("step %s missing from report", step)
	return StepResult{}
}

func TestAgePrune(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	old := t0.Add(-40 * 24 * time.Hour)
	store.put("stale-low", "c", 0.4, old, old, 0)
	store.put("stale-high", "c", 0.9, old, old, 0)
	store.put("fresh-low", "c", 0.4, old, t0.Add(-time.Hour), 0)
	store.put("boundary", "c", 0.5, old, old, 0)
	idx.put("c", "stale-low", 1, 0)

	rep := newTestService(store, idx, testConfig()).RunPass(context.Background())

	if got := stepResult(t, rep, StepAge).Affected; got != 1 {
		t.Errorf("age affected = %d, want 1", got)
	}
	if _, ok := store.entries["stale-low"]; ok {
		t.Error("stale low-value entry must be pruned")
	}
	for _, id := range []string{"stale-high", "fresh-low", "boundary"} {
		if _, ok := store.entries[id]; !ok {
			t.Errorf("%s must survive", id)
		}
	}
	if _, ok := idx.vecs["c/stale-low"]; ok {
		t.Error("vector of pruned entry must be deleted")
	}
}

func TestAgePrune_GraceProtectsNewEntries(t *testing.T) {
	store := newMemStore()
	// last seen long ago per a skewed clock, but created inside the grace window
	store.put("new", "c", 0.1, t0.Add(-time.Hour), t0.Add(-40*24*time.Hour), 0)

	newTestService(store, newMemIndex(), testConfig()).RunPass(context.Background())

	if _, ok := store.entries["new"]; !ok {
		t.Error("entry inside the grace window must survive")
	}
}

func TestSizePrune(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.MaxSolutions = 2
	recent := t0.Add(-time.Hour)
	store.put("a", "c", 0.9, recent, recent, 1)
	store.put("b", "c", 0.6, recent, recent, 1)
	store.put("c-old", "c", 0.6, recent, t0.Add(-2*time.Hour), 1)
	store.put("d", "c", 0.55, recent, recent, 1)

	rep := newTestService(store, newMemIndex(), cfg).RunPass(context.Background())

	if got := stepResult(t, rep, StepSize).Affected; got != 2 {
		t.Errorf("size affected = %d, want 2", got)
	}
	if len(store.entries) != 2 {
		t.Fatalf("store holds %d entries, want 2", len(store.entries))
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := store.entries[id]; !ok {
			t.Errorf("%s must survive", id)
		}
	}
}

func TestSizePrune_UnderCap(t *testing.T) {
	store := newMemStore()
	store.put("a", "c", 0.9, t0, t0, 1)

	rep := newTestService(store, newMemIndex(), testConfig()).RunPass(context.Background())
	if got := stepResult(t, rep, StepSize).Affected; got != 0 {
		t.Errorf("size affected = %d, want 0", got)
	}
}

func TestDedup_MergesIntoHigherScore(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	recent := t0.Add(-time.Hour)
	store.put("low", "c", 0.75, recent.Add(-time.Minute), recent, 2)
	store.put("high", "c", 0.9, recent, t0, 3)
	store.put("other", "c", 0.8, recent, recent, 0)
	idx.put("c", "low", 1, 0.01)
	idx.put("c", "high", 1, 0)
	idx.put("c", "other", 0, 1)

	rep := newTestService(store, idx, testConfig()).RunPass(context.Background())

	if got := stepResult(t, rep, StepDedup).Affected; got != 1 {
		t.Fatalf("dedup affected = %d, want 1", got)
	}
	if _, ok := store.entries["low"]; ok {
		t.Error("lower-scored duplicate must be merged away")
	}
	high := store.entries["high"]
	if high.Occurrences() != 2 || high.RetrievalHits() != 5 {
		t.Errorf("merged counts = %d occurrences / %d hits", high.Occurrences(), high.RetrievalHits())
	}
	if !high.LastSeenAt().Equal(t0) {
		t.Errorf("last_seen_at = %v, want %v", high.LastSeenAt(), t0)
	}
	if _, ok := idx.vecs["c/low"]; ok {
		t.Error("loser vector must be deleted")
	}
	if _, ok := store.entries["other"]; !ok {
		t.Error("dissimilar entry must survive")
	}
}

func TestDedup_TieGoesToOlder(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	store.put("newer", "c", 0.8, t0.Add(-time.Hour), t0, 1)
	store.put("older", "c", 0.8, t0.Add(-2*time.Hour), t0, 1)
	idx.put("c", "newer", 1, 0)
	idx.put("c", "older", 1, 0)

	newTestService(store, idx, testConfig()).RunPass(context.Background())

	if _, ok := store.entries["older"]; !ok {
		t.Error("older entry must survive a score tie")
	}
	if _, ok := store.entries["newer"]; ok {
		t.Error("newer entry must be merged")
	}
}

func TestDedup_SeparateCollections(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	store.put("x", "a", 0.9, t0, t0, 1)
	store.put("y", "b", 0.8, t0, t0, 1)
	idx.put("a", "x", 1, 0)
	idx.put("b", "y", 1, 0)

	newTestService(store, idx, testConfig()).RunPass(context.Background())

	if len(store.entries) != 2 {
		t.Error("identical vectors in different collections must not merge")
	}
}

func TestDedup_Idempotent(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	for i, id := range []string{"a", "b", "c", "d"} {
		store.put(id, "c", 0.6+float64(i)*0.1, t0.Add(-time.Hour), t0, 1)
	}
	idx.put("c", "a", 1, 0)
	idx.put("c", "b", 1, 0.02)
	idx.put("c", "c", 0, 1)
	idx.put("c", "d", 0.01, 1)

	svc := newTestService(store, idx, testConfig())
	first := stepResult(t, svc.RunPass(context.Background()), StepDedup)
	if first.Affected != 2 {
		t.Fatalf("first pass merged %d, want 2", first.Affected)
	}
	second := stepResult(t, svc.RunPass(context.Background()), StepDedup)
	if second.Affected != 0 || second.Err != nil {
		t.Errorf("second pass merged %d (err %v), want 0", second.Affected, second.Err)
	}
	if len(store.entries) != 2 {
		t.Errorf("store holds %d entries, want 2", len(store.entries))
	}
}

func TestDedup_StaleNeighborVectorIsDropped(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	store.put("a", "c", 0.9, t0, t0, 1)
	idx.put("c", "a", 1, 0)
	idx.put("c", "ghost", 1, 0)

	rep := newTestService(store, idx, testConfig()).RunPass(context.Background())

	if r := stepResult(t, rep, StepDedup); r.Affected != 0 || r.Err != nil {
		t.Errorf("dedup = %+v", r)
	}
	if _, ok := idx.vecs["c/ghost"]; ok {
		t.Error("vector without a row must be deleted")
	}
}

func TestOrphanCleanup(t *testing.T) {
	store := newMemStore()
	old := t0.Add(-48 * time.Hour)
	store.put("orphan", "c", 0.9, old, t0, 0)
	store.put("orphan-read", "c", 0.9, old, t0, 3)
	store.put("orphan-young", "c", 0.9, t0.Add(-time.Hour), t0, 0)
	store.put("owned", "c", 0.9, old, t0, 0)
	store.orphaned["orphan"] = true
	store.orphaned["orphan-read"] = true
	store.orphaned["orphan-young"] = true

	before := testutil.ToFloat64(metrics.GCRowsAffectedTotal.WithLabelValues(StepOrphan))
	rep := newTestService(store, newMemIndex(), testConfig()).RunPass(context.Background())

	if got := stepResult(t, rep, StepOrphan).Affected; got != 1 {
		t.Errorf("orphan affected = %d, want 1", got)
	}
	if _, ok := store.entries["orphan"]; ok {
		t.Error("unread orphan must be removed")
	}
	if len(store.entries) != 3 {
		t.Errorf("store holds %d entries, want 3", len(store.entries))
	}
	if got := testutil.ToFloat64(metrics.GCRowsAffectedTotal.WithLabelValues(StepOrphan)) - before; got != 1 {
		t.Errorf("orphan counter delta = %v, want 1", got)
	}
}

func TestStepFailureDoesNotStopPass(t *testing.T) {
	store := newMemStore()
	store.failOn["aged"] = errStoreDown
	store.orphaned["orphan"] = true
	store.put("orphan", "c", 0.9, t0.Add(-48*time.Hour), t0, 0)

	failures := testutil.ToFloat64(metrics.GCStepFailuresTotal.WithLabelValues(StepAge))
	rep := newTestService(store, newMemIndex(), testConfig()).RunPass(context.Background())

	age := stepResult(t, rep, StepAge)
	var stepErr *StepError
	if !errors.As(age.Err, &stepErr) || stepErr.Step != StepAge || !errors.Is(age.Err, errStoreDown) {
		t.Fatalf("age err = %v", age.Err)
	}
	if !rep.Failed() {
		t.Error("report must be marked failed")
	}
	if got := stepResult(t, rep, StepOrphan).Affected; got != 1 {
		t.Errorf("later steps must still run, orphan affected = %d", got)
	}
	if got := testutil.ToFloat64(metrics.GCStepFailuresTotal.WithLabelValues(StepAge)) - failures; got != 1 {
		t.Errorf("failure counter delta = %v", got)
	}
}

func TestStepPanicIsRecovered(t *testing.T) {
	s := newTestService(newMemStore(), newMemIndex(), testConfig())

	res := s.runStep(context.Background(), "boom", func(context.Context) (int, error) {
		panic("nil map")
	})
	var stepErr *StepError
	if !errors.As(res.Err, &stepErr) || stepErr.Step != "boom" {
		t.Fatalf("expected recovered StepError, got %v", res.Err)
	}
}

func TestSuccessfulPassSetsLastSuccess(t *testing.T) {
	rep := newTestService(newMemStore(), newMemIndex(), testConfig()).RunPass(context.Background())
	if rep.Failed() {
		t.Fatalf("unexpected failure: %+v", rep)
	}
	if got := testutil.ToFloat64(metrics.GCLastSuccess); got != float64(t0.Unix()) {
		t.Errorf("last success = %v, want %v", got, t0.Unix())
	}
}

func TestVectorDeleteFailureIsNotFatal(t *testing.T) {
	store, idx := newMemStore(), newMemIndex()
	old := t0.Add(-40 * 24 * time.Hour)
	store.put("stale", "c", 0.1, old, old, 0)
	idx.delErr = errors.New("connection refused")

	rep := newTestService(store, idx, testConfig()).RunPass(context.Background())

	if r := stepResult(t, rep, StepAge); r.Err != nil || r.Affected != 1 {
		t.Errorf("age = %+v", r)
	}
}
