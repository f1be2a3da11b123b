package gc

import (
	"context"
	"errors"
	"math"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
	"github.com/kailas-cloud/hybridcoord/internal/repository/vector"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory KnowledgeStore with the same ordering rules as the SQL one.
type memStore struct {
	mu       sync.Mutex
	entries  map[string]domknow.Entry
	orphaned map[string]bool
	failOn   map[string]error
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]domknow.Entry{}, orphaned: map[string]bool{}, failOn: map[string]error{}}
}

func (m *memStore) put(id, col string, score float64, created, lastSeen time.Time, hits int) {
	m.entries[id] = domknow.Reconstruct(id, "i-"+id, col, "content "+id, score, created, lastSeen, 1, hits)
}

func (m *memStore) sorted(less func(a, b *domknow.Entry) bool) []domknow.Entry {
	out := make([]domknow.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

func refsOf(es []domknow.Entry) []domknow.Ref {
	var out []domknow.Ref
	for i := range es {
		out = append(out, domknow.Ref{ID: es[i].ID(), Collection: es[i].Collection()})
	}
	return out
}

func byID(a, b *domknow.Entry) bool { return a.ID() < b.ID() }

func (m *memStore) Get(_ context.Context, id string) (domknow.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domknow.Entry{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["count"]; err != nil {
		return 0, err
	}
	return len(m.entries), nil
}

func (m *memStore) AgedLowValue(_ context.Context, lastSeenBefore, createdBefore time.Time, minScore float64) ([]domknow.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["aged"]; err != nil {
		return nil, err
	}
	var out []domknow.Entry
	for _, e := range m.sorted(byID) {
		if e.LastSeenAt().Before(lastSeenBefore) && e.CreatedAt().Before(createdBefore) && e.ValueScore() < minScore {
			out = append(out, e)
		}
	}
	return refsOf(out), nil
}

func (m *memStore) LowestValue(_ context.Context, n int) ([]domknow.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.sorted(func(a, b *domknow.Entry) bool {
		if a.ValueScore() != b.ValueScore() {
			return a.ValueScore() < b.ValueScore()
		}
		if !a.LastSeenAt().Equal(b.LastSeenAt()) {
			return a.LastSeenAt().Before(b.LastSeenAt())
		}
		return a.ID() < b.ID()
	})
	return refsOf(es[:min(n, len(es))]), nil
}

func (m *memStore) RankedRefs(context.Context) ([]domknow.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return refsOf(m.sorted(domknow.Outranks)), nil
}

func (m *memStore) Orphans(_ context.Context, createdBefore time.Time) ([]domknow.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domknow.Entry
	for _, e := range m.sorted(byID) {
		if m.orphaned[e.ID()] && e.RetrievalHits() == 0 && e.CreatedAt().Before(createdBefore) {
			out = append(out, e)
		}
	}
	return refsOf(out), nil
}

func (m *memStore) Delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.entries[id]; ok {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Merge(_ context.Context, survivorID, loserID string) (domknow.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["merge"]; err != nil {
		return domknow.Entry{}, err
	}
	keep, ok1 := m.entries[survivorID]
	drop, ok2 := m.entries[loserID]
	if !ok1 || !ok2 {
		return domknow.Entry{}, domain.ErrNotFound
	}
	merged := domknow.Merge(&keep, &drop)
	m.entries[survivorID] = merged
	delete(m.entries, loserID)
	return merged, nil
}

// memIndex is an in-memory VectorIndex scoring by cosine similarity.
type memIndex struct {
	mu      sync.Mutex
	vecs    map[string][]float32 // collection/id
	deleted []string
	delErr  error
}

func newMemIndex() *memIndex { return &memIndex{vecs: map[string][]float32{}} }

func (m *memIndex) put(col, id string, v ...float32) { m.vecs[col+"/"+id] = v }

func (m *memIndex) Vector(_ context.Context, col, id string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vecs[col+"/"+id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memIndex) Search(_ context.Context, col string, vec []float32, k int) ([]vector.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []vector.Hit
	prefix := col + "/"
	for key, v := range m.vecs {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		hits = append(hits, vector.Hit{ID: key[len(prefix):], Score: cosine(vec, v)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits[:min(k, len(hits))], nil
}

func (m *memIndex) Delete(_ context.Context, col, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, col+"/"+id)
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.vecs, col+"/"+id)
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var errStoreDown = errors.New("database is locked")
