package knowledge

import (
	"fmt"
	"time"
)

// MaxContentSize is the maximum entry content size in bytes.
const MaxContentSize = 163840 // 160KB

// Entry is a promoted, reusable solution derived from a high-value interaction.
// Its embedding lives in the vector index under the same ID.
type Entry struct {
	id            string
	interactionID string
	collection    string
	content       string
	valueScore    float64
	createdAt     time.Time
	lastSeenAt    time.Time
	occurrences   int
	retrievalHits int
}

// New validates and creates an Entry seen once at now.
func New(id, interactionID, collection, content string, valueScore float64, now time.Time) (Entry, error) {
	if id == "" {
		return Entry{}, fmt.Errorf("entry ID is required")
	}
	if interactionID == "" {
		return Entry{}, fmt.Errorf("source interaction ID is required")
	}
	if collection == "" {
		return Entry{}, fmt.Errorf("collection is required")
	}
	if content == "" {
		return Entry{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentSize {
		return Entry{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	if valueScore < 0 || valueScore > 1 {
		return Entry{}, fmt.Errorf("value score must be within [0,1], got %v", valueScore)
	}

	now = now.UTC()
	return Entry{
		id:            id,
		interactionID: interactionID,
		collection:    collection,
		content:       content,
		valueScore:    valueScore,
		createdAt:     now,
		lastSeenAt:    now,
		occurrences:   1,
	}, nil
}

// Reconstruct creates an Entry without validation (storage hydration).
func Reconstruct(
	id, interactionID, collection, content string, valueScore float64,
	createdAt, lastSeenAt time.Time, occurrences, retrievalHits int,
) Entry {
	return Entry{
		id: id, interactionID: interactionID, collection: collection, content: content,
		valueScore: valueScore, createdAt: createdAt, lastSeenAt: lastSeenAt,
		occurrences: occurrences, retrievalHits: retrievalHits,
	}
}

// ID returns the entry identifier.
func (e *Entry) ID() string { return e.id }

// InteractionID returns the source interaction identifier.
func (e *Entry) InteractionID() string { return e.interactionID }

// Collection returns the knowledge collection.
func (e *Entry) Collection() string { return e.collection }

// Content returns the problem + solution text.
func (e *Entry) Content() string { return e.content }

// ValueScore returns the retained-value score.
func (e *Entry) ValueScore() float64 { return e.valueScore }

// CreatedAt returns the creation timestamp.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// LastSeenAt returns the last time the entry was retrieved or re-observed.
func (e *Entry) LastSeenAt() time.Time { return e.lastSeenAt }

// Occurrences returns how many times the solution was observed.
func (e *Entry) Occurrences() int { return e.occurrences }

// RetrievalHits returns how many times the entry was served as context.
func (e *Entry) RetrievalHits() int { return e.retrievalHits }

// FormatContent renders an interaction as reusable knowledge text.
func FormatContent(query, response string) string {
	return "Problem: " + query + "\nSolution: " + response
}

// Outranks reports whether a should survive a merge with b:
// higher value score first, then older entry, then smaller ID.
func Outranks(a, b *Entry) bool {
	if a.valueScore != b.valueScore {
		return a.valueScore > b.valueScore
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id < b.id
}

// Merge folds drop into keep: the higher score wins, occurrences and hits add up,
// last_seen_at takes the later value.
func Merge(keep, drop *Entry) Entry {
	m := *keep
	m.valueScore = max(keep.valueScore, drop.valueScore)
	m.occurrences = keep.occurrences + drop.occurrences
	m.retrievalHits = keep.retrievalHits + drop.retrievalHits
	if drop.lastSeenAt.After(keep.lastSeenAt) {
		m.lastSeenAt = drop.lastSeenAt
	}
	return m
}
