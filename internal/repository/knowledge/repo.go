package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/hybridcoord/internal/db/sqlite"
	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
)

const selectColumns = `id, interaction_id, collection, content, value_score,
	created_at, last_seen_at, occurrence_count, retrieval_hits`

// deleteChunk keeps IN (...) lists under SQLite's host parameter limit.
const deleteChunk = 500

// Repo stores knowledge entries in the relational metadata store.
type Repo struct {
	db *sql.DB
}

// New creates a knowledge repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Insert stores a new entry.
func (r *Repo) Insert(ctx context.Context, e *domknow.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID(), e.InteractionID(), e.Collection(), e.Content(), e.ValueScore(),
		sqlite.UnixNano(e.CreatedAt()), sqlite.UnixNano(e.LastSeenAt()),
		e.Occurrences(), e.RetrievalHits(),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID(), err)
	}
	return nil
}

// Get returns an entry by ID.
func (r *Repo) Get(ctx context.Context, id string) (domknow.Entry, error) {
	e, err := getEntry(ctx, r.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domknow.Entry{}, domain.ErrNotFound
	}
	if err != nil {
		return domknow.Entry{}, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

// GetMany returns the entries that exist among ids, keyed by ID.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]domknow.Entry, error) {
	out := make(map[string]domknow.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM knowledge_entries WHERE id IN (`+placeholders(len(ids))+`)`,
		toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out[e.ID()] = e
	}
	return out, rows.Err()
}

// MarkRetrieved bumps retrieval_hits and last_seen_at for entries served as context.
func (r *Repo) MarkRetrieved(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{sqlite.UnixNano(now)}, toArgs(ids)...)
	_, err := r.db.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET retrieval_hits = retrieval_hits + 1, last_seen_at = MAX(last_seen_at, ?)
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark retrieved: %w", err)
	}
	return nil
}

// RecordOccurrence registers a re-observed solution on an existing entry:
// the score keeps its maximum, the occurrence count grows by one, last_seen_at moves to now.
func (r *Repo) RecordOccurrence(ctx context.Context, id string, valueScore float64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET value_score = MAX(value_score, ?),
		    occurrence_count = occurrence_count + 1,
		    last_seen_at = MAX(last_seen_at, ?)
		WHERE id = ?`, valueScore, sqlite.UnixNano(now), id)
	if err != nil {
		return fmt.Errorf("record occurrence %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the number of stored entries.
func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// AgedLowValue returns entries last seen before lastSeenBefore, created before createdBefore
// and scored below minScore.
func (r *Repo) AgedLowValue(
	ctx context.Context, lastSeenBefore, createdBefore time.Time, minScore float64,
) ([]domknow.Ref, error) {
	return r.refs(ctx, `
		SELECT id, collection FROM knowledge_entries
		WHERE last_seen_at < ? AND created_at < ? AND value_score < ?
		ORDER BY id`,
		sqlite.UnixNano(lastSeenBefore), sqlite.UnixNano(createdBefore), minScore)
}

// LowestValue returns the n lowest-scored entries, oldest last_seen_at first on ties.
func (r *Repo) LowestValue(ctx context.Context, n int) ([]domknow.Ref, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.refs(ctx, `
		SELECT id, collection FROM knowledge_entries
		ORDER BY value_score ASC, last_seen_at ASC, id ASC
		LIMIT ?`, n)
}

// RankedRefs returns every entry in survivor order: highest score, then oldest, then smallest ID.
func (r *Repo) RankedRefs(ctx context.Context) ([]domknow.Ref, error) {
	return r.refs(ctx, `
		SELECT id, collection FROM knowledge_entries
		ORDER BY value_score DESC, created_at ASC, id ASC`)
}

// Orphans returns never-retrieved entries created before createdBefore
// whose source interaction no longer exists.
func (r *Repo) Orphans(ctx context.Context, createdBefore time.Time) ([]domknow.Ref, error) {
	return r.refs(ctx, `
		SELECT k.id, k.collection FROM knowledge_entries k
		LEFT JOIN interactions i ON i.id = k.interaction_id
		WHERE i.id IS NULL AND k.retrieval_hits = 0 AND k.created_at < ?
		ORDER BY k.id`, sqlite.UnixNano(createdBefore))
}

// Delete removes entries in one transaction and returns how many rows went away.
func (r *Repo) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	total := 0
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]
		res, err := tx.ExecContext(ctx,
			`DELETE FROM knowledge_entries WHERE id IN (`+placeholders(len(chunk))+`)`, toArgs(chunk)...)
		if err != nil {
			return 0, fmt.Errorf("delete entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return total, nil
}

// Merge folds loserID into survivorID atomically and returns the merged survivor.
// Readers observe either both rows or the merged one, never a half-merged state.
func (r *Repo) Merge(ctx context.Context, survivorID, loserID string) (domknow.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domknow.Entry{}, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	keep, err := getEntry(ctx, tx, survivorID)
	if err != nil {
		return domknow.Entry{}, mergeLookupErr(survivorID, err)
	}
	drop, err := getEntry(ctx, tx, loserID)
	if err != nil {
		return domknow.Entry{}, mergeLookupErr(loserID, err)
	}

	merged := domknow.Merge(&keep, &drop)
	if _, err := tx.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET value_score = ?, occurrence_count = ?, retrieval_hits = ?, last_seen_at = ?
		WHERE id = ?`,
		merged.ValueScore(), merged.Occurrences(), merged.RetrievalHits(),
		sqlite.UnixNano(merged.LastSeenAt()), merged.ID(),
	); err != nil {
		return domknow.Entry{}, fmt.Errorf("update survivor %s: %w", survivorID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = ?`, loserID); err != nil {
		return domknow.Entry{}, fmt.Errorf("delete merged %s: %w", loserID, err)
	}

	if err := tx.Commit(); err != nil {
		return domknow.Entry{}, fmt.Errorf("commit merge: %w", err)
	}
	return merged, nil
}

func mergeLookupErr(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("load entry %s: %w", id, err)
}

func (r *Repo) refs(ctx context.Context, query string, args ...any) ([]domknow.Ref, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()

	var out []domknow.Ref
	for rows.Next() {
		var ref domknow.Ref
		if err := rows.Scan(&ref.ID, &ref.Collection); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getEntry(ctx context.Context, q queryer, id string) (domknow.Entry, error) {
	return scanEntry(q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM knowledge_entries WHERE id = ?`, id))
}

func scanEntry(s scanner) (domknow.Entry, error) {
	var (
		id, interactionID, collection, content string
		valueScore                             float64
		createdAt, lastSeenAt                  int64
		occurrences, hits                      int
	)
	if err := s.Scan(&id, &interactionID, &collection, &content, &valueScore,
		&createdAt, &lastSeenAt, &occurrences, &hits); err != nil {
		return domknow.Entry{}, err
	}
	return domknow.Reconstruct(id, interactionID, collection, content, valueScore,
		sqlite.FromUnixNano(createdAt), sqlite.FromUnixNano(lastSeenAt), occurrences, hits), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
