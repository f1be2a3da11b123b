package interaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kailas-cloud/hybridcoord/internal/db/sqlite"
	"github.com/kailas-cloud/hybridcoord/internal/domain"
	dominter "github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/domain/route"
)

const selectColumns = `id, query, response, collection, route, relevance,
	complexity, reusability, novelty, impact, confirmed, value_score, created_at`

// Repo stores interactions in the relational metadata store.
type Repo struct {
	db *sql.DB
}

// New creates an interaction repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Save inserts a new interaction. Interactions are write-once.
func (r *Repo) Save(ctx context.Context, in *dominter.Interaction) error {
	md := in.Metadata()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO interactions (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID(), in.Query(), in.Response(), in.Collection(), string(in.Route()), in.Relevance(),
		md.Complexity, md.Reusability, md.Novelty, md.Impact, boolToInt(md.Confirmed),
		in.ValueScore(), sqlite.UnixNano(in.CreatedAt()),
	)
	if err != nil {
		return fmt.Errorf("insert interaction %s: %w", in.ID(), err)
	}
	return nil
}

// Get returns an interaction by ID.
func (r *Repo) Get(ctx context.Context, id string) (dominter.Interaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM interactions WHERE id = ?`, id)
	in, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dominter.Interaction{}, domain.ErrNotFound
	}
	if err != nil {
		return dominter.Interaction{}, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return in, nil
}

// Confirm marks an interaction confirmed and stores its revised metadata and value score.
// This is the only mutation an interaction accepts after it is written.
func (r *Repo) Confirm(ctx context.Context, id string, md dominter.Metadata, valueScore float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE interactions
		 SET complexity = ?, reusability = ?, novelty = ?, impact = ?, confirmed = 1, value_score = ?
		 WHERE id = ?`,
		md.Complexity, md.Reusability, md.Novelty, md.Impact, valueScore, id)
	if err != nil {
		return fmt.Errorf("confirm interaction %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// Delete removes an interaction. Knowledge derived from it is left for GC orphan cleanup.
func (r *Repo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanInteraction(row *sql.Row) (dominter.Interaction, error) {
	var (
		id, query, response, collection, rt string
		relevance, valueScore               float64
		md                                  dominter.Metadata
		confirmed                           int
		createdAt                           int64
	)
	err := row.Scan(&id, &query, &response, &collection, &rt, &relevance,
		&md.Complexity, &md.Reusability, &md.Novelty, &md.Impact, &confirmed, &valueScore, &createdAt)
	if err != nil {
		return dominter.Interaction{}, err
	}
	md.Confirmed = confirmed != 0
	return dominter.Reconstruct(id, query, response, collection, route.Route(rt),
		relevance, md, valueScore, sqlite.FromUnixNano(createdAt)), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
