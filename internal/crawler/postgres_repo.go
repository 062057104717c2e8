package crawler

import (
	"context"
	"errors"
	"fmt"

	"repocrawl/internal/store"

	"github.com/jackc/pgx/v5"
)

var ErrRunNotFound = errors.New("crawl run not found")

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
}

type PostgresRepo struct {
	db store.DBTX
}

func NewPostgresRepo(db store.DBTX) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateRun(ctx context.Context, run *Run) error {
	const sql = `
		INSERT INTO crawl_runs (id, started_at, status, target, slices_planned)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, sql, run.ID, run.StartedAt, run.Status, run.Target, run.SlicesPlanned)
	if err != nil {
		return fmt.Errorf("create crawl run: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateRun(ctx context.Context, run *Run) error {
	const sql = `
		UPDATE crawl_runs SET
			finished_at = $1,
			status = $2,
			slices_visited = $3,
			repos_fetched = $4,
			repos_upserted = $5,
			final_count = $6,
			error = $7
		WHERE id = $8`

	tag, err := r.db.Exec(ctx, sql, run.FinishedAt, run.Status, run.SlicesVisited, run.ReposFetched, run.ReposUpserted, run.FinalCount, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (r *PostgresRepo) LatestRun(ctx context.Context) (Run, error) {
	const sql = `
		SELECT id, started_at, finished_at, status, target, slices_planned, slices_visited,
			repos_fetched, repos_upserted, final_count, error
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT 1`

	var run Run
	err := r.db.QueryRow(ctx, sql).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Target,
		&run.SlicesPlanned,
		&run.SlicesVisited,
		&run.ReposFetched,
		&run.ReposUpserted,
		&run.FinalCount,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("latest crawl run: %w", err)
	}
	return run, nil
}
