package store

import (
	"context"
	"fmt"

	"repocrawl/internal/entity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the stores use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type RepositoryPG struct {
	db DBTX
}

func NewRepositoryPG(db DBTX) *RepositoryPG {
	return &RepositoryPG{db: db}
}

// UpsertBatch writes repos in a single statement, so a batch is applied
// entirely or not at all. A repository seen more than once in repos is
// written with its last occurrence.
func (r *RepositoryPG) UpsertBatch(ctx context.Context, repos []entity.Repository) (int, error) {
	if len(repos) == 0 {
		return 0, nil
	}
	repos = dedupeByID(repos)

	ids := make([]string, len(repos))
	owners := make([]string, len(repos))
	names := make([]string, len(repos))
	stars := make([]int32, len(repos))
	for i, repo := range repos {
		ids[i] = repo.ID
		owners[i] = repo.Owner
		names[i] = repo.Name
		stars[i] = int32(repo.StarCount)
	}

	const query = `
	INSERT INTO repositories (github_id, owner, name, star_count)
	SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::int4[])
	ON CONFLICT (github_id) DO UPDATE SET
		owner = EXCLUDED.owner,
		name = EXCLUDED.name,
		star_count = EXCLUDED.star_count,
		updated_at = now()
	`
	tag, err := r.db.Exec(ctx, query, ids, owners, names, stars)
	if err != nil {
		return 0, fmt.Errorf("upsert repositories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountRepositories returns the number of unique repositories stored.
func (r *RepositoryPG) CountRepositories(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM repositories`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count repositories: %w", err)
	}
	return int(count), nil
}

// ExportAll streams every stored repository to fn, most starred first, and
// returns how many rows were visited. An error from fn stops the scan.
func (r *RepositoryPG) ExportAll(ctx context.Context, fn func(entity.StoredRepository) error) (int, error) {
	const query = `
	SELECT github_id, owner, name, star_count, crawled_at, updated_at
	FROM repositories
	ORDER BY star_count DESC, github_id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("export repositories: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var repo entity.StoredRepository
		if err := rows.Scan(
			&repo.ID,
			&repo.Owner,
			&repo.Name,
			&repo.StarCount,
			&repo.CrawledAt,
			&repo.UpdatedAt,
		); err != nil {
			return n, fmt.Errorf("scan repository: %w", err)
		}
		if err := fn(repo); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("export repositories: %w", err)
	}
	return n, nil
}

func dedupeByID(repos []entity.Repository) []entity.Repository {
	index := make(map[string]int, len(repos))
	out := make([]entity.Repository, 0, len(repos))
	for _, repo := range repos {
		if i, ok := index[repo.ID]; ok {
			out[i] = repo
			continue
		}
		index[repo.ID] = len(out)
		out = append(out, repo)
	}
	return out
}
