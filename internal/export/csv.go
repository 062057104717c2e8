package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"repocrawl/internal/entity"
)

// Header is the first row of every export.
var Header = []string{"github_id", "owner", "name", "star_count", "crawled_at", "updated_at"}

// Source streams stored repositories in export order.
type Source interface {
	ExportAll(ctx context.Context, fn func(entity.StoredRepository) error) (int, error)
}

// WriteCSV writes every repository from src to w and returns the number of
// data rows written.
func WriteCSV(ctx context.Context, w io.Writer, src Source) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	n, err := src.ExportAll(ctx, func(r entity.StoredRepository) error {
		return cw.Write(record(r))
	})
	if err != nil {
		return n, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

func record(r entity.StoredRepository) []string {
	return []string{
		r.ID,
		r.Owner,
		r.Name,
		strconv.Itoa(r.StarCount),
		r.CrawledAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
