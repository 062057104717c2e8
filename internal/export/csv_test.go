package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"repocrawl/internal/entity"
	"repocrawl/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	rows []entity.StoredRepository
	err  error
}

func (s sliceSource) ExportAll(ctx context.Context, fn func(entity.StoredRepository) error) (int, error) {
	n := 0
	for _, r := range s.rows {
		if err := fn(r); err != nil {
			return n, err
		}
		n++
	}
	return n, s.err
}

func stored(id string, stars int, owner, name string, at time.Time) entity.StoredRepository {
	repo := testutil.Repo(id, stars)
	repo.Owner = owner
	repo.Name = name
	return entity.StoredRepository{Repository: repo, CrawledAt: at, UpdatedAt: at.Add(time.Hour)}
}

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("WIB", 7*3600))
	src := sliceSource{rows: []entity.StoredRepository{
		stored("MDEw1", 500, "golang", "go", at),
		stored("MDEw2", 3, "acme", `name,with "quotes"`, at),
	}}

	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := "github_id,owner,name,star_count,crawled_at,updated_at\n" +
		"MDEw1,golang,go,500,2026-01-01T20:04:05Z,2026-01-01T21:04:05Z\n" +
		"MDEw2,acme,\"name,with \"\"quotes\"\"\",3,2026-01-01T20:04:05Z,2026-01-01T21:04:05Z\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, sliceSource{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "github_id,owner,name,star_count,crawled_at,updated_at\n", buf.String())
}

func TestWriteCSV_SourceError(t *testing.T) {
	dbErr := errors.New("connection lost")
	_, err := WriteCSV(context.Background(), &bytes.Buffer{}, sliceSource{err: dbErr})
	assert.ErrorIs(t, err, dbErr)
}
