package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"repocrawl/internal/entity"
	"repocrawl/internal/metrics"
	"repocrawl/internal/platform/github"
)

//go:generate mockgen -source=harvester.go -destination=mock_sink_test.go -package=crawler Sink

// Fetcher is the part of the GitHub client the harvester drives.
type Fetcher interface {
	Fetch(ctx context.Context, query, cursor string) (*github.SearchResult, error)
	ShouldWaitForRateLimit(rl github.RateLimit) bool
	WaitForRateLimitReset(ctx context.Context, resetAt string) error
}

// Sink persists repositories and reports how many unique ones are stored.
type Sink interface {
	UpsertBatch(ctx context.Context, repos []entity.Repository) (int, error)
	CountRepositories(ctx context.Context) (int, error)
}

// StopFunc reports whether the crawl as a whole is done.
type StopFunc func(ctx context.Context) (bool, error)

type HarvesterConfig struct {
	// BatchSize is how many fetched repositories are buffered before an upsert.
	BatchSize int
	// CountCheckEvery is how many fetched repositories pass between StopFunc
	// calls within one slice.
	CountCheckEvery int
}

type Harvester struct {
	fetcher Fetcher
	sink    Sink
	cfg     HarvesterConfig
	logger  *slog.Logger

	// quota is the rate limit reported by the most recent page, carried
	// across slices so a new slice does not start on an exhausted budget.
	quota     github.RateLimit
	haveQuota bool
}

func NewHarvester(fetcher Fetcher, sink Sink, cfg HarvesterConfig, logger *slog.Logger) *Harvester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.CountCheckEvery <= 0 {
		cfg.CountCheckEvery = 500
	}
	return &Harvester{
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
	}
}

// Harvest pages through one star range until it is exhausted or stop reports
// the crawl is done, and returns how many repositories it fetched. Whatever
// is still buffered when Harvest returns is upserted, on error paths too.
func (h *Harvester) Harvest(ctx context.Context, r StarRange, stop StopFunc) (fetched int, err error) {
	query := r.Query()
	logger := h.logger.With("slice", r.String())

	var (
		buf        []entity.Repository
		cursor     string
		sinceCheck int
		pages      int
	)

	flush := func(ctx context.Context) error {
		if len(buf) == 0 {
			return nil
		}
		batch := buf
		buf = nil
		n, err := h.sink.UpsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert %d repositories: %w", len(batch), err)
		}
		metrics.RecordFlush(n)
		logger.Debug("flushed batch", "size", len(batch), "upserted", n)
		return nil
	}

	defer func() {
		flushCtx := ctx
		if ctx.Err() != nil {
			flushCtx = context.WithoutCancel(ctx)
		}
		if ferr := flush(flushCtx); ferr != nil {
			if err == nil {
				err = ferr
				return
			}
			logger.Error("final flush failed", "error", ferr)
		}
	}()

	if h.haveQuota {
		if err := h.waitForQuota(ctx); err != nil {
			return 0, err
		}
	}

	for {
		page, err := h.fetcher.Fetch(ctx, query, cursor)
		if err != nil {
			return fetched, fmt.Errorf("fetch %s: %w", query, err)
		}
		pages++
		h.quota = page.RateLimit
		h.haveQuota = true

		if len(page.Repositories) == 0 {
			if page.PageInfo.HasNextPage {
				logger.Warn("empty page still reports a next page, ending slice", "page", pages)
			}
			h.finish(logger, fetched, pages)
			return fetched, nil
		}

		buf = append(buf, page.Repositories...)
		fetched += len(page.Repositories)
		sinceCheck += len(page.Repositories)
		metrics.RepositoriesFetched.Add(float64(len(page.Repositories)))
		logger.Debug("page fetched",
			"page", pages,
			"repositories", len(page.Repositories),
			"fetched", fetched,
			"first", page.Repositories[0].FullName(),
			"rate_limit_remaining", page.RateLimit.Remaining)

		if len(buf) >= h.cfg.BatchSize {
			if err := flush(ctx); err != nil {
				return fetched, err
			}
		}

		if stop != nil && sinceCheck >= h.cfg.CountCheckEvery {
			sinceCheck = 0
			// The store is the source of truth, so it has to see the buffer first.
			if err := flush(ctx); err != nil {
				return fetched, err
			}
			done, err := stop(ctx)
			if err != nil {
				return fetched, fmt.Errorf("check stop condition: %w", err)
			}
			if done {
				logger.Info("target reached mid-slice, stopping", "fetched", fetched)
				return fetched, nil
			}
		}

		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			h.finish(logger, fetched, pages)
			return fetched, nil
		}

		if err := h.waitForQuota(ctx); err != nil {
			return fetched, err
		}
		cursor = page.PageInfo.EndCursor
	}
}

// waitForQuota blocks until the rate limit resets when the last reported
// quota is below the safety buffer. It only runs right before a fetch.
func (h *Harvester) waitForQuota(ctx context.Context) error {
	if !h.fetcher.ShouldWaitForRateLimit(h.quota) {
		return nil
	}
	if err := h.fetcher.WaitForRateLimitReset(ctx, h.quota.ResetAt); err != nil {
		return err
	}
	h.haveQuota = false
	return nil
}

// finish logs an exhausted slice and flags it when it hit the search
// result ceiling, which means some repositories in it were never returned.
func (h *Harvester) finish(logger *slog.Logger, fetched, pages int) {
	if fetched >= github.ResultCeiling {
		metrics.SlicesSaturated.Inc()
		logger.Warn("slice hit the search result ceiling, narrow its band to avoid missing repositories",
			"fetched", fetched,
			"ceiling", github.ResultCeiling)
	}
	logger.Info("slice exhausted", "fetched", fetched, "pages", pages)
}
