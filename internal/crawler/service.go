package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"repocrawl/internal/entity"
	"repocrawl/internal/metrics"

	"github.com/google/uuid"
)

var ErrInvalidTarget = errors.New("target must be positive")

type Outcome string

const (
	OutcomeTargetReached   Outcome = "target_reached"
	OutcomeSlicesExhausted Outcome = "slices_exhausted"
	OutcomeFailed          Outcome = "failed"
)

// Run states reported by Progress.
const (
	StatePlanning = "planning"
	StateSlicing  = "slicing"
	StateDone     = "done"
)

type Config struct {
	Plan            PlanConfig
	BatchSize       int
	CountCheckEvery int
}

// Result summarises a finished run. FinalCount is the stored unique count,
// the only number that says how far the crawl really got.
type Result struct {
	RunID         string  `json:"run_id"`
	Target        int     `json:"target"`
	FinalCount    int     `json:"final_count"`
	Fetched       int     `json:"fetched"`
	Upserted      int     `json:"upserted"`
	SlicesVisited int     `json:"slices_visited"`
	SlicesTotal   int     `json:"slices_total"`
	Outcome       Outcome `json:"outcome"`
}

// Progress is a point-in-time view of a run, safe to read from another
// goroutine.
type Progress struct {
	RunID        string    `json:"run_id,omitempty"`
	State        string    `json:"state"`
	Target       int       `json:"target"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	SliceIndex   int       `json:"slice_index"`
	SlicesTotal  int       `json:"slices_total"`
	CurrentSlice string    `json:"current_slice,omitempty"`
	Fetched      int       `json:"fetched"`
	Upserted     int       `json:"upserted"`
	StoredCount  int       `json:"stored_count"`
	Outcome      Outcome   `json:"outcome,omitempty"`
}

type Service struct {
	fetcher Fetcher
	sink    Sink
	runs    Repository
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	progress Progress

	now func() time.Time
}

// NewService wires the controller. runs may be nil, in which case no
// crawl_runs ledger is kept.
func NewService(fetcher Fetcher, sink Sink, runs Repository, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		sink:    sink,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run harvests star-range slices in order until the store holds at least
// target unique repositories or every slice has been visited. The store
// count is read before each slice and, through the harvester, during it;
// fetched totals are never used to decide when to stop because slices
// return repositories that are already stored.
//
// Once the run is recorded the returned Result is non-nil, including when
// err is non-nil.
func (s *Service) Run(ctx context.Context, target int) (res *Result, err error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}

	s.setProgress(Progress{State: StatePlanning, Target: target})
	ranges, err := PlanRanges(s.cfg.Plan)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:            uuid.NewString(),
		Status:        StatusRunning,
		Target:        target,
		SlicesPlanned: len(ranges),
		StartedAt:     s.now(),
	}
	if s.runs != nil {
		if err := s.runs.CreateRun(ctx, run); err != nil {
			return nil, err
		}
	}

	res = &Result{RunID: run.ID, Target: target, SlicesTotal: len(ranges)}
	s.setProgress(Progress{
		RunID:       run.ID,
		State:       StateSlicing,
		Target:      target,
		StartedAt:   run.StartedAt,
		SlicesTotal: len(ranges),
	})
	logger := s.logger.With("run_id", run.ID)
	logger.Info("crawl started", "target", target, "slices", len(ranges))

	defer func() {
		res.Upserted = s.Progress().Upserted
		if err != nil {
			res.Outcome = OutcomeFailed
		}
		s.finish(ctx, logger, run, res, err)
	}()

	h := NewHarvester(s.fetcher, &trackingSink{Sink: s.sink, svc: s}, HarvesterConfig{
		BatchSize:       s.cfg.BatchSize,
		CountCheckEvery: s.cfg.CountCheckEvery,
	}, s.logger.With("run_id", run.ID))

	stop := func(ctx context.Context) (bool, error) {
		count, err := s.count(ctx)
		if err != nil {
			return false, err
		}
		return count >= target, nil
	}

	for i, r := range ranges {
		count, err := s.count(ctx)
		if err != nil {
			return res, err
		}
		res.FinalCount = count
		if count >= target {
			res.Outcome = OutcomeTargetReached
			return res, nil
		}

		s.updateProgress(func(p *Progress) {
			p.SliceIndex = i
			p.CurrentSlice = r.String()
		})
		logger.Info("harvesting slice",
			"slice", r.String(),
			"index", i+1,
			"of", len(ranges),
			"stored", count,
			"target", target)

		fetched, err := h.Harvest(ctx, r, stop)
		res.Fetched += fetched
		res.SlicesVisited++
		s.updateProgress(func(p *Progress) { p.Fetched += fetched })
		if err != nil {
			return res, fmt.Errorf("slice %s: %w", r, err)
		}
		metrics.SlicesCompleted.Inc()
	}

	count, err := s.count(ctx)
	if err != nil {
		return res, err
	}
	res.FinalCount = count
	if count >= target {
		res.Outcome = OutcomeTargetReached
	} else {
		res.Outcome = OutcomeSlicesExhausted
	}
	return res, nil
}

// Progress returns a snapshot of the current or last run.
func (s *Service) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Service) count(ctx context.Context) (int, error) {
	count, err := s.sink.CountRepositories(ctx)
	if err != nil {
		return 0, err
	}
	metrics.UniqueRepositories.Set(float64(count))
	s.updateProgress(func(p *Progress) { p.StoredCount = count })
	return count, nil
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, run *Run, res *Result, err error) {
	now := s.now()
	run.FinishedAt = &now
	run.SlicesVisited = res.SlicesVisited
	run.ReposFetched = res.Fetched
	run.ReposUpserted = res.Upserted
	run.FinalCount = res.FinalCount

	switch res.Outcome {
	case OutcomeTargetReached:
		run.Status = StatusCompleted
		logger.Info("crawl finished: target reached",
			"final_count", res.FinalCount,
			"target", res.Target,
			"fetched", res.Fetched,
			"slices_visited", res.SlicesVisited)
	case OutcomeSlicesExhausted:
		run.Status = StatusExhausted
		logger.Warn("crawl finished: all slices exhausted below target",
			"final_count", res.FinalCount,
			"target", res.Target,
			"fetched", res.Fetched,
			"slices_visited", res.SlicesVisited)
	default:
		run.Status = StatusFailed
		if err != nil {
			run.Error = err.Error()
		}
		logger.Error("crawl failed",
			"error", err,
			"final_count", res.FinalCount,
			"slices_visited", res.SlicesVisited)
	}
	metrics.RecordRun(string(res.Outcome))

	s.updateProgress(func(p *Progress) {
		p.State = StateDone
		p.Outcome = res.Outcome
	})

	if s.runs != nil {
		if updateErr := s.runs.UpdateRun(context.WithoutCancel(ctx), run); updateErr != nil {
			logger.Error("failed to update crawl run", "error", updateErr)
		}
	}
}

func (s *Service) setProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

func (s *Service) updateProgress(fn func(p *Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.progress)
}

// trackingSink counts upserts into the service's progress.
type trackingSink struct {
	Sink
	svc *Service
}

func (t *trackingSink) UpsertBatch(ctx context.Context, repos []entity.Repository) (int, error) {
	n, err := t.Sink.UpsertBatch(ctx, repos)
	if err == nil {
		t.svc.updateProgress(func(p *Progress) { p.Upserted += n })
	}
	return n, err
}
