package crawler

import (
	"time"
)

const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusExhausted = "EXHAUSTED"
	StatusFailed    = "FAILED"
)

// Run is one row of the crawl_runs ledger.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Status        string // RUNNING, COMPLETED, EXHAUSTED, FAILED
	Target        int
	SlicesPlanned int
	SlicesVisited int
	ReposFetched  int
	ReposUpserted int
	FinalCount    int
	Error         string
}
