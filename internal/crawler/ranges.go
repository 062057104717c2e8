package crawler

import (
	"errors"
	"fmt"
)

// StarRange is an inclusive star-count interval used as one search slice.
type StarRange struct {
	Min int
	Max int
}

// Query renders the range as a GitHub search qualifier.
func (r StarRange) Query() string {
	return fmt.Sprintf("stars:%d..%d", r.Min, r.Max)
}

func (r StarRange) String() string {
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// Band slices [previous band's Upper+1, Upper] into buckets of Width stars.
type Band struct {
	Upper int
	Width int
}

type PlanConfig struct {
	Bands []Band
	// MaxStars is the top of the last, terminal bucket.
	MaxStars int
}

// DefaultBands keeps each bucket under the 1000-result search ceiling for
// the bulk of GitHub: repositories are densest at low star counts.
var DefaultBands = []Band{
	{Upper: 99, Width: 1},
	{Upper: 299, Width: 2},
	{Upper: 999, Width: 10},
	{Upper: 4999, Width: 50},
	{Upper: 9999, Width: 250},
	{Upper: 49999, Width: 5000},
	{Upper: 99999, Width: 50000},
}

const DefaultMaxStars = 1_000_000

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{Bands: DefaultBands, MaxStars: DefaultMaxStars}
}

var ErrInvalidPlan = errors.New("invalid range plan")

// PlanRanges returns consecutive, non-overlapping star ranges covering
// 0..MaxStars. Anything above the last band becomes one terminal bucket.
func PlanRanges(cfg PlanConfig) ([]StarRange, error) {
	if cfg.MaxStars < 0 {
		return nil, fmt.Errorf("%w: max stars %d is negative", ErrInvalidPlan, cfg.MaxStars)
	}

	var ranges []StarRange
	lower := 0
	for i, b := range cfg.Bands {
		if b.Width < 1 {
			return nil, fmt.Errorf("%w: band %d has width %d", ErrInvalidPlan, i, b.Width)
		}
		if b.Upper < lower {
			return nil, fmt.Errorf("%w: band %d upper %d is below %d", ErrInvalidPlan, i, b.Upper, lower)
		}

		upperBound := min(b.Upper, cfg.MaxStars)
		for lower <= upperBound {
			upper := min(lower+b.Width-1, upperBound)
			ranges = append(ranges, StarRange{Min: lower, Max: upper})
			lower = upper + 1
		}
		if lower > cfg.MaxStars {
			return ranges, nil
		}
	}

	ranges = append(ranges, StarRange{Min: lower, Max: cfg.MaxStars})
	return ranges, nil
}
