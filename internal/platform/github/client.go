package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"repocrawl/internal/entity"
	"repocrawl/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL = "https://api.github.com/graphql"

	// MaxPageSize is the largest "first" the search connection accepts.
	MaxPageSize = 100

	// ResultCeiling is the most results GitHub returns for one search
	// query, however many pages are requested.
	ResultCeiling = 1000
)

// searchRepositoriesQuery pages through one search predicate. The
// predicate carries the star range, e.g. "stars:10..19".
const searchRepositoriesQuery = `
query ($cursor: String, $searchQuery: String!, $first: Int!) {
  search(query: $searchQuery, type: REPOSITORY, first: $first, after: $cursor) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ... on Repository {
        id
        name
        owner { login }
        stargazerCount
      }
    }
  }
  rateLimit {
    limit
    cost
    remaining
    resetAt
  }
}`

type Config struct {
	Token             string
	APIURL            string
	UserAgent         string
	PageSize          int
	MaxRetries        int
	RateLimitBuffer   int
	RequestsPerSecond float64
	Timeout           time.Duration
	// BaseBackoff is the first retry delay; each retry doubles it.
	BaseBackoff time.Duration
	// FallbackWait is used when the reset timestamp cannot be parsed.
	FallbackWait time.Duration
}

// RateLimit matches the rateLimit object of the GraphQL API.
type RateLimit struct {
	Limit     int    `json:"limit"`
	Cost      int    `json:"cost"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// SearchResult is one page of a repository search.
type SearchResult struct {
	Repositories []entity.Repository
	PageInfo     PageInfo
	RateLimit    RateLimit
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.FallbackWait <= 0 {
		cfg.FallbackWait = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Fetch returns one page of repositories matching query, starting after
// cursor (empty for the first page). Transient failures are retried with
// exponential backoff; everything else is returned as-is.
func (c *Client) Fetch(ctx context.Context, query, cursor string) (*SearchResult, error) {
	bo := c.newBackOff()
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := c.search(ctx, query, cursor)
		metrics.RecordRequest(requestStatus(err), time.Since(start).Seconds())
		if err == nil {
			metrics.RateLimitRemaining.Set(float64(res.RateLimit.Remaining))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsTransient(err) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, c.cfg.MaxRetries, err)
		}

		delay := bo.NextBackOff()
		c.logger.Warn("github request failed, retrying",
			"query", query,
			"error", err,
			"retry_in", delay,
			"retry", attempt+1,
			"max_retries", c.cfg.MaxRetries)
		metrics.RetriesTotal.Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// ShouldWaitForRateLimit reports whether the remaining quota fell below the
// configured safety buffer.
func (c *Client) ShouldWaitForRateLimit(rl RateLimit) bool {
	return rl.Remaining < c.cfg.RateLimitBuffer
}

// WaitForRateLimitReset blocks until resetAt (RFC 3339) has passed. An
// unparsable timestamp falls back to a fixed wait.
func (c *Client) WaitForRateLimitReset(ctx context.Context, resetAt string) error {
	wait := c.cfg.FallbackWait
	if reset, err := time.Parse(time.RFC3339, resetAt); err == nil {
		wait = reset.Sub(c.now())
		if wait < 0 {
			wait = 0
		}
		wait += time.Second
	} else {
		c.logger.Warn("cannot parse rate limit reset time, using fallback wait",
			"reset_at", resetAt,
			"error", err)
	}

	c.logger.Info("rate limit nearly exhausted, waiting for reset",
		"reset_at", resetAt,
		"wait", wait.Round(time.Second))
	metrics.RateLimitWaits.Inc()
	return c.sleep(ctx, wait)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 30 * time.Minute
	bo.Reset()
	return bo
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type repositoryNode struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	StargazerCount int `json:"stargazerCount"`
}

type searchResponse struct {
	Data *struct {
		Search struct {
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []*repositoryNode `json:"nodes"`
		} `json:"search"`
		RateLimit RateLimit `json:"rateLimit"`
	} `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) search(ctx context.Context, query, cursor string) (*SearchResult, error) {
	vars := map[string]any{
		"searchQuery": query,
		"first":       c.cfg.PageSize,
		"cursor":      nil,
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	body, err := json.Marshal(graphQLRequest{Query: searchRepositoriesQuery, Variables: vars})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			RateLimit:  isRateLimited(resp),
		}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, transient(fmt.Errorf("github: decode response: %w", err))
	}
	if len(payload.Errors) > 0 {
		e := payload.Errors[0]
		return nil, &QueryError{Type: e.Type, Message: e.Message}
	}
	if payload.Data == nil {
		return nil, transient(errors.New("github: response has no data"))
	}

	search := payload.Data.Search
	res := &SearchResult{
		Repositories: make([]entity.Repository, 0, len(search.Nodes)),
		PageInfo:     PageInfo{HasNextPage: search.PageInfo.HasNextPage},
		RateLimit:    payload.Data.RateLimit,
	}
	if search.PageInfo.EndCursor != nil {
		res.PageInfo.EndCursor = *search.PageInfo.EndCursor
	}
	for _, node := range search.Nodes {
		// Non-repository results come back as null or empty objects.
		if node == nil || node.ID == "" {
			continue
		}
		res.Repositories = append(res.Repositories, entity.Repository{
			ID:        node.ID,
			Owner:     node.Owner.Login,
			Name:      node.Name,
			StarCount: node.StargazerCount,
		})
	}
	return res, nil
}

// isRateLimited detects the 403 GitHub sends for secondary rate limits.
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	return resp.Header.Get("Retry-After") != "" || resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func requestStatus(err error) string {
	var se *StatusError
	var qe *QueryError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &se):
		return fmt.Sprintf("%d", se.StatusCode)
	case errors.As(err, &qe):
		return "query_error"
	default:
		return "transport_error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
