package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"repocrawl/internal/entity"
	"repocrawl/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	status int
	body   []byte
	header map[string]string
}

// newScriptedServer replays responses in order and repeats the last one.
func newScriptedServer(t *testing.T, responses ...scripted) (*httptest.Server, *int32, *[]graphQLRequest) {
	t.Helper()
	var calls int32
	var requests []graphQLRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		resp := responses[len(responses)-1]
		if n <= len(responses) {
			resp = responses[n-1]
		}
		for k, v := range resp.header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.status)
		_, _ = w.Write(resp.body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &requests
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestClient(url string, maxRetries int) (*Client, *sleepRecorder) {
	c := NewClient(Config{
		Token:           "test-token",
		APIURL:          url,
		UserAgent:       "repocrawl-test",
		PageSize:        2,
		MaxRetries:      maxRetries,
		RateLimitBuffer: 50,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func ok(page testutil.SearchPage) scripted {
	return scripted{status: http.StatusOK, body: testutil.SearchPayload(page)}
}

func TestClient_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("parses a page and sends the search variables", func(t *testing.T) {
		var gotAuth, gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotUA = r.Header.Get("User-Agent")

			var req graphQLRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "stars:5..9", req.Variables["searchQuery"])
			assert.Equal(t, float64(2), req.Variables["first"])
			assert.Equal(t, "cursor-1", req.Variables["cursor"])

			_, _ = w.Write([]byte(`{"data":{"search":{"pageInfo":{"hasNextPage":true,"endCursor":"cursor-2"},
				"nodes":[{"id":"R_1","name":"alpha","owner":{"login":"octo"},"stargazerCount":7},null,{}]},
				"rateLimit":{"limit":5000,"cost":1,"remaining":4321,"resetAt":"2030-01-01T00:00:00Z"}}}`))
		}))
		defer srv.Close()

		c, rec := newTestClient(srv.URL, 3)
		res, err := c.Fetch(ctx, "stars:5..9", "cursor-1")
		require.NoError(t, err)

		assert.Equal(t, "Bearer test-token", gotAuth)
		assert.Equal(t, "repocrawl-test", gotUA)
		assert.Equal(t, []entity.Repository{{ID: "R_1", Owner: "octo", Name: "alpha", StarCount: 7}}, res.Repositories)
		assert.Equal(t, PageInfo{HasNextPage: true, EndCursor: "cursor-2"}, res.PageInfo)
		assert.Equal(t, 4321, res.RateLimit.Remaining)
		assert.Equal(t, "2030-01-01T00:00:00Z", res.RateLimit.ResetAt)
		assert.Empty(t, rec.delays)
	})

	t.Run("first page sends a null cursor", func(t *testing.T) {
		srv, _, requests := newScriptedServer(t, ok(testutil.SearchPage{Remaining: 100}))
		c, _ := newTestClient(srv.URL, 0)

		_, err := c.Fetch(ctx, "stars:0..0", "")
		require.NoError(t, err)
		require.Len(t, *requests, 1)
		v, present := (*requests)[0].Variables["cursor"]
		assert.True(t, present)
		assert.Nil(t, v)
	})

	t.Run("retries server errors with doubling backoff", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t,
			scripted{status: http.StatusBadGateway},
			scripted{status: http.StatusServiceUnavailable},
			ok(testutil.SearchPage{Repositories: testutil.Repos(1, "a"), Remaining: 100}),
		)
		c, rec := newTestClient(srv.URL, 5)

		res, err := c.Fetch(ctx, "stars:1..1", "")
		require.NoError(t, err)
		assert.Len(t, res.Repositories, 1)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
	})

	t.Run("fails fatally once retries are exhausted", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t, scripted{status: http.StatusInternalServerError})
		c, rec := newTestClient(srv.URL, 3)

		_, err := c.Fetch(ctx, "stars:1..1", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
		assert.Equal(t, int32(4), atomic.LoadInt32(calls))
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.delays)
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t, scripted{status: http.StatusUnauthorized, body: []byte(`{"message":"Bad credentials"}`)})
		c, rec := newTestClient(srv.URL, 5)

		_, err := c.Fetch(ctx, "stars:1..1", "")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		assert.Empty(t, rec.delays)
	})

	t.Run("graphql query errors are not retried", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t, scripted{
			status: http.StatusOK,
			body:   testutil.GraphQLErrorPayload("INVALID_SEARCH", "invalid search query"),
		})
		c, rec := newTestClient(srv.URL, 5)

		_, err := c.Fetch(ctx, "stars:x..y", "")
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "INVALID_SEARCH", qe.Type)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		assert.Empty(t, rec.delays)
	})

	t.Run("RATE_LIMITED graphql errors are retried", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t,
			scripted{status: http.StatusOK, body: testutil.GraphQLErrorPayload("RATE_LIMITED", "API rate limit exceeded")},
			ok(testutil.SearchPage{Remaining: 10}),
		)
		c, rec := newTestClient(srv.URL, 5)

		_, err := c.Fetch(ctx, "stars:1..1", "")
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
		assert.Equal(t, []time.Duration{2 * time.Second}, rec.delays)
	})

	t.Run("client errors other than 401 fail immediately", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t, scripted{status: http.StatusNotFound, body: []byte(`{"message":"Not Found"}`)})
		c, rec := newTestClient(srv.URL, 5)

		_, err := c.Fetch(ctx, "stars:1..1", "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		assert.Empty(t, rec.delays)
	})

	t.Run("secondary rate limit 403 is retried", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t,
			scripted{status: http.StatusForbidden, header: map[string]string{"Retry-After": "30"}},
			ok(testutil.SearchPage{Remaining: 100}),
		)
		c, _ := newTestClient(srv.URL, 5)

		_, err := c.Fetch(ctx, "stars:1..1", "")
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	})

	t.Run("transport errors are retried", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, rec := newTestClient(url, 2)
		_, err := c.Fetch(ctx, "stars:1..1", "")
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
	})

	t.Run("request timeouts are retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			select {
			case <-r.Context().Done():
			case <-time.After(300 * time.Millisecond):
			}
		}))
		defer srv.Close()

		c, rec := newTestClient(srv.URL, 3)
		c.httpClient.Timeout = 50 * time.Millisecond

		_, err := c.Fetch(ctx, "stars:1..1", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.delays)
	})

	t.Run("cancellation during backoff stops retrying", func(t *testing.T) {
		srv, calls, _ := newScriptedServer(t, scripted{status: http.StatusBadGateway})
		c, _ := newTestClient(srv.URL, 5)

		cctx, cancel := context.WithCancel(ctx)
		c.sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}

		_, err := c.Fetch(cctx, "stars:1..1", "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})
}

func TestClient_ShouldWaitForRateLimit(t *testing.T) {
	c, _ := newTestClient("http://unused", 0)

	tests := map[string]struct {
		remaining int
		want      bool
	}{
		"well above buffer": {remaining: 4000, want: false},
		"equal to buffer":   {remaining: 50, want: false},
		"below buffer":      {remaining: 49, want: true},
		"exhausted":         {remaining: 0, want: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.ShouldWaitForRateLimit(RateLimit{Remaining: tc.remaining}))
		})
	}
}

func TestClient_WaitForRateLimitReset(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := map[string]struct {
		resetAt string
		want    time.Duration
	}{
		"future reset":      {resetAt: "2026-01-02T03:05:35Z", want: 91 * time.Second},
		"reset in the past": {resetAt: "2026-01-02T03:00:00Z", want: time.Second},
		"unparsable":        {resetAt: "soon", want: 60 * time.Second},
		"empty":             {resetAt: "", want: 60 * time.Second},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, rec := newTestClient("http://unused", 0)
			c.now = func() time.Time { return now }

			require.NoError(t, c.WaitForRateLimitReset(context.Background(), tc.resetAt))
			assert.Equal(t, []time.Duration{tc.want}, rec.delays)
		})
	}

	t.Run("returns the context error when cancelled", func(t *testing.T) {
		c, _ := newTestClient("http://unused", 0)
		c.sleep = sleepContext
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.WaitForRateLimitReset(ctx, "2099-01-01T00:00:00Z")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestIsTransient(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"nil":                  {err: nil, want: false},
		"unauthorized":         {err: ErrUnauthorized, want: false},
		"server error":         {err: &StatusError{StatusCode: 503}, want: true},
		"too many requests":    {err: &StatusError{StatusCode: 429}, want: true},
		"forbidden":            {err: &StatusError{StatusCode: 403}, want: false},
		"rate limited 403":     {err: &StatusError{StatusCode: 403, RateLimit: true}, want: true},
		"query error":          {err: &QueryError{Type: "INVALID"}, want: false},
		"rate limited query":   {err: &QueryError{Type: "RATE_LIMITED"}, want: true},
		"transport":            {err: transient(errors.New("connection reset")), want: true},
		"context cancelled":    {err: context.Canceled, want: false},
		"client timeout":       {err: transient(context.DeadlineExceeded), want: true},
		"wrapped server error": {err: errors.Join(errors.New("ctx"), &StatusError{StatusCode: 500}), want: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
