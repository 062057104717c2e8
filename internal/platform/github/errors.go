package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized means the token was rejected. Waiting will not help.
	ErrUnauthorized = errors.New("github: unauthorized, check GITHUB_TOKEN")

	// ErrRetriesExhausted wraps the last transient failure once the retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("github: max retries exceeded")
)

// QueryError is an application-level error reported in a GraphQL errors
// array. A malformed search predicate ends up here.
type QueryError struct {
	Type    string
	Message string
}

func (e *QueryError) Error() string {
	if e.Type == "" {
		return "github: graphql error: " + e.Message
	}
	return fmt.Sprintf("github: graphql error (%s): %s", e.Type, e.Message)
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
	RateLimit  bool
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("github: unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("github: unexpected status code: %d: %s", e.StatusCode, body)
}

// transientError marks a failure that is worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// Client.Timeout errors also match context.DeadlineExceeded, so the
	// transport marker has to win over the context check.
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError ||
			se.StatusCode == http.StatusTooManyRequests ||
			se.RateLimit
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Type == "RATE_LIMITED"
	}
	return false
}
