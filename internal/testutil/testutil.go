package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"repocrawl/internal/entity"
)

// Repo returns a repository fixture with a deterministic owner and name.
func Repo(id string, stars int) entity.Repository {
	return entity.Repository{
		ID:        id,
		Owner:     "owner-" + id,
		Name:      "repo-" + id,
		StarCount: stars,
	}
}

// Repos returns one fixture per id, all with the same star count.
func Repos(stars int, ids ...string) []entity.Repository {
	out := make([]entity.Repository, len(ids))
	for i, id := range ids {
		out[i] = Repo(id, stars)
	}
	return out
}

// SearchPage describes one GraphQL search response.
type SearchPage struct {
	Repositories []entity.Repository
	HasNextPage  bool
	EndCursor    string
	Remaining    int
	ResetAt      string
}

// SearchPayload renders page as a GitHub GraphQL response body.
func SearchPayload(page SearchPage) []byte {
	nodes := make([]map[string]interface{}, 0, len(page.Repositories))
	for _, r := range page.Repositories {
		nodes = append(nodes, map[string]interface{}{
			"id":             r.ID,
			"name":           r.Name,
			"owner":          map[string]interface{}{"login": r.Owner},
			"stargazerCount": r.StarCount,
		})
	}

	var cursor interface{}
	if page.EndCursor != "" {
		cursor = page.EndCursor
	}
	resetAt := page.ResetAt
	if resetAt == "" {
		resetAt = "2030-01-01T00:00:00Z"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{
			"search": map[string]interface{}{
				"pageInfo": map[string]interface{}{
					"hasNextPage": page.HasNextPage,
					"endCursor":   cursor,
				},
				"nodes": nodes,
			},
			"rateLimit": map[string]interface{}{
				"limit":     5000,
				"cost":      1,
				"remaining": page.Remaining,
				"resetAt":   resetAt,
			},
		},
	})
	return body
}

// GraphQLErrorPayload renders a response carrying an errors array.
func GraphQLErrorPayload(errType, message string) []byte {
	return []byte(fmt.Sprintf(`{"data":null,"errors":[{"type":%q,"message":%q}]}`, errType, message))
}

// NewRequest creates a new HTTP request for testing
func NewRequest(method, path string, body interface{}) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	var r *http.Request
	if bodyBytes != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(bodyBytes))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	return r
}

// RecordResponse records the HTTP response for testing
type RecordResponse struct {
	Code   int
	Header http.Header
	Body   map[string]interface{}
}

// RecordHTTPResponse records the HTTP response
func RecordHTTPResponse(w *httptest.ResponseRecorder) RecordResponse {
	result := w.Result()
	defer result.Body.Close()

	bodyBytes, _ := io.ReadAll(result.Body)

	var bodyMap map[string]interface{}
	if len(bodyBytes) > 0 {
		json.NewDecoder(bytes.NewReader(bodyBytes)).Decode(&bodyMap)
	}

	return RecordResponse{
		Code:   result.StatusCode,
		Header: result.Header,
		Body:   bodyMap,
	}
}
