package entity

import "time"

// Repository is one GitHub repository as returned by the search API.
// ID is the GraphQL node id; owner/name can be reused after a rename or
// deletion, the node id cannot.
type Repository struct {
	ID        string `json:"github_id"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	StarCount int    `json:"star_count"`
}

func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// StoredRepository is a persisted row, including bookkeeping timestamps.
type StoredRepository struct {
	Repository
	CrawledAt time.Time `json:"crawled_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
