// Package search indexes executed reverts so patrollers can find them by
// page, contributor or summary text.
package search

import (
	"strconv"
	"time"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string    `json:"id"`
	Page          string    `json:"page"`
	Kind          string    `json:"kind"`
	Operation     string    `json:"operation"`
	Actor         string    `json:"actor"`
	Contributor   string    `json:"contributor"`
	Snippet       string    `json:"snippet"`
	NewRevisionID int64     `json:"newRevisionId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Page   string
	Kind   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push reverts into a search index.
type Indexer interface {
	IndexRevert(r RevertRecord) error
	IndexReverts(records []RevertRecord) error
}

// RevertRecord is the data we index for an executed revert.
type RevertRecord struct {
	ID               string `json:"id"`
	Page             string `json:"page"`
	Kind             string `json:"kind"`
	Operation        string `json:"operation"`
	Actor            string `json:"actor"`
	Contributor      string `json:"contributor"`
	Summary          string `json:"summary"`
	TargetRevisionID int64  `json:"targetRevisionId"`
	NewRevisionID    int64  `json:"newRevisionId"`
	CreatedAt        int64  `json:"createdAt"`
}

// RecordID is the index key of a revert log row.
func RecordID(logID int64) string {
	return "revert-" + strconv.FormatInt(logID, 10)
}
