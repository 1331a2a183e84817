// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a query combination.
type Status string

// Combination status values persisted in the combination store.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further execution is valid from the status
// (reset excepted).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Triple identifies one harvesting job: a location, a category, and a dork.
type Triple struct {
	LocationID uuid.UUID `json:"location_id"`
	CategoryID uuid.UUID `json:"category_id"`
	DorkID     uuid.UUID `json:"dork_id"`
}

// Combination is the unit of harvesting work. One row exists per unique triple.
type Combination struct {
	ID                uuid.UUID  `json:"id"`
	Triple            Triple     `json:"triple"`
	DorkString        string     `json:"dork_string"`
	CredentialID      uuid.UUID  `json:"credential_id"`
	TotalFetched      int        `json:"total_fetched"`
	LastStartIndex    int        `json:"last_start_index"`
	NextStartIndex    int        `json:"next_start_index"`
	MaxAllowedResults int        `json:"max_allowed_results"`
	Status            Status     `json:"status"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CreateParams captures the operator request for create-or-get.
type CreateParams struct {
	Triple            Triple
	CredentialID      uuid.UUID
	MaxAllowedResults int
}

// Link is one harvested, deduplicated search result.
type Link struct {
	ID            uuid.UUID `json:"id"`
	CombinationID uuid.UUID `json:"combination_id"`
	URL           string    `json:"url"`
	CanonicalURL  string    `json:"canonical_url"`
	Title         string    `json:"title"`
	Snippet       string    `json:"snippet"`
	DisplayLink   string    `json:"display_link"`
	FormattedURL  string    `json:"formatted_url"`
	Rank          int       `json:"rank"`
	PageNumber    int       `json:"page_number"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Dork is the literal query string submitted to the search provider.
type Dork struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

// Credential is a resolved, decrypted provider credential.
type Credential struct {
	ID       uuid.UUID
	APIKey   string
	EngineID string
}

// SearchItem is one result row returned by the provider.
type SearchItem struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	DisplayLink  string `json:"display_link"`
	FormattedURL string `json:"formatted_url"`
}

// SearchPage is one page of provider results plus pagination metadata.
// NextStartIndex is zero when the provider signals no further page.
type SearchPage struct {
	Items          []SearchItem
	NextStartIndex int
	TotalResults   int64
}

// PageResult is the structured outcome of a single page execution.
type PageResult struct {
	Success       bool      `json:"success"`
	InsertedCount int       `json:"inserted_count"`
	HasMore       bool      `json:"has_more"`
	Error         string    `json:"error,omitempty"`
	ErrorCode     ErrorCode `json:"error_code,omitempty"`
}

// RunSummary reports the outcome of one orchestrator run.
type RunSummary struct {
	CombinationID uuid.UUID `json:"combination_id"`
	PagesExecuted int       `json:"pages_executed"`
	LinksInserted int       `json:"links_inserted"`
	FinalStatus   Status    `json:"final_status"`
	Error         string    `json:"error,omitempty"`
	ErrorCode     ErrorCode `json:"error_code,omitempty"`
}

// RunRequest asks the runner pool to drive one combination to completion.
type RunRequest struct {
	CombinationID uuid.UUID
	Attempt       int
	Submitted     int64
}
