package model

import "time"

// Message is one ingested email.
type Message struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	JobID      string    `json:"job_id,omitempty"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Category   Category  `json:"category"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageFilter narrows a message listing.
type MessageFilter struct {
	Category Category `json:"category,omitempty"`
	JobID    string   `json:"job_id,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

// Excerpt truncates s to at most n runes.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Classification is the structured verdict for one message.
type Classification struct {
	Category       Category `json:"category"`
	Company        string   `json:"company"`
	Role           string   `json:"role"`
	InterviewDate  string   `json:"interview_date,omitempty"`
	Kind           JobKind  `json:"job_type"`
	WorkMode       WorkMode `json:"work_mode"`
	SourcePlatform string   `json:"source_platform,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Mode is the kind of ingestion run.
type Mode string

const (
	ModeBackfill Mode = "backfill"
	ModeSync     Mode = "sync"
)

// Checkpoint is the resumable position of a run: the query it started with
// and the page token of the first page not yet fully processed.
type Checkpoint struct {
	Mode      Mode      `json:"mode"`
	Query     string    `json:"query"`
	PageToken string    `json:"page_token"`
	Processed int       `json:"processed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCount is a row of the per-status job breakdown.
type StatusCount struct {
	Status Category `json:"status"`
	Count  int      `json:"count"`
}
