package models

import "time"

// Severity classifies a scrobble outcome for the caller.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ScrobbleResult is the terminal outcome of one reconciliation. The listener
// maps SeverityError to a server-fault response and everything else to a
// success response.
type ScrobbleResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ScrobbleAction names the mutation (or no-op) a reconciliation produced.
type ScrobbleAction string

const (
	ActionNone    ScrobbleAction = "none"
	ActionAdvance ScrobbleAction = "advance"
	ActionPromote ScrobbleAction = "promote"
	ActionCreate  ScrobbleAction = "create"
	ActionReset   ScrobbleAction = "reset"
)

// ScrobbleRecord is one audit row of the scrobble history. It is write-only
// data: reconciliation decisions never read it.
type ScrobbleRecord struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Series    string         `json:"series,omitempty"`
	SeriesID  string         `json:"seriesId"`
	MediaID   int            `json:"mediaId,omitempty"`
	Season    int            `json:"season"`
	Episode   int            `json:"episode"`
	Action    ScrobbleAction `json:"action"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	CreatedAt time.Time      `json:"createdAt"`
}
