package models

import "time"

// EventTypeBatchCompleted marks the end of an ingestion batch
const EventTypeBatchCompleted = "EOD_BATCH_COMPLETED"

// CompletionEvent is published once per batch, whatever its outcome.
// Subscribers treat it as a signal; the counts are informational.
type CompletionEvent struct {
	EventType string         `json:"event_type"`
	RunID     string         `json:"run_id"`
	Aborted   bool           `json:"aborted"`
	Error     string         `json:"error,omitempty"`
	Dates     int            `json:"dates"`
	Counts    map[string]int `json:"counts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IngestRun is the persisted record of one batch
type IngestRun struct {
	ID         string           `json:"id"`
	Trigger    string           `json:"trigger"`
	FromDate   string           `json:"from_date"`
	ToDate     string           `json:"to_date"`
	Aborted    bool             `json:"aborted"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Statuses   []DownloadStatus `json:"statuses"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Tally fills the outcome counters from the run's statuses
func (r *IngestRun) Tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, s := range r.Statuses {
		switch {
		case s.Is(StatusSuccess):
			r.Succeeded++
		case s.Is(StatusError):
			r.Failed++
		default:
			r.Skipped++
		}
	}
}
