package model

import "time"

// RunStatus tracks an ingest run's lifecycle in the store.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// IngestRun is the bookkeeping record for one backfill run.
type IngestRun struct {
	ID           string    `json:"id"`
	Status       RunStatus `json:"status"`
	HorizonStart time.Time `json:"horizon_start"`
	HorizonEnd   time.Time `json:"horizon_end"`
	Windows      int       `json:"windows"`
	Resumed      bool      `json:"resumed"`

	Fetched    int `json:"fetched"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Persisted  int `json:"persisted"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
