package model

import "time"

// JobStatus is the lifecycle state of a bulk sync job.
type JobStatus string

// Job lifecycle states.
const (
	JobProcessing JobStatus = "Processing"
	JobCompleted  JobStatus = "Completed"
	JobError      JobStatus = "Error"
)

// SyncJob is an in-memory, pollable record of a bulk synchronization run.
// It is mutated concurrently by workers (under the tracker's lock) and is
// read-only once Status is JobCompleted or JobError. Jobs are never persisted
// beyond process lifetime.
type SyncJob struct {
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	FieldTally  map[string]int `json:"field_tally"`
	ReasonTally map[string]int `json:"reason_tally"`
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Error       string         `json:"error,omitempty"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
}

// Clone returns a deep copy safe to hand to callers while workers are still
// mutating the original.
func (j *SyncJob) Clone() *SyncJob {
	if j == nil {
		return nil
	}
	c := *j
	c.FieldTally = make(map[string]int, len(j.FieldTally))
	for k, v := range j.FieldTally {
		c.FieldTally[k] = v
	}
	c.ReasonTally = make(map[string]int, len(j.ReasonTally))
	for k, v := range j.ReasonTally {
		c.ReasonTally[k] = v
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
