package domain

import (
	"slices"
	"time"
)

type ErrorBehaviour string

const (
	Rollback ErrorBehaviour = "rollback"
	Proceed  ErrorBehaviour = "proceed"
)

func (b ErrorBehaviour) Valid() bool {
	return b == Rollback || b == Proceed
}

type JobStatus string

const (
	JobCreated         JobStatus = "created"
	JobRunning         JobStatus = "running"
	JobSucceeded       JobStatus = "succeeded"
	JobPartiallyFailed JobStatus = "partiallyFailed"
	JobAborted         JobStatus = "aborted"
)

// CaptureError is one failure recorded against a capture job. EventID and
// EventIndex are unset for document-level failures.
type CaptureError struct {
	Problem
	EventID    string `json:"eventID,omitempty"`
	EventIndex *int   `json:"eventIndex,omitempty"`
}

type CaptureJob struct {
	CaptureID             string         `json:"captureID"`
	CreatedAt             time.Time      `json:"createdAt"`
	FinishedAt            *time.Time     `json:"finishedAt,omitempty"`
	Running               bool           `json:"running"`
	Success               bool           `json:"success"`
	Status                JobStatus      `json:"status"`
	CaptureErrorBehaviour ErrorBehaviour `json:"captureErrorBehaviour"`
	EventCount            int            `json:"eventCount"`
	CapturedCount         int            `json:"capturedCount"`
	Errors                []CaptureError `json:"errors"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *CaptureJob) Clone() *CaptureJob {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.Errors = slices.Clone(j.Errors)
	if c.Errors == nil {
		c.Errors = []CaptureError{}
	}
	return &c
}
