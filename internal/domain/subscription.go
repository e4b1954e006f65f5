package domain

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionPaused SubscriptionStatus = "paused"
	SubscriptionError  SubscriptionStatus = "error"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPaused, SubscriptionError:
		return true
	}
	return false
}

// Subscription is a standing query. SignatureToken is write-only: it is
// accepted on create and never rendered back.
type Subscription struct {
	ID                string             `json:"subscriptionID"`
	QueryName         string             `json:"queryName"`
	Destination       string             `json:"destination,omitempty"`
	Schedule          string             `json:"schedule,omitempty"`
	SignatureToken    string             `json:"-"`
	ReportIfEmpty     bool               `json:"reportIfEmpty"`
	Stream            bool               `json:"stream"`
	InitialRecordTime *time.Time         `json:"initialRecordTime,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	LastExecutedAt    *time.Time         `json:"lastExecutedAt,omitempty"`
	Status            SubscriptionStatus `json:"status"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
}

// Recurring reports whether the schedule fires more than once. A schedule
// without any wildcard field names a single instant.
func (s *Subscription) Recurring() bool {
	return strings.Contains(s.Schedule, "*")
}

// Scheduled reports whether the delivery scheduler is responsible for s.
func (s *Subscription) Scheduled() bool {
	return !s.Stream && s.Schedule != ""
}

type CreateSubscriptionRequest struct {
	Destination       string  `json:"destination"`
	Schedule          string  `json:"schedule,omitempty"`
	SignatureToken    string  `json:"signatureToken,omitempty"`
	ReportIfEmpty     bool    `json:"reportIfEmpty"`
	InitialRecordTime *string `json:"initialRecordTime,omitempty"`
	Stream            bool    `json:"stream"`
}

type UpdateSubscriptionRequest struct {
	Status *SubscriptionStatus `json:"status,omitempty"`
}
