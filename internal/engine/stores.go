package engine

import (
	"context"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/query"
)

// EventStore persists captured events. QueryEvents returns one page of
// matches and whether more follow it.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *domain.Event) error
	DeleteByCaptureID(ctx context.Context, captureID string) (int64, error)
	QueryEvents(ctx context.Context, spec *query.Spec) ([]*domain.Event, bool, error)
}

// QueryStore persists named queries. GetQuery returns nil, nil when the name
// is unknown.
type QueryStore interface {
	CreateQuery(ctx context.Context, q *domain.QueryDefinition) error
	GetQuery(ctx context.Context, name string) (*domain.QueryDefinition, error)
	ListQueries(ctx context.Context) ([]domain.QueryDefinition, error)
	ReplaceQuery(ctx context.Context, q *domain.QueryDefinition) error
	DeleteQuery(ctx context.Context, name string) error
}

// SubscriptionStore persists subscriptions. GetSubscription returns nil, nil
// when no subscription with that id exists under the query.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, queryName, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, queryName string) ([]domain.Subscription, error)
	DeleteSubscription(ctx context.Context, queryName, id string) error
	ListDueSubscriptions(ctx context.Context, cutoff time.Time) ([]domain.Subscription, error)
	MarkExecuted(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus, errorMessage string) error
}

// JobStore holds capture job state. GetJob returns nil, nil for unknown ids.
type JobStore interface {
	SaveJob(ctx context.Context, job *domain.CaptureJob) error
	GetJob(ctx context.Context, id string) (*domain.CaptureJob, error)
	ListJobs(ctx context.Context) ([]domain.CaptureJob, error)
}
