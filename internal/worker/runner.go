package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
)

// Job is one execution of a scheduled subscription at a scheduler tick.
type Job struct {
	Subscription domain.Subscription
	Tick         time.Time
}

// Runner executes a subscription's query for the window since its last
// delivery and hands the results to the deliverer.
type Runner struct {
	executor  *engine.QueryExecutor
	subs      engine.SubscriptionStore
	deliverer *Deliverer
	logger    *slog.Logger
}

func NewRunner(executor *engine.QueryExecutor, subs engine.SubscriptionStore, deliverer *Deliverer, logger *slog.Logger) *Runner {
	return &Runner{executor: executor, subs: subs, deliverer: deliverer, logger: logger}
}

// Run executes job. Any failure moves the subscription to the error status;
// it is not retried.
func (r *Runner) Run(ctx context.Context, job Job) error {
	sub := job.Subscription

	events, err := r.collect(ctx, &sub, job.Tick)
	if err != nil {
		return r.markFailed(ctx, &sub, fmt.Errorf("running query: %w", err))
	}

	if len(events) == 0 && !sub.ReportIfEmpty {
		r.logger.Debug("nothing to deliver", "subscription_id", sub.ID, "query_name", sub.QueryName)
		return nil
	}

	if err := r.deliverer.Deliver(ctx, &sub, events); err != nil {
		return r.markFailed(ctx, &sub, err)
	}

	if err := r.subs.MarkExecuted(context.WithoutCancel(ctx), sub.ID, job.Tick); err != nil {
		r.logger.Error("failed to record subscription execution", "subscription_id", sub.ID, "error", err)
		return fmt.Errorf("marking subscription executed: %w", err)
	}
	return nil
}

// collect runs the named query bounded to record times in
// [lastExecutedAt or initialRecordTime, tick). The window is intersected
// with any recordTime bounds of the stored query, and a stored page token
// is dropped so every run starts from the first page.
func (r *Runner) collect(ctx context.Context, sub *domain.Subscription, tick time.Time) ([]*domain.Event, error) {
	params, err := r.executor.Params(ctx, sub.QueryName, nil)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, fmt.Errorf("decoding query parameters: %w", err)
	}

	from := sub.LastExecutedAt
	if from == nil {
		from = sub.InitialRecordTime
	}
	lower, err := boundOf(fields, "GE_recordTime")
	if err != nil {
		return nil, err
	}
	upper, err := boundOf(fields, "LT_recordTime")
	if err != nil {
		return nil, err
	}

	if from != nil && (lower == nil || from.After(*lower)) {
		lower = from
	}
	if upper == nil || tick.Before(*upper) {
		upper = &tick
	}
	if lower != nil && !lower.Before(*upper) {
		return []*domain.Event{}, nil
	}

	delete(fields, "nextPageToken")
	if err := setBound(fields, "LT_recordTime", *upper); err != nil {
		return nil, err
	}
	if lower != nil {
		if err := setBound(fields, "GE_recordTime", *lower); err != nil {
			return nil, err
		}
	}

	params, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding query parameters: %w", err)
	}
	return r.executor.RunAll(ctx, sub.QueryName, params)
}

// boundOf returns the timestamp stored under key, or nil when it is absent.
func boundOf(fields map[string]json.RawMessage, key string) (*time.Time, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.Invalidf("%s must be a string", key)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, domain.Invalidf("%s must be an RFC 3339 timestamp, got %q", key, s)
	}
	return &t, nil
}

func setBound(fields map[string]json.RawMessage, key string, t time.Time) error {
	raw, err := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}

func (r *Runner) markFailed(ctx context.Context, sub *domain.Subscription, cause error) error {
	r.logger.Warn("subscription moved to error",
		"subscription_id", sub.ID,
		"query_name", sub.QueryName,
		"error", cause,
	)
	if err := r.subs.UpdateStatus(context.WithoutCancel(ctx), sub.ID, domain.SubscriptionError, cause.Error()); err != nil {
		r.logger.Error("failed to update subscription status", "subscription_id", sub.ID, "error", err)
	}
	return cause
}
