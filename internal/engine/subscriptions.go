package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

// schedulePattern accepts five whitespace separated fields; only the first
// may use lists or steps.
var schedulePattern = regexp.MustCompile(`^((\d+,)*\d+|(\d+|\*)/\d+|\*|\d+)\s+(\d+|\*)\s+(\d+|\*)\s+(\d+|\*)\s+(\d+|\*)$`)

var queryNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// SubscriptionManager owns named queries and their subscriptions.
type SubscriptionManager struct {
	queries  QueryStore
	subs     SubscriptionStore
	executor *QueryExecutor
	logger   *slog.Logger
}

func NewSubscriptionManager(queries QueryStore, subs SubscriptionStore, executor *QueryExecutor, logger *slog.Logger) *SubscriptionManager {
	return &SubscriptionManager{queries: queries, subs: subs, executor: executor, logger: logger}
}

// RegisterQuery stores a new named query after checking that its
// parameters compile.
func (m *SubscriptionManager) RegisterQuery(ctx context.Context, def *domain.QueryDefinition) error {
	if err := m.checkQuery(def); err != nil {
		return err
	}
	if err := m.queries.CreateQuery(ctx, def); err != nil {
		return fmt.Errorf("registering query: %w", err)
	}
	m.logger.Info("named query registered", "query_name", def.Name)
	return nil
}

// ReplaceQuery swaps the parameters of an existing named query.
func (m *SubscriptionManager) ReplaceQuery(ctx context.Context, def *domain.QueryDefinition) error {
	if err := m.checkQuery(def); err != nil {
		return err
	}
	if err := m.queries.ReplaceQuery(ctx, def); err != nil {
		return fmt.Errorf("replacing query: %w", err)
	}
	m.logger.Info("named query replaced", "query_name", def.Name)
	return nil
}

func (m *SubscriptionManager) GetQuery(ctx context.Context, name string) (*domain.QueryDefinition, error) {
	def, err := m.queries.GetQuery(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading query: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("query %s: %w", name, domain.ErrNoSuchName)
	}
	return def, nil
}

func (m *SubscriptionManager) ListQueries(ctx context.Context) ([]domain.QueryDefinition, error) {
	queries, err := m.queries.ListQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return queries, nil
}

// DeleteQuery removes a named query together with its subscriptions.
func (m *SubscriptionManager) DeleteQuery(ctx context.Context, name string) error {
	if err := m.queries.DeleteQuery(ctx, name); err != nil {
		return fmt.Errorf("deleting query: %w", err)
	}
	m.logger.Info("named query deleted", "query_name", name)
	return nil
}

func (m *SubscriptionManager) checkQuery(def *domain.QueryDefinition) error {
	if !queryNamePattern.MatchString(def.Name) {
		return domain.Invalidf("query name must be 1-128 letters, digits, '.', '_' or '-', got %q", def.Name)
	}
	if len(def.Query) == 0 {
		def.Query = json.RawMessage(`{}`)
	}
	if _, err := m.executor.Compile(def.Query); err != nil {
		return err
	}
	return nil
}

// Subscribe validates req and creates a subscription on the named query.
func (m *SubscriptionManager) Subscribe(ctx context.Context, queryName string, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if _, err := m.GetQuery(ctx, queryName); err != nil {
		return nil, err
	}

	sub, err := newSubscription(queryName, req)
	if err != nil {
		return nil, err
	}
	if err := m.subs.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	m.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"query_name", queryName,
		"stream", sub.Stream,
		"schedule", sub.Schedule,
	)
	return sub, nil
}

func newSubscription(queryName string, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	var errs multierror.Error
	errs.ErrorFormat = joinReasons

	schedule := strings.TrimSpace(req.Schedule)
	switch {
	case req.Stream && schedule != "":
		errs.Errors = append(errs.Errors, fmt.Errorf("schedule and stream are mutually exclusive"))
	case !req.Stream && schedule == "":
		errs.Errors = append(errs.Errors, fmt.Errorf("one of schedule or stream=true is required"))
	case schedule != "" && !schedulePattern.MatchString(schedule):
		errs.Errors = append(errs.Errors, fmt.Errorf("schedule %q is not a valid five-field schedule", schedule))
	}

	if !req.Stream || req.Destination != "" {
		if err := checkDestination(req.Destination); err != nil {
			errs.Errors = append(errs.Errors, err)
		}
	}

	var initial *time.Time
	if req.InitialRecordTime != nil {
		t, err := time.Parse(time.RFC3339Nano, *req.InitialRecordTime)
		if err != nil {
			errs.Errors = append(errs.Errors, fmt.Errorf("initialRecordTime must be an RFC 3339 timestamp, got %q", *req.InitialRecordTime))
		} else {
			t = t.UTC()
			initial = &t
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, domain.Invalidf("invalid subscription: %s", err.Error())
	}

	return &domain.Subscription{
		ID:                uuid.NewString(),
		QueryName:         queryName,
		Destination:       req.Destination,
		Schedule:          schedule,
		SignatureToken:    req.SignatureToken,
		ReportIfEmpty:     req.ReportIfEmpty,
		Stream:            req.Stream,
		InitialRecordTime: initial,
		Status:            domain.SubscriptionActive,
	}, nil
}

func checkDestination(dest string) error {
	if dest == "" {
		return fmt.Errorf("destination is required")
	}
	u, err := url.Parse(dest)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("destination must be an absolute http or https URL, got %q", dest)
	}
	return nil
}

func (m *SubscriptionManager) GetSubscription(ctx context.Context, queryName, id string) (*domain.Subscription, error) {
	sub, err := m.subs.GetSubscription(ctx, queryName, id)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	return sub, nil
}

func (m *SubscriptionManager) ListSubscriptions(ctx context.Context, queryName string) ([]domain.Subscription, error) {
	if _, err := m.GetQuery(ctx, queryName); err != nil {
		return nil, err
	}
	subs, err := m.subs.ListSubscriptions(ctx, queryName)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return subs, nil
}

func (m *SubscriptionManager) Unsubscribe(ctx context.Context, queryName, id string) error {
	if err := m.subs.DeleteSubscription(ctx, queryName, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	m.logger.Info("subscription deleted", "subscription_id", id, "query_name", queryName)
	return nil
}

// UpdateStatus applies an explicit status change. Moving a subscription back
// to active clears its error message.
func (m *SubscriptionManager) UpdateStatus(ctx context.Context, queryName, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	if req.Status == nil {
		return nil, domain.Invalidf("status is required")
	}
	status := *req.Status
	if !status.Valid() {
		return nil, domain.Invalidf("status must be active, paused or error, got %q", status)
	}

	sub, err := m.GetSubscription(ctx, queryName, id)
	if err != nil {
		return nil, err
	}

	message := sub.ErrorMessage
	if status != domain.SubscriptionError {
		message = ""
	}
	if err := m.subs.UpdateStatus(ctx, id, status, message); err != nil {
		return nil, fmt.Errorf("updating subscription status: %w", err)
	}

	m.logger.Info("subscription status changed",
		"subscription_id", id,
		"from", sub.Status,
		"to", status,
	)
	sub.Status = status
	sub.ErrorMessage = message
	return sub, nil
}

// Events runs the subscription's query merged with client overrides.
func (m *SubscriptionManager) Events(ctx context.Context, sub *domain.Subscription, overrides json.RawMessage) (*QueryResult, error) {
	return m.executor.Execute(ctx, sub.QueryName, overrides)
}

func joinReasons(errs []error) string {
	reasons := make([]string, len(errs))
	for i, err := range errs {
		reasons[i] = err.Error()
	}
	return strings.Join(reasons, "; ")
}
