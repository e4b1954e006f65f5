package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/metrics"
	"github.com/Priya8975/epcis-repository/internal/query"
)

// ErrQueryExecution wraps store failures while running a query.
var ErrQueryExecution = errors.New("query execution failed")

// maxScanPages bounds RunAll so a runaway subscription cannot page forever.
const maxScanPages = 10000

type QueryResult struct {
	QueryName     string
	Events        []*domain.Event
	NextPageToken string
}

// QueryExecutor resolves named queries, compiles them and runs them against
// the event store.
type QueryExecutor struct {
	queries QueryStore
	events  EventStore
	limits  query.Limits
	logger  *slog.Logger
}

func NewQueryExecutor(queries QueryStore, events EventStore, limits query.Limits, logger *slog.Logger) *QueryExecutor {
	return &QueryExecutor{queries: queries, events: events, limits: limits, logger: logger}
}

func (x *QueryExecutor) Limits() query.Limits {
	return x.limits
}

// Params returns the stored parameters of the named query overlaid with
// overrides.
func (x *QueryExecutor) Params(ctx context.Context, name string, overrides json.RawMessage) (json.RawMessage, error) {
	def, err := x.queries.GetQuery(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading query %s: %w", name, err)
	}
	if def == nil {
		return nil, fmt.Errorf("query %s: %w", name, domain.ErrNoSuchName)
	}
	return query.Merge(def.Query, overrides)
}

// Execute runs one page of the named query.
func (x *QueryExecutor) Execute(ctx context.Context, name string, overrides json.RawMessage) (*QueryResult, error) {
	params, err := x.Params(ctx, name, overrides)
	if err != nil {
		return nil, err
	}
	return x.Run(ctx, name, params)
}

// Compile decodes and compiles params with the executor's limits.
func (x *QueryExecutor) Compile(params json.RawMessage) (*query.Spec, error) {
	p, err := query.Decode(params)
	if err != nil {
		return nil, err
	}
	return query.Compile(p, x.limits)
}

// Run executes params as one page.
func (x *QueryExecutor) Run(ctx context.Context, name string, params json.RawMessage) (*QueryResult, error) {
	spec, err := x.Compile(params)
	if err != nil {
		metrics.QueriesExecuted.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return x.RunSpec(ctx, name, spec)
}

func (x *QueryExecutor) RunSpec(ctx context.Context, name string, spec *query.Spec) (*QueryResult, error) {
	result := &QueryResult{QueryName: name, Events: []*domain.Event{}}
	if spec.MatchesNothing {
		metrics.QueriesExecuted.WithLabelValues("empty").Inc()
		return result, nil
	}

	events, more, err := x.events.QueryEvents(ctx, spec)
	if err != nil {
		metrics.QueriesExecuted.WithLabelValues("failed").Inc()
		x.logger.Error("query execution failed", "query_name", name, "predicates", spec.String(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
	}
	metrics.QueriesExecuted.WithLabelValues("ok").Inc()

	result.Events = events
	if more {
		result.NextPageToken = query.NextPageToken(spec.Page)
	}
	return result, nil
}

// RunAll follows every page of params and returns all matching events.
func (x *QueryExecutor) RunAll(ctx context.Context, name string, params json.RawMessage) ([]*domain.Event, error) {
	spec, err := x.Compile(params)
	if err != nil {
		return nil, err
	}

	all := []*domain.Event{}
	for range maxScanPages {
		res, err := x.RunSpec(ctx, name, spec)
		if err != nil {
			return nil, err
		}
		all = append(all, res.Events...)
		if res.NextPageToken == "" {
			return all, nil
		}
		spec.Page.Offset += spec.Page.Size
	}
	return nil, fmt.Errorf("%w: more than %d pages", query.ErrTooComplex, maxScanPages)
}
