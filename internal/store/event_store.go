package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/query"
)

const eventsTable = "epcis_events"

// scalarColumns and listColumns map predicate fields to epcis_events columns.
var scalarColumns = map[query.Field]string{
	query.FieldType:             "event_type",
	query.FieldAction:           "action",
	query.FieldBizStep:          "biz_step",
	query.FieldDisposition:      "disposition",
	query.FieldReadPoint:        "read_point",
	query.FieldBizLocation:      "biz_location",
	query.FieldTransformationID: "transformation_id",
	query.FieldEventID:          "event_id",
	query.FieldErrorReason:      "error_reason",
}

var listColumns = map[query.Field]string{
	query.FieldEPC:                  "epcs",
	query.FieldParentID:             "parent_ids",
	query.FieldInputEPC:             "input_epcs",
	query.FieldOutputEPC:            "output_epcs",
	query.FieldAnyEPC:               "any_epcs",
	query.FieldEPCClass:             "epc_classes",
	query.FieldInputEPCClass:        "input_epc_classes",
	query.FieldOutputEPCClass:       "output_epc_classes",
	query.FieldAnyEPCClass:          "any_epc_classes",
	query.FieldDeviceID:             "device_ids",
	query.FieldDataProcessingMethod: "data_processing_methods",
}

var timeColumns = map[query.Field]string{
	query.FieldEventTime:            "event_time",
	query.FieldRecordTime:           "record_time",
	query.FieldErrorDeclarationTime: "error_declaration_time",
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.EventID, err)
	}

	var declared any
	var reason *string
	if ev.ErrorDeclaration != nil {
		declared = ev.ErrorDeclaration.DeclarationTime
		reason = nullable(ev.ErrorDeclaration.Reason)
	}

	lists := func(f query.Field) []string {
		v := query.FieldValues(ev, f)
		if v == nil {
			return []string{}
		}
		return v
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO epcis_events (
			event_id, event_type, event_time, record_time, action, biz_step, disposition,
			read_point, biz_location, transformation_id, error_declaration_time, error_reason,
			epcs, parent_ids, input_epcs, output_epcs, any_epcs,
			epc_classes, input_epc_classes, output_epc_classes, any_epc_classes,
			device_ids, data_processing_methods, tenant_id, capture_id, payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26
		)
	`,
		ev.EventID, string(ev.Type), ev.EventTime, ev.RecordTime, nullable(string(ev.Action)),
		nullable(ev.BizStep), nullable(ev.Disposition), nullable(ev.ReadPointID()),
		nullable(ev.BizLocationID()), nullable(ev.TransformationID()), declared, reason,
		lists(query.FieldEPC), lists(query.FieldParentID), lists(query.FieldInputEPC),
		lists(query.FieldOutputEPC), lists(query.FieldAnyEPC),
		lists(query.FieldEPCClass), lists(query.FieldInputEPCClass),
		lists(query.FieldOutputEPCClass), lists(query.FieldAnyEPCClass),
		lists(query.FieldDeviceID), lists(query.FieldDataProcessingMethod),
		ev.TenantID, ev.CaptureID, payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting event %s: %w", ev.EventID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteByCaptureID(ctx context.Context, captureID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM epcis_events WHERE capture_id = $1`, captureID)
	if err != nil {
		return 0, fmt.Errorf("deleting events of capture %s: %w", captureID, err)
	}
	return tag.RowsAffected(), nil
}

// QueryEvents runs spec and reports whether more rows follow the page.
func (s *PostgresStore) QueryEvents(ctx context.Context, spec *query.Spec) ([]*domain.Event, bool, error) {
	if spec.MatchesNothing {
		return []*domain.Event{}, false, nil
	}

	sql, args, err := buildEventSelect(spec)
	if err != nil {
		return nil, false, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []*domain.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, false, fmt.Errorf("scanning event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, false, fmt.Errorf("decoding event payload: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating events: %w", err)
	}

	more := len(events) > spec.Page.Size
	if more {
		events = events[:spec.Page.Size]
	}
	return events, more, nil
}

// buildEventSelect translates spec into a parameterised SELECT that fetches
// one row past the page so the caller can tell whether another page exists.
func buildEventSelect(spec *query.Spec) (string, []any, error) {
	where := make([]exp.Expression, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		expr, err := nodeExpression(n)
		if err != nil {
			return "", nil, err
		}
		where = append(where, expr)
	}

	orderCol, ok := timeColumns[spec.Order.Key]
	if !ok {
		return "", nil, fmt.Errorf("unsupported order key %q", spec.Order.Key)
	}
	order := goqu.I(orderCol).Desc()
	if spec.Order.Direction == query.Asc {
		order = goqu.I(orderCol).Asc()
	}

	stmt := dialect.From(eventsTable).
		Prepared(true).
		Select("payload").
		Where(where...).
		Order(order, goqu.I("event_id").Asc(), goqu.I("id").Asc()).
		Offset(uint(spec.Page.Offset)).
		Limit(uint(spec.Page.Size + 1))

	sql, args, err := stmt.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("building event query: %w", err)
	}
	return sql, args, nil
}

func nodeExpression(n query.Node) (exp.Expression, error) {
	switch n.Op {
	case query.OpGE, query.OpLT:
		col, ok := timeColumns[n.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported range field %q", n.Field)
		}
		if n.Op == query.OpGE {
			return goqu.C(col).Gte(n.Time), nil
		}
		return goqu.C(col).Lt(n.Time), nil

	case query.OpEqSet:
		col, ok := scalarColumns[n.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported equality field %q", n.Field)
		}
		if len(n.Values) == 0 {
			return goqu.L("FALSE"), nil
		}
		return goqu.C(col).In(n.Values), nil

	case query.OpMatchAny:
		col, ok := listColumns[n.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported containment field %q", n.Field)
		}
		if len(n.Values) == 0 {
			return goqu.L("FALSE"), nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(n.Values)), ",")
		args := make([]any, 0, len(n.Values)+1)
		args = append(args, goqu.I(col))
		for _, v := range n.Values {
			args = append(args, v)
		}
		return goqu.L("? && ARRAY["+placeholders+"]::text[]", args...), nil

	case query.OpExists:
		if n.Exists {
			return goqu.C("error_declaration_time").IsNotNull(), nil
		}
		return goqu.C("error_declaration_time").IsNull(), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Op)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
