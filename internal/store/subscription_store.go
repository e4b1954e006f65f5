package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

const foreignKeyViolation = "23503"

var subscriptionColumns = []any{
	"id", "query_name", "destination", "schedule", "signature_token", "report_if_empty",
	"stream", "initial_record_time", "created_at", "last_executed_at", "status", "error_message",
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO epcis_subscriptions (
			id, query_name, destination, schedule, signature_token, report_if_empty,
			stream, initial_record_time, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, sub.ID, sub.QueryName, sub.Destination, sub.Schedule, sub.SignatureToken,
		sub.ReportIfEmpty, sub.Stream, sub.InitialRecordTime, string(sub.Status),
	).Scan(&sub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("query %s: %w", sub.QueryName, domain.ErrNoSuchName)
		}
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, queryName, id string) (*domain.Subscription, error) {
	subs, err := s.selectSubscriptions(ctx, goqu.Ex{"query_name": queryName, "id": id})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, queryName string) ([]domain.Subscription, error) {
	return s.selectSubscriptions(ctx, goqu.Ex{"query_name": queryName})
}

// ListDueSubscriptions returns active scheduled subscriptions that have never
// run, or that are recurring and last ran before cutoff.
func (s *PostgresStore) ListDueSubscriptions(ctx context.Context, cutoff time.Time) ([]domain.Subscription, error) {
	return s.selectSubscriptions(ctx,
		goqu.C("status").Eq(string(domain.SubscriptionActive)),
		goqu.C("stream").IsFalse(),
		goqu.C("schedule").Neq(""),
		goqu.Or(
			goqu.C("last_executed_at").IsNull(),
			goqu.And(
				goqu.C("last_executed_at").Lt(cutoff),
				goqu.C("schedule").Like("%*%"),
			),
		),
	)
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, queryName, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM epcis_subscriptions WHERE query_name = $1 AND id = $2
	`, queryName, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	return nil
}

func (s *PostgresStore) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE epcis_subscriptions SET last_executed_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("marking subscription executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE epcis_subscriptions SET status = $2, error_message = $3 WHERE id = $1
	`, id, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("updating subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	return nil
}

func (s *PostgresStore) selectSubscriptions(ctx context.Context, where ...goqu.Expression) ([]domain.Subscription, error) {
	sql, args, err := dialect.From("epcis_subscriptions").
		Prepared(true).
		Select(subscriptionColumns...).
		Where(where...).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building subscription query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		var sub domain.Subscription
		var status string
		err := rows.Scan(
			&sub.ID, &sub.QueryName, &sub.Destination, &sub.Schedule, &sub.SignatureToken,
			&sub.ReportIfEmpty, &sub.Stream, &sub.InitialRecordTime, &sub.CreatedAt,
			&sub.LastExecutedAt, &status, &sub.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.Status = domain.SubscriptionStatus(status)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}
