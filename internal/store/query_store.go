package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

const uniqueViolation = "23505"

func (s *PostgresStore) CreateQuery(ctx context.Context, q *domain.QueryDefinition) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO epcis_queries (name, query)
		VALUES ($1, $2)
		RETURNING created_at
	`, q.Name, queryJSON(q)).Scan(&q.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("query %s: %w", q.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting query: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuery(ctx context.Context, name string) (*domain.QueryDefinition, error) {
	var q domain.QueryDefinition
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT name, query, created_at FROM epcis_queries WHERE name = $1
	`, name).Scan(&q.Name, &raw, &q.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying named query: %w", err)
	}
	q.Query = raw
	return &q, nil
}

func (s *PostgresStore) ListQueries(ctx context.Context) ([]domain.QueryDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, query, created_at FROM epcis_queries ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying named queries: %w", err)
	}
	defer rows.Close()

	queries := []domain.QueryDefinition{}
	for rows.Next() {
		var q domain.QueryDefinition
		var raw []byte
		if err := rows.Scan(&q.Name, &raw, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning named query: %w", err)
		}
		q.Query = raw
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *PostgresStore) ReplaceQuery(ctx context.Context, q *domain.QueryDefinition) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE epcis_queries SET query = $2 WHERE name = $1
		RETURNING created_at
	`, q.Name, queryJSON(q)).Scan(&q.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("query %s: %w", q.Name, domain.ErrNoSuchName)
		}
		return fmt.Errorf("replacing query: %w", err)
	}
	return nil
}

// DeleteQuery removes the named query and, by cascade, its subscriptions.
func (s *PostgresStore) DeleteQuery(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM epcis_queries WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query %s: %w", name, domain.ErrNoSuchName)
	}
	return nil
}

func queryJSON(q *domain.QueryDefinition) []byte {
	if len(q.Query) == 0 {
		return []byte("{}")
	}
	return q.Query
}
