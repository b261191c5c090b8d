package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExchangeRateStore is append-only. The current rate is the row with the latest date;
// rows sharing a date are ordered by id, so the last inserted one wins.
type ExchangeRateStore struct {
	pool *pgxpool.Pool
}

func NewExchangeRateStore(pool *pgxpool.Pool) *ExchangeRateStore {
	return &ExchangeRateStore{pool: pool}
}

func (s *ExchangeRateStore) Add(ctx context.Context, input ExchangeRateInput) (*ExchangeRate, error) {
	input = input.Normalize()
	if err := Validate(input); err != nil {
		return nil, err
	}
	r := &ExchangeRate{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO exchange_rates (rate_date, rate) VALUES ($1, $2)
		RETURNING id, rate_date, rate, created_at`,
		input.Date, input.Rate,
	).Scan(&r.ID, &r.Date, &r.Rate, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return r, nil
}

// Latest returns the effective rate, or ErrMissingExchangeRate when none was ever saved.
func (s *ExchangeRateStore) Latest(ctx context.Context) (*ExchangeRate, error) {
	r, err := s.latest(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrMissingExchangeRate
	}
	return r, nil
}

// LatestTx reads the effective rate inside tx. It returns nil, nil when there is none.
func (s *ExchangeRateStore) LatestTx(ctx context.Context, tx pgx.Tx) (*ExchangeRate, error) {
	return s.latest(ctx, tx)
}

func (s *ExchangeRateStore) latest(ctx context.Context, q dbtx) (*ExchangeRate, error) {
	r := &ExchangeRate{}
	err := q.QueryRow(ctx, `
		SELECT id, rate_date, rate, created_at FROM exchange_rates
		ORDER BY rate_date DESC, id DESC LIMIT 1`,
	).Scan(&r.ID, &r.Date, &r.Rate, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest exchange rate: %w", err)
	}
	return r, nil
}

// List returns the most recent rates, newest first.
func (s *ExchangeRateStore) List(ctx context.Context, limit int) ([]ExchangeRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rate_date, rate, created_at FROM exchange_rates
		ORDER BY rate_date DESC, id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	defer rows.Close()

	var out []ExchangeRate
	for rows.Next() {
		var r ExchangeRate
		if err := rows.Scan(&r.ID, &r.Date, &r.Rate, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
