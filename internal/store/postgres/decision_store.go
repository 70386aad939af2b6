package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

var decisionColumns = []string{
	"plan_id", "exchange", "quote_ccy", "legs",
	"expected_profit_quote", "live_profit_quote",
	"accepted", "reason", "created_at", "decided_at", "latency_us",
}

func decisionRow(rec domain.DecisionRecord) ([]any, error) {
	legs, err := json.Marshal(rec.Legs)
	if err != nil {
		return nil, fmt.Errorf("encode legs of %s: %w", rec.PlanID, err)
	}
	return []any{
		rec.PlanID, rec.Exchange, rec.QuoteCcy, legs,
		rec.ExpectedProfitQuote, rec.LiveProfitQuote,
		rec.Accepted, rec.Reason, rec.CreatedAt, rec.DecidedAt, rec.Latency.Microseconds(),
	}, nil
}

// InsertBatch copies records into plan_decisions in one round trip.
func (s *DecisionStore) InsertBatch(ctx context.Context, records []domain.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row, err := decisionRow(rec)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		rows = append(rows, row)
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"plan_decisions"}, decisionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: insert %d decisions: %w", len(records), err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("postgres: insert decisions: copied %d of %d rows", n, len(records))
	}
	return nil
}

// ListRecent returns the newest decisions first.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT plan_id, exchange, quote_ccy, legs,
		       expected_profit_quote, live_profit_quote,
		       accepted, reason, created_at, decided_at, latency_us
		FROM plan_decisions
		ORDER BY decided_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DecisionRecord, error) {
		var (
			rec       domain.DecisionRecord
			legs      []byte
			latencyUs int64
		)
		if err := row.Scan(
			&rec.PlanID, &rec.Exchange, &rec.QuoteCcy, &legs,
			&rec.ExpectedProfitQuote, &rec.LiveProfitQuote,
			&rec.Accepted, &rec.Reason, &rec.CreatedAt, &rec.DecidedAt, &latencyUs,
		); err != nil {
			return rec, err
		}
		rec.Latency = time.Duration(latencyUs) * time.Microsecond
		if err := json.Unmarshal(legs, &rec.Legs); err != nil {
			return rec, fmt.Errorf("decode legs of %s: %w", rec.PlanID, err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return records, nil
}

// CountByReason groups decisions made at or after since by reason.
func (s *DecisionStore) CountByReason(ctx context.Context, since time.Time) (map[string]int64, error) {
	const query = `
		SELECT reason, COUNT(*)
		FROM plan_decisions
		WHERE decided_at >= $1
		GROUP BY reason`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			reason string
			n      int64
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan decision count: %w", err)
		}
		out[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count decisions rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
