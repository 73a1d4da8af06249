package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// UsageRepository is the Postgres UsageStore.
type UsageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Reserve(ctx context.Context, key domain.CounterKey, limit int64) (int64, bool, error) {
	if limit <= 0 {
		n, err := r.Count(ctx, key)
		return n, false, err
	}

	// The conflict branch takes the row lock and re-checks the WHERE against
	// the latest committed count, so concurrent callers cannot both pass it
	// for the last slot. A negative count matches no branch and is returned
	// as read.
	var count int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO usage_counters (user_id, metric, period_key, count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, metric, period_key) DO UPDATE
		SET count = usage_counters.count + 1, updated_at = NOW()
		WHERE usage_counters.count < $4 AND usage_counters.count >= 0
		RETURNING count
	`, key.UserID, key.Metric, string(key.Period), limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, classify("failed to reserve usage", err)
	}

	current, err := r.Count(ctx, key)
	return current, false, err
}

func (r *UsageRepository) Release(ctx context.Context, key domain.CounterKey) (int64, bool, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		UPDATE usage_counters SET count = count - 1, updated_at = NOW()
		WHERE user_id = $1 AND metric = $2 AND period_key = $3 AND count > 0
		RETURNING count
	`, key.UserID, key.Metric, string(key.Period)).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, classify("failed to release usage", err)
	}
	return count, true, nil
}

func (r *UsageRepository) Count(ctx context.Context, key domain.CounterKey) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT count FROM usage_counters
		WHERE user_id = $1 AND metric = $2 AND period_key = $3
	`, key.UserID, key.Metric, string(key.Period)).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, classify("failed to read usage", err)
	}
	return count, nil
}

func (r *UsageRepository) ListByUser(ctx context.Context, userID string) ([]domain.UsageCounter, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, metric, period_key, count, updated_at
		FROM usage_counters WHERE user_id = $1
		ORDER BY updated_at DESC, metric
	`, userID)
	if err != nil {
		return nil, classify("failed to list usage", err)
	}
	defer rows.Close()

	var counters []domain.UsageCounter
	for rows.Next() {
		var c domain.UsageCounter
		var period string
		if err := rows.Scan(&c.UserID, &c.Metric, &period, &c.Count, &c.UpdatedAt); err != nil {
			return nil, classify("failed to scan usage", err)
		}
		c.Period = domain.PeriodKey(period)
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to list usage", err)
	}
	return counters, nil
}

func (r *UsageRepository) OpenPeriod(ctx context.Context, userID string, period domain.PeriodKey) (int, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO usage_counters (user_id, metric, period_key, count, updated_at)
		SELECT prev.user_id, prev.metric, $2, 0, NOW()
		FROM usage_counters prev
		WHERE prev.user_id = $1
		  AND NOT EXISTS (SELECT 1 FROM usage_counters cur WHERE cur.user_id = $1 AND cur.period_key = $2)
		  AND prev.period_key = (
			SELECT period_key FROM usage_counters
			WHERE user_id = $1 AND period_key <> $2
			ORDER BY updated_at DESC LIMIT 1
		  )
		ON CONFLICT (user_id, metric, period_key) DO NOTHING
	`, userID, string(period))
	if err != nil {
		return 0, classify("failed to open usage period", err)
	}
	return int(tag.RowsAffected()), nil
}
