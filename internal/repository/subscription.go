package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

const subscriptionColumns = `
	id, user_id, plan_id, billing_period, customer_id, external_id, status,
	current_period_start, current_period_end, last_event_id, last_event_at,
	created_at, updated_at`

// SubscriptionRepository is the Postgres SubscriptionStore.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, classify("failed to find subscription", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, classify("failed to count subscriptions", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify("failed to scan subscription count", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to count subscriptions", err)
	}
	return counts, nil
}

func (r *SubscriptionRepository) PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, classify("failed to prune processed events", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriptionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *SubscriptionRepository) InTx(ctx context.Context, fn func(tx SubscriptionTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&subscriptionTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

type subscriptionTx struct {
	tx pgx.Tx
}

func (t *subscriptionTx) MarkProcessed(ctx context.Context, meta domain.EventMeta) (bool, error) {
	// A concurrent insert of the same id blocks here until the other
	// transaction finishes, then conflicts if it committed.
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, event_at, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, meta.ID, meta.Type, meta.Timestamp)
	if err != nil {
		return false, classify("failed to record processed event", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *subscriptionTx) ResolveUser(ctx context.Context, target domain.Target) (string, error) {
	if target.UserID != "" {
		return target.UserID, nil
	}

	lookups := []struct {
		column string
		value  string
	}{
		{"external_id", target.SubscriptionID},
		{"customer_id", target.CustomerID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var userID string
		err := t.tx.QueryRow(ctx,
			`SELECT user_id FROM subscriptions WHERE `+l.column+` = $1 ORDER BY updated_at DESC LIMIT 1`,
			l.value,
		).Scan(&userID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", classify("failed to resolve subscription owner", err)
		}
	}
	return "", nil
}

func (t *subscriptionTx) LockByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	// The advisory lock also covers users with no row yet, where FOR UPDATE
	// would lock nothing.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, classify("failed to lock subscription", err)
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 FOR UPDATE`
	sub, err := scanSubscription(t.tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, classify("failed to load subscription", err)
	}
	return sub, nil
}

func (t *subscriptionTx) Save(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return domain.StoreInvariant(err.Error())
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id              = EXCLUDED.plan_id,
			billing_period       = EXCLUDED.billing_period,
			customer_id          = EXCLUDED.customer_id,
			external_id          = EXCLUDED.external_id,
			status               = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end   = EXCLUDED.current_period_end,
			last_event_id        = EXCLUDED.last_event_id,
			last_event_at        = EXCLUDED.last_event_at,
			updated_at           = EXCLUDED.updated_at
	`,
		sub.ID, sub.UserID, sub.PlanID, string(sub.BillingPeriod), sub.CustomerID, sub.ExternalID,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.LastEventID,
		sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return classify("failed to save subscription", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var period, status string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &period, &sub.CustomerID, &sub.ExternalID, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.LastEventID, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No subscription
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.BillingPeriod = domain.BillingPeriod(period)
	sub.Status = domain.Status(status)
	return &sub, nil
}
