package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	pg.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoreConfig tunes Upsert conflict handling. UpsertMaxRetries counts
// retries after the first attempt; zero keeps pg.DefaultRetryPolicy.
type StoreConfig struct {
	UpsertMaxRetries int           `env:"UPSERT_MAX_RETRIES" envDefault:"3"`
	UpsertBackoff    time.Duration `env:"UPSERT_RETRY_BACKOFF" envDefault:"20ms"`
}

// PostgresStore implements subscription.Store and subscription.PlanCatalog.
type PostgresStore struct {
	db    DB
	retry pg.RetryPolicy
}

func NewPostgresStore(db DB, cfg StoreConfig) *PostgresStore {
	policy := pg.DefaultRetryPolicy
	if cfg.UpsertMaxRetries > 0 {
		policy.MaxAttempts = cfg.UpsertMaxRetries + 1
	}
	if cfg.UpsertBackoff > 0 {
		policy.Backoff = cfg.UpsertBackoff
	}
	return &PostgresStore{db: db, retry: policy}
}

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id, plan_id, status,
	current_period_start, current_period_end, cancel_at_period_end, cancel_at,
	trial_start, trial_end, scheduled_change_type, scheduled_change_date, scheduled_plan_id,
	canceled_at, ended_at, last_metadata_sync, created_at, updated_at`

func (s *PostgresStore) FindByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return s.findOne(ctx, `WHERE user_id = $1`, userID)
}

func (s *PostgresStore) FindByCustomerID(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	if customerID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.findOne(ctx, `WHERE stripe_customer_id = $1`, customerID)
}

func (s *PostgresStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*subscription.Subscription, error) {
	if subscriptionID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.findOne(ctx, `WHERE stripe_subscription_id = $1`, subscriptionID)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*subscription.Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM customer_subscriptions `+where, arg)
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return sub, nil
}

// Upsert locks the user's row, computes the next state with fn and writes it
// back in the same transaction. When no row exists yet a plain INSERT is
// used, so a concurrent first write fails on the unique user_id and the
// whole transaction is replayed against the committed row.
func (s *PostgresStore) Upsert(ctx context.Context, userID string, fn subscription.MutateFunc) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrValidation
	}

	var out *subscription.Subscription
	err := pg.WithTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		current, err := scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM customer_subscriptions WHERE user_id = $1 FOR UPDATE`, userID))
		switch {
		case pg.IsNotFoundError(err):
			current = nil
		case err != nil:
			return fmt.Errorf("lock subscription: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		next.UserID = userID

		if current == nil {
			out, err = scanSubscription(tx.QueryRow(ctx, insertSubscriptionSQL, writeArgs(next)...))
		} else {
			out, err = scanSubscription(tx.QueryRow(ctx, updateSubscriptionSQL, writeArgs(next)...))
		}
		if err != nil {
			return fmt.Errorf("write subscription: %w", err)
		}
		return nil
	})
	if errors.Is(err, pg.ErrRetriesExhausted) {
		return nil, errors.Join(subscription.ErrStoreConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

const insertSubscriptionSQL = `INSERT INTO customer_subscriptions (
	user_id, stripe_customer_id, stripe_subscription_id, plan_id, status,
	current_period_start, current_period_end, cancel_at_period_end, cancel_at,
	trial_start, trial_end, scheduled_change_type, scheduled_change_date, scheduled_plan_id,
	canceled_at, ended_at, last_metadata_sync, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING ` + subscriptionColumns

const updateSubscriptionSQL = `UPDATE customer_subscriptions SET
	stripe_customer_id = $2,
	stripe_subscription_id = $3,
	plan_id = $4,
	status = $5,
	current_period_start = $6,
	current_period_end = $7,
	cancel_at_period_end = $8,
	cancel_at = $9,
	trial_start = $10,
	trial_end = $11,
	scheduled_change_type = $12,
	scheduled_change_date = $13,
	scheduled_plan_id = $14,
	canceled_at = $15,
	ended_at = $16,
	last_metadata_sync = $17,
	updated_at = $19
WHERE user_id = $1
RETURNING ` + subscriptionColumns

func writeArgs(s *subscription.Subscription) []any {
	var changeType *string
	if s.ScheduledChangeType != nil {
		v := string(*s.ScheduledChangeType)
		changeType = &v
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.UpdatedAt
	}
	return []any{
		s.UserID,
		s.ExternalCustomerID,
		s.ExternalSubscriptionID,
		s.PlanID,
		string(s.Status),
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.CancelAt,
		s.TrialStart,
		s.TrialEnd,
		changeType,
		s.ScheduledChangeDate,
		s.ScheduledPlanID,
		s.CanceledAt,
		s.EndedAt,
		s.LastMetadataSync,
		createdAt,
		s.UpdatedAt,
	}
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		s          subscription.Subscription
		status     string
		changeType *string
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ExternalCustomerID,
		&s.ExternalSubscriptionID,
		&s.PlanID,
		&status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CancelAt,
		&s.TrialStart,
		&s.TrialEnd,
		&changeType,
		&s.ScheduledChangeDate,
		&s.ScheduledPlanID,
		&s.CanceledAt,
		&s.EndedAt,
		&s.LastMetadataSync,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = subscription.Status(status)
	if changeType != nil {
		ct := subscription.ScheduledChangeType(*changeType)
		s.ScheduledChangeType = &ct
	}
	return &s, nil
}

func (s *PostgresStore) MarkMetadataSynced(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE customer_subscriptions SET last_metadata_sync = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("mark metadata synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

const planColumns = `id, name, description, price::text, features, stripe_price_id, stripe_product_id, billing_interval, is_active`

func (s *PostgresStore) ListPlans(ctx context.Context) ([]subscription.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE is_active ORDER BY price, id`)
	if err != nil {
		return nil, fmt.Errorf("select plans: %w", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscription.Plan, error) {
		p, err := scanPlan(row)
		if err != nil {
			return subscription.Plan{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan plans: %w", err)
	}
	return plans, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, id int64) (*subscription.Plan, error) {
	return s.findPlan(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetPlanByPriceID(ctx context.Context, priceID string) (*subscription.Plan, error) {
	if priceID == "" {
		return nil, subscription.ErrPlanNotFound
	}
	return s.findPlan(ctx, `WHERE stripe_price_id = $1`, priceID)
}

func (s *PostgresStore) findPlan(ctx context.Context, where string, arg any) (*subscription.Plan, error) {
	p, err := scanPlan(s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans `+where, arg))
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select plan: %w", err)
	}
	return p, nil
}

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var (
		p                  subscription.Plan
		price              string
		priceID, productID *string
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&price,
		&p.Features,
		&priceID,
		&productID,
		&p.BillingInterval,
		&p.IsActive,
	); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse plan %d price: %w", p.ID, err)
	}
	p.Price = amount
	if priceID != nil {
		p.ExternalPriceID = *priceID
	}
	if productID != nil {
		p.ExternalProductID = *productID
	}
	if p.Features == nil {
		p.Features = []string{}
	}
	return &p, nil
}

var (
	_ subscription.Store       = (*PostgresStore)(nil)
	_ subscription.PlanCatalog = (*PostgresStore)(nil)
)
