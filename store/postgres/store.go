// Package postgres implements the Courier store on PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
	"github.com/xraph/courier/subscription"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("courier/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", courier.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) Claim(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	// FOR UPDATE SKIP LOCKED keeps concurrent workers from claiming the same
	// row; the attempt increment commits before the caller sees the row.
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE courier_deliveries
		SET state = 'in_progress',
		    attempt_count = attempt_count + 1,
		    last_attempt_at = NOW(),
		    next_retry_at = NULL,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM courier_deliveries
			WHERE state = 'pending'
			   OR (state = 'pending_retry' AND next_retry_at <= NOW())
			ORDER BY COALESCE(next_retry_at, created_at) ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) Finalize(ctx context.Context, d *delivery.Delivery, att *delivery.Attempt) error {
	// The ledger row lands first. If the settle below is lost to a crash the
	// recovery sweep re-derives the decision from this row.
	if att != nil {
		if _, err := s.pg.NewInsert(toAttemptModel(att)).Exec(ctx); err != nil {
			return err
		}
	}

	_, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("state = ?", string(d.State)).
		Set("next_retry_at = ?", d.NextRetryAt).
		Set("last_error = ?", d.LastError).
		Set("last_status_code = ?", d.LastStatusCode).
		Set("last_response = ?", d.LastResponse).
		Set("completed_at = ?", d.CompletedAt).
		Set("updated_at = ?", now()).
		Where("id = ?", d.ID.String()).
		Where("state = ?", string(delivery.StateInProgress)).
		Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", dlvID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models)

	if opts.State != nil {
		q = q.Where("state = ?", string(*opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return fromDeliveryModels(models)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("subscription_id = ?", subID.String())

	if opts.State != nil {
		q = q.Where("state = ?", string(*opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return fromDeliveryModels(models)
}

func (s *Store) ListAttempts(ctx context.Context, dlvID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("delivery_id = ?", dlvID.String()).
		OrderExpr("number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) CountAttempts(ctx context.Context, dlvID id.ID) (int, error) {
	count, err := s.pg.NewSelect((*attemptModel)(nil)).
		Where("delivery_id = ?", dlvID.String()).
		Count(ctx)
	return int(count), err
}

func (s *Store) ListStuck(ctx context.Context, cutoff time.Time) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("state = ?", string(delivery.StateInProgress)).
		Where("last_attempt_at < ?", cutoff).
		Scan(ctx); err != nil {
		return nil, err
	}

	return fromDeliveryModels(models)
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	count, err := s.pg.NewSelect((*deliveryModel)(nil)).
		Where("state IN (?, ?, ?)",
			string(delivery.StatePending),
			string(delivery.StateInProgress),
			string(delivery.StatePendingRetry)).
		Count(ctx)
	return int(count), err
}

func (s *Store) PurgeAttempts(ctx context.Context, cutoff time.Time) (int, error) {
	var models []attemptModel
	err := s.pg.NewRaw(`
		DELETE FROM courier_attempts
		WHERE delivery_id IN (
			SELECT id FROM courier_deliveries
			WHERE state IN ('completed', 'failed') AND completed_at < $1
		)
		RETURNING *
	`, cutoff).Scan(ctx, &models)
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

// fromDeliveryModels converts a model slice, failing on the first bad row.
func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
