package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/asset"
	"estateflow/fault"
)

// Repository defines the data access the lifecycle manager requires.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, ref asset.Ref) (Subscription, error)
	Update(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error)
	Get(ctx context.Context, ref asset.Ref) (Subscription, error)
	// LockExpiredBatch locks up to limit rows that are expired at now, not
	// under administrator override, and still visible. Locked rows are
	// skipped so concurrent sweeps and renewals interleave safely.
	LockExpiredBatch(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Subscription, error)
	MarkInvisible(ctx context.Context, tx pgx.Tx, refs []asset.Ref) error
	ListExpiringWithin(ctx context.Context, now time.Time, horizon time.Duration, page, pageSize int) ([]Subscription, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const subColumns = `asset_kind, asset_id, expiration_date, visible, admin_override,
	last_payment_amount, last_payment_method, last_payment_reference, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error) {
	query := fmt.Sprintf(`
        INSERT INTO subscriptions (asset_kind, asset_id, expiration_date, visible, admin_override,
            last_payment_amount, last_payment_method, last_payment_reference)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING %s
    `, subColumns)

	created, err := scanSubscription(tx.QueryRow(ctx, query,
		sub.Asset.Kind,
		sub.Asset.ID,
		sub.ExpirationDate,
		sub.Visible,
		sub.AdminOverride,
		sub.LastPaymentAmount,
		sub.LastPaymentMethod,
		sub.LastPaymentReference,
	))
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, ref asset.Ref) (Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE asset_kind = $1 AND asset_id = $2 FOR UPDATE`, subColumns)

	sub, err := scanSubscription(tx.QueryRow(ctx, query, ref.Kind, ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, fmt.Errorf("subscription: asset %s: %w", ref, fault.ErrNotFound)
		}
		return Subscription{}, fmt.Errorf("subscription: get for update: %w", err)
	}
	return sub, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error) {
	query := fmt.Sprintf(`
        UPDATE subscriptions
        SET expiration_date = $3,
            visible = $4,
            admin_override = $5,
            last_payment_amount = $6,
            last_payment_method = $7,
            last_payment_reference = $8,
            updated_at = get_tx_timestamp()
        WHERE asset_kind = $1 AND asset_id = $2
        RETURNING %s
    `, subColumns)

	updated, err := scanSubscription(tx.QueryRow(ctx, query,
		sub.Asset.Kind,
		sub.Asset.ID,
		sub.ExpirationDate,
		sub.Visible,
		sub.AdminOverride,
		sub.LastPaymentAmount,
		sub.LastPaymentMethod,
		sub.LastPaymentReference,
	))
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) Get(ctx context.Context, ref asset.Ref) (Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE asset_kind = $1 AND asset_id = $2`, subColumns)

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, ref.Kind, ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, fmt.Errorf("subscription: asset %s: %w", ref, fault.ErrNotFound)
		}
		return Subscription{}, fmt.Errorf("subscription: get: %w", err)
	}
	return sub, nil
}

func (r *PGRepository) LockExpiredBatch(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Subscription, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM subscriptions
        WHERE expiration_date <= $1 AND NOT admin_override AND visible
        ORDER BY expiration_date ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED
    `, subColumns)

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription: lock expired batch: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *PGRepository) MarkInvisible(ctx context.Context, tx pgx.Tx, refs []asset.Ref) error {
	for _, ref := range refs {
		if _, err := tx.Exec(ctx, `
            UPDATE subscriptions
            SET visible = FALSE, updated_at = get_tx_timestamp()
            WHERE asset_kind = $1 AND asset_id = $2
        `, ref.Kind, ref.ID); err != nil {
			return fmt.Errorf("subscription: mark invisible %s: %w", ref, err)
		}
	}
	return nil
}

func (r *PGRepository) ListExpiringWithin(ctx context.Context, now time.Time, horizon time.Duration, page, pageSize int) ([]Subscription, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	until := now.Add(horizon)

	query := fmt.Sprintf(`
        SELECT %s FROM subscriptions
        WHERE expiration_date > $1 AND expiration_date <= $2 AND NOT admin_override
        ORDER BY expiration_date ASC
        LIMIT %d OFFSET %d
    `, subColumns, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, now, until)
	if err != nil {
		return nil, 0, fmt.Errorf("subscription: query expiring: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}

	var total int
	const countQuery = `
        SELECT COUNT(*) FROM subscriptions
        WHERE expiration_date > $1 AND expiration_date <= $2 AND NOT admin_override
    `
	if err := r.pool.QueryRow(ctx, countQuery, now, until).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("subscription: count expiring: %w", err)
	}

	return subs, total, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	return sub, row.Scan(
		&sub.Asset.Kind,
		&sub.Asset.ID,
		&sub.ExpirationDate,
		&sub.Visible,
		&sub.AdminOverride,
		&sub.LastPaymentAmount,
		&sub.LastPaymentMethod,
		&sub.LastPaymentReference,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
}
