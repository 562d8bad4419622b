package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lister tries to open competing sale requests for the same asset. The
// partial unique index allows at most one non-terminal request, so unique
// violations are the expected outcome under contention.
func Lister(ctx context.Context, pool *pgxpool.Pool, assetKind, assetID, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		price := 40_000_000 + rand.Intn(20_000_000)
		_, err := pool.Exec(ctx, `INSERT INTO sale_requests
                (asset_kind, asset_id, seller_id, requested_price, effective_price, commission_percentage, commission_amount)
                VALUES ($1,$2,$3,$4,$4,5,$4*0.05)`, assetKind, assetID, sellerID, price)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// expected: another open request already holds the slot
			} else if !errors.Is(err, context.Canceled) {
				return fmt.Errorf("lister insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Negotiator walks open requests through counter, approval and sale, one
// legal step at a time under row locks. Approval also opens the
// notarization case in the same transaction.
func Negotiator(ctx context.Context, pool *pgxpool.Pool, assetKind, assetID, notaryID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := negotiateOnce(ctx, pool, assetKind, assetID, notaryID); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

func negotiateOnce(ctx context.Context, pool *pgxpool.Pool, assetKind, assetID, notaryID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil // transient, e.g. chaos killed the backend
	}
	defer tx.Rollback(ctx)

	var (
		id     string
		status string
	)
	err = tx.QueryRow(ctx, `SELECT id, status FROM sale_requests
            WHERE asset_kind=$1 AND asset_id=$2 AND status NOT IN ('sold','rejected')
            LIMIT 1 FOR UPDATE SKIP LOCKED`, assetKind, assetID).Scan(&id, &status)
	if err != nil {
		return nil // nothing open or locked elsewhere
	}

	switch status {
	case "submitted":
		counter := 42_000_000 + rand.Intn(5_000_000)
		_, err = tx.Exec(ctx, `UPDATE sale_requests
                SET status='counter_offered', counter_price=$2, effective_price=$2,
                    commission_amount=$2*commission_percentage/100, updated_at=get_tx_timestamp()
                WHERE id=$1`, id, counter)
		if err == nil {
			err = auditSale(ctx, tx, id, "SALE_COUNTER_OFFERED")
		}
	case "counter_offered":
		_, err = tx.Exec(ctx, `UPDATE sale_requests
                SET status='approved', counter_price=NULL, updated_at=get_tx_timestamp()
                WHERE id=$1`, id)
		if err == nil {
			_, err = tx.Exec(ctx, `INSERT INTO notarization_cases (sale_id, asset_kind, asset_id, notary_id)
                    VALUES ($1,$2,$3,$4)`, id, assetKind, assetID, notaryID)
		}
		if err == nil {
			err = auditSale(ctx, tx, id, "SALE_APPROVED")
		}
	case "approved":
		_, err = tx.Exec(ctx, `UPDATE sale_requests
                SET status='sold', buyer_name='Stress Buyer', updated_at=get_tx_timestamp()
                WHERE id=$1`, id)
		if err == nil {
			err = auditSale(ctx, tx, id, "SALE_SOLD")
		}
	}
	if err != nil {
		return nil
	}
	return tx.Commit(ctx)
}

func auditSale(ctx context.Context, tx pgx.Tx, saleID, eventType string) error {
	_, err := tx.Exec(ctx, `INSERT INTO audit_events (entity_kind, entity_id, type, actor_name)
            VALUES ('sale_request', $1, $2, 'stress')`, saleID, eventType)
	return err
}

// Renewer records payments against the subscription, stacking the new
// period on whichever is later, now or the current expiration.
func Renewer(ctx context.Context, pool *pgxpool.Pool, assetKind, assetID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var dummy string
		err = tx.QueryRow(ctx, `SELECT asset_id FROM subscriptions
                WHERE asset_kind=$1 AND asset_id=$2 FOR UPDATE`, assetKind, assetID).Scan(&dummy)
		if err == nil {
			_, err = tx.Exec(ctx, `UPDATE subscriptions
                    SET expiration_date = GREATEST(now(), expiration_date) + interval '365 days',
                        visible=true, admin_override=false,
                        last_payment_amount=120000, last_payment_method='card',
                        updated_at=get_tx_timestamp()
                    WHERE asset_kind=$1 AND asset_id=$2`, assetKind, assetID)
		}
		if err == nil {
			_, err = tx.Exec(ctx, `INSERT INTO audit_events (entity_kind, entity_id, type, actor_name)
                    VALUES ('subscription', $1, 'SUBSCRIPTION_RENEWED', 'stress')`, assetID)
		}
		if err == nil {
			_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload)
                    VALUES ('subscription.renewed', jsonb_build_object('asset_id', $1::text))`, assetID)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Lapser backdates the expiration so the sweeper always has work; it plays
// time passing, not a real operation.
func Lapser(ctx context.Context, pool *pgxpool.Pool, assetKind, assetID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `UPDATE subscriptions
                SET expiration_date = now() - interval '1 hour', visible=true
                WHERE asset_kind=$1 AND asset_id=$2 AND NOT admin_override`, assetKind, assetID)
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// Sweeper hides expired subscriptions batch by batch with SKIP LOCKED,
// racing the renewer over the same rows.
func Sweeper(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT asset_kind, asset_id FROM subscriptions
                WHERE expiration_date <= now() AND visible AND NOT admin_override
                FOR UPDATE SKIP LOCKED LIMIT 50`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		type key struct{ kind, id string }
		keys := []key{}
		for rows.Next() {
			var k key
			if rows.Scan(&k.kind, &k.id) == nil {
				keys = append(keys, k)
			}
		}
		rows.Close()
		ok := true
		for _, k := range keys {
			if _, err := tx.Exec(ctx, `UPDATE subscriptions SET visible=false, updated_at=get_tx_timestamp()
                    WHERE asset_kind=$1 AND asset_id=$2`, k.kind, k.id); err != nil {
				ok = false
				break
			}
			if _, err := tx.Exec(ctx, `INSERT INTO audit_events (entity_kind, entity_id, type, actor_name)
                    VALUES ('subscription', $1, 'SUBSCRIPTION_EXPIRED', 'stress')`, k.id); err != nil {
				ok = false
				break
			}
		}
		if ok {
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random delivery failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
