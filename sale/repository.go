package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/asset"
	"estateflow/fault"
)

// Repository defines the data access the negotiation service requires.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	HasOpenRequest(ctx context.Context, tx pgx.Tx, ref asset.Ref) (bool, error)
	GetByID(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, asset_kind, asset_id, seller_id, requested_price, counter_price,
	effective_price, commission_percentage, commission_amount, status,
	buyer_name, buyer_phone, buyer_email, rejection_reason, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := fmt.Sprintf(`
        INSERT INTO sale_requests (id, asset_kind, asset_id, seller_id, requested_price,
            effective_price, commission_percentage, commission_amount, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING %s
    `, requestColumns)

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.Asset.Kind,
		req.Asset.ID,
		req.SellerID,
		req.RequestedPrice,
		req.EffectivePrice,
		req.CommissionPercentage,
		req.CommissionAmount,
		req.Status,
	)
	created, err := scanRequest(row)
	if err != nil {
		return Request{}, mapPGError("sale: create", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM sale_requests WHERE id = $1 FOR UPDATE`, requestColumns)

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("sale: request %s: %w", id, fault.ErrNotFound)
		}
		return Request{}, mapPGError("sale: get for update", err)
	}
	return req, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := fmt.Sprintf(`
        UPDATE sale_requests
        SET counter_price = $2,
            effective_price = $3,
            commission_amount = $4,
            status = $5,
            buyer_name = $6,
            buyer_phone = $7,
            buyer_email = $8,
            rejection_reason = $9,
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING %s
    `, requestColumns)

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.CounterPrice,
		req.EffectivePrice,
		req.CommissionAmount,
		req.Status,
		req.BuyerName,
		req.BuyerPhone,
		req.BuyerEmail,
		req.RejectionReason,
	)
	updated, err := scanRequest(row)
	if err != nil {
		return Request{}, mapPGError("sale: update", err)
	}
	return updated, nil
}

// HasOpenRequest reports whether a non-terminal request already exists for
// the asset. The partial unique index on sale_requests backs this up at
// commit time for racing submitters.
func (r *PGRepository) HasOpenRequest(ctx context.Context, tx pgx.Tx, ref asset.Ref) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM sale_requests
            WHERE asset_kind = $1 AND asset_id = $2 AND status NOT IN ('sold','rejected')
        )
    `
	var exists bool
	if err := tx.QueryRow(ctx, query, ref.Kind, ref.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("sale: check open request: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM sale_requests WHERE id = $1`, requestColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("sale: request %s: %w", id, fault.ErrNotFound)
		}
		return Request{}, fmt.Errorf("sale: get by id: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := "1=1"
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filters.SellerID != "" {
		args = append(args, filters.SellerID)
		where += fmt.Sprintf(" AND seller_id=$%d", len(args))
	}
	if filters.AssetKind != "" {
		args = append(args, filters.AssetKind)
		where += fmt.Sprintf(" AND asset_kind=$%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM sale_requests WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sale: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, req)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sale_requests WHERE %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sale: count list: %w", err)
	}

	return list, total, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.ID,
		&req.Asset.Kind,
		&req.Asset.ID,
		&req.SellerID,
		&req.RequestedPrice,
		&req.CounterPrice,
		&req.EffectivePrice,
		&req.CommissionPercentage,
		&req.CommissionAmount,
		&req.Status,
		&req.BuyerName,
		&req.BuyerPhone,
		&req.BuyerEmail,
		&req.RejectionReason,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}

// mapPGError translates serialization failures and unique violations into
// the shared conflict kind so the directory can retry the command.
func mapPGError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%s: %w", op, fault.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
