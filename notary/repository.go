package notary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/fault"
)

// Repository defines the data access the notarization service requires.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, c Case) (Case, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Case, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Case, error)
	InsertDocument(ctx context.Context, tx pgx.Tx, doc Document) (Document, error)
	DeleteDocument(ctx context.Context, tx pgx.Tx, caseID, docID string) error
	GetByID(ctx context.Context, id string) (Case, error)
	ListDocuments(ctx context.Context, caseID string) ([]Document, error)
	List(ctx context.Context, filters Filters) ([]Case, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const caseColumns = `id, sale_id, asset_kind, asset_id, notary_id, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, c Case) (Case, error) {
	query := fmt.Sprintf(`
        INSERT INTO notarization_cases (id, sale_id, asset_kind, asset_id, notary_id, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
        RETURNING %s
    `, caseColumns)

	created, err := scanCase(tx.QueryRow(ctx, query, c.ID, c.SaleID, c.Asset.Kind, c.Asset.ID, c.NotaryID, c.Status))
	if err != nil {
		return Case{}, fmt.Errorf("notary: create case: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM notarization_cases WHERE id = $1 FOR UPDATE`, caseColumns)

	c, err := scanCase(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, fmt.Errorf("notary: case %s: %w", id, fault.ErrNotFound)
		}
		return Case{}, fmt.Errorf("notary: get for update: %w", err)
	}
	return c, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Case, error) {
	query := fmt.Sprintf(`
        UPDATE notarization_cases
        SET status = $2, updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING %s
    `, caseColumns)

	c, err := scanCase(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Case{}, fmt.Errorf("notary: update status: %w", err)
	}
	return c, nil
}

func (r *PGRepository) InsertDocument(ctx context.Context, tx pgx.Tx, doc Document) (Document, error) {
	const query = `
        INSERT INTO notarization_documents (id, case_id, name, document_type, uri)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
        RETURNING id, case_id, name, document_type, uri, uploaded_at
    `
	created, err := scanDocument(tx.QueryRow(ctx, query, doc.ID, doc.CaseID, doc.Name, doc.Type, doc.URI))
	if err != nil {
		return Document{}, fmt.Errorf("notary: insert document: %w", err)
	}
	return created, nil
}

func (r *PGRepository) DeleteDocument(ctx context.Context, tx pgx.Tx, caseID, docID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM notarization_documents WHERE id = $1 AND case_id = $2`, docID, caseID)
	if err != nil {
		return fmt.Errorf("notary: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notary: document %s: %w", docID, fault.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM notarization_cases WHERE id = $1`, caseColumns)

	c, err := scanCase(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, fmt.Errorf("notary: case %s: %w", id, fault.ErrNotFound)
		}
		return Case{}, fmt.Errorf("notary: get by id: %w", err)
	}
	return c, nil
}

func (r *PGRepository) ListDocuments(ctx context.Context, caseID string) ([]Document, error) {
	const query = `
        SELECT id, case_id, name, document_type, uri, uploaded_at
        FROM notarization_documents
        WHERE case_id = $1
        ORDER BY uploaded_at ASC, id ASC
    `
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("notary: query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Case, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := "1=1"
	args := []any{}
	if filters.NotaryID != "" {
		args = append(args, filters.NotaryID)
		where += fmt.Sprintf(" AND notary_id=$%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM notarization_cases WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		caseColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("notary: query list: %w", err)
	}
	defer rows.Close()

	list := []Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, c)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notarization_cases WHERE %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notary: count list: %w", err)
	}

	return list, total, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	return c, row.Scan(
		&c.ID,
		&c.SaleID,
		&c.Asset.Kind,
		&c.Asset.ID,
		&c.NotaryID,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	return d, row.Scan(
		&d.ID,
		&d.CaseID,
		&d.Name,
		&d.Type,
		&d.URI,
		&d.UploadedAt,
	)
}
