package notary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"estateflow/asset"
)

// Assigner is the notary directory boundary: it picks the notary a new
// case is assigned to. It runs inside the approval transaction so the
// assignment commits atomically with the case.
type Assigner interface {
	Assign(ctx context.Context, tx pgx.Tx, ref asset.Ref) (notaryID string, err error)
}

// LeastLoadedAssigner assigns the registered notary with the fewest open
// cases, ties broken by registration order.
type LeastLoadedAssigner struct{}

func NewLeastLoadedAssigner() *LeastLoadedAssigner {
	return &LeastLoadedAssigner{}
}

var ErrNoNotaryAvailable = errors.New("notary: no notary available for assignment")

func (a *LeastLoadedAssigner) Assign(ctx context.Context, tx pgx.Tx, ref asset.Ref) (string, error) {
	const query = `
        SELECT u.id
        FROM users u
        LEFT JOIN notarization_cases c
            ON c.notary_id = u.id AND c.status NOT IN ('finalized','cancelled')
        WHERE u.role = 'notary'
        GROUP BY u.id, u.created_at
        ORDER BY COUNT(c.id) ASC, u.created_at ASC
        LIMIT 1
    `
	var notaryID string
	if err := tx.QueryRow(ctx, query).Scan(&notaryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoNotaryAvailable
		}
		return "", fmt.Errorf("notary: assign lookup: %w", err)
	}
	return notaryID, nil
}
