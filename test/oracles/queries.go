package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns invariant queries that must come back empty at every point
// during a run. Any row returned is a counterexample.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_open_request_per_asset",
			SQL: `SELECT asset_kind, asset_id, COUNT(*) FROM sale_requests
                  WHERE status NOT IN ('sold','rejected')
                  GROUP BY asset_kind, asset_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_audit_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT entity_kind, entity_id, seq,
                             LAG(seq) OVER (PARTITION BY entity_kind, entity_id ORDER BY seq) AS prev
                      FROM audit_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O3_counter_price_iff_countered",
			SQL: `SELECT id, status, counter_price FROM sale_requests
                  WHERE (status = 'counter_offered') <> (counter_price IS NOT NULL)`,
		},
		{
			Name: "O4_buyer_iff_sold",
			SQL: `SELECT id, status, buyer_name FROM sale_requests
                  WHERE (status = 'sold') <> (buyer_name IS NOT NULL)`,
		},
		{
			Name: "O5_approved_sale_has_case",
			SQL: `SELECT s.id FROM sale_requests s
                  WHERE s.status IN ('approved','sold')
                    AND NOT EXISTS (SELECT 1 FROM notarization_cases c WHERE c.sale_id = s.id)`,
		},
		{
			Name: "O6_override_never_visible",
			SQL:  `SELECT asset_kind, asset_id FROM subscriptions WHERE admin_override AND visible`,
		},
		{
			Name: "O7_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_audit_append_only_guard",
			SQL: `SELECT 'missing_immutability_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='trg_audit_events_immutable')`,
		},
		{
			Name: "O9_commission_within_price",
			SQL: `SELECT id FROM sale_requests
                  WHERE commission_amount > effective_price OR commission_amount < 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
