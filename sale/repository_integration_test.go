package sale

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"estateflow/asset"
	"estateflow/auth"
	"estateflow/notary"
	"estateflow/subscription"
)

// TestNegotiation_Integration connects to a real PostgreSQL via DATABASE_URL
// and runs a full negotiation against live repositories: register and pay a
// subscription, submit, counter, approve, and verify the notarization case,
// audit trail and outbox all landed.
func TestNegotiation_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"sale_requests", "subscriptions", "notarization_cases", "audit_events", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations first", table)
		}
	}

	// Seed actors respected by foreign keys.
	var sellerID, notaryID string
	nonce := time.Now().UnixNano()
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1,$2,'owner') RETURNING id`,
		fmt.Sprintf("owner+%d@example.com", nonce), "Odile Owner").Scan(&sellerID); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1,$2,'notary') RETURNING id`,
		fmt.Sprintf("notary+%d@example.com", nonce), "Maitre Ndiaye").Scan(&notaryID); err != nil {
		t.Fatalf("seed notary: %v", err)
	}

	ref := asset.Ref{Kind: asset.KindProperty, ID: fmt.Sprintf("itest-villa-%d", nonce)}
	seller := auth.Actor{ID: sellerID, Name: "Odile Owner", Role: auth.RoleOwner}
	agent := auth.Actor{ID: sellerID, Name: "Odile Owner", Role: auth.RoleAgency}

	subs := subscription.NewService(pool, subscription.NewRepository(pool), nil, nil, 365, 30)
	cases := notary.NewService(pool, notary.NewRepository(pool), nil, nil, nil)
	sales := NewService(pool, NewRepository(pool), nil, nil, subs, cases, decimal.NewFromInt(5))

	var saleID string
	t.Cleanup(func() {
		// Best-effort; audit_events is append-only by design and stays.
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM notarization_documents WHERE case_id IN (SELECT id FROM notarization_cases WHERE sale_id = $1)`, saleID)
		pool.Exec(ctx2, `DELETE FROM notarization_cases WHERE sale_id = $1`, saleID)
		pool.Exec(ctx2, `DELETE FROM sale_requests WHERE id = $1`, saleID)
		pool.Exec(ctx2, `DELETE FROM subscriptions WHERE asset_kind = $1 AND asset_id = $2`, string(ref.Kind), ref.ID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'asset' = $1`, ref.String())
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, sellerID, notaryID)
	})

	// Subscription must be paid before the asset is listable.
	if _, err := subs.Register(ctx, ref, seller); err != nil {
		t.Fatalf("register subscription: %v", err)
	}
	if _, err := sales.Submit(ctx, SubmitParams{Asset: ref, SellerID: sellerID, RequestedPrice: decimal.NewFromInt(50_000_000)}, seller); err == nil {
		t.Fatalf("expected submit to fail while subscription is unpaid")
	}
	if _, err := subs.RenewByPayment(ctx, ref, decimal.NewFromInt(120_000), "card", fmt.Sprintf("itest-%d", nonce), seller); err != nil {
		t.Fatalf("renew subscription: %v", err)
	}

	req, err := sales.Submit(ctx, SubmitParams{Asset: ref, SellerID: sellerID, RequestedPrice: decimal.NewFromInt(50_000_000)}, seller)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	saleID = req.ID
	if !req.CommissionAmount.Equal(decimal.NewFromInt(2_500_000)) {
		t.Fatalf("expected commission 2500000, got %s", req.CommissionAmount)
	}

	if _, err := sales.CounterOffer(ctx, saleID, decimal.NewFromInt(45_000_000), agent); err != nil {
		t.Fatalf("counter offer: %v", err)
	}

	approved, err := sales.Approve(ctx, saleID, agent)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.EffectivePrice.Equal(decimal.NewFromInt(45_000_000)) {
		t.Fatalf("expected effective price 45000000, got %s", approved.EffectivePrice)
	}
	if !approved.CommissionAmount.Equal(decimal.NewFromInt(2_250_000)) {
		t.Fatalf("expected commission 2250000, got %s", approved.CommissionAmount)
	}
	if approved.CounterPrice != nil {
		t.Fatalf("expected counter price cleared on approval")
	}

	// Approval must have opened exactly one notarization case.
	var caseCount int
	var caseStatus string
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), MIN(status)::text FROM notarization_cases WHERE sale_id = $1`, saleID).Scan(&caseCount, &caseStatus); err != nil {
		t.Fatalf("verify case: %v", err)
	}
	if caseCount != 1 || caseStatus != "pending_notary" {
		t.Fatalf("unexpected case state: count=%d status=%s", caseCount, caseStatus)
	}

	// The audit trail carries the whole negotiation in append order.
	rows, err := pool.Query(ctx, `SELECT seq, type FROM audit_events WHERE entity_kind = 'sale_request' AND entity_id = $1 ORDER BY seq`, saleID)
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	var types []string
	prev := 0
	for rows.Next() {
		var seq int
		var typ string
		if err := rows.Scan(&seq, &typ); err != nil {
			t.Fatalf("scan audit: %v", err)
		}
		if seq != prev+1 {
			t.Fatalf("audit seq gap: got %d after %d", seq, prev)
		}
		prev = seq
		types = append(types, typ)
	}
	rows.Close()
	want := []string{"SALE_SUBMITTED", "SALE_COUNTER_OFFERED", "SALE_APPROVED", "NOTARIZATION_OPENED"}
	if len(types) != len(want) {
		t.Fatalf("expected %d audit events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("audit event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	// Audit rows must refuse mutation.
	if _, err := pool.Exec(ctx, `DELETE FROM audit_events WHERE entity_kind = 'sale_request' AND entity_id = $1`, saleID); err == nil {
		t.Fatalf("expected audit delete to be rejected")
	}

	// One outbox message per negotiation step.
	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'asset' = $1 AND topic LIKE 'sale.%'`, ref.String()).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 3 {
		t.Fatalf("expected 3 sale outbox messages, got %d", outCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
