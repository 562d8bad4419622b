// Package outbox enqueues transactional messages for downstream delivery
// (notifications, search indexing). Delivery itself lives outside this
// system; the contract is only that a message is committed atomically with
// the state change that caused it.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Topics published by the lifecycle engines.
const (
	TopicSaleSubmitted       = "sale.submitted"
	TopicSaleCountered       = "sale.counter_offered"
	TopicSaleApproved        = "sale.approved"
	TopicSaleRejected        = "sale.rejected"
	TopicSaleSold            = "sale.sold"
	TopicCaseStatusChanged   = "notarization.status_changed"
	TopicCaseFinalized       = "notarization.finalized"
	TopicSubscriptionRenewed = "subscription.renewed"
	TopicSubscriptionExpired = "subscription.expired"
)

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue inserts one outbox message inside the active transaction.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: missing topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
