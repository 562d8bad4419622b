// Package audit persists the append-only event log every lifecycle engine
// writes through. Appends always happen inside the caller's transaction so
// a failed append rolls the state change back with it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityKind names the lifecycle entity an event belongs to.
type EntityKind string

const (
	EntitySaleRequest  EntityKind = "sale_request"
	EntityNotaryCase   EntityKind = "notarization_case"
	EntitySubscription EntityKind = "subscription"
)

// Event is one immutable audit trail entry. Seq is per-entity and assigned
// by the database on insert.
type Event struct {
	ID         int64
	EntityKind EntityKind
	EntityID   string
	Seq        int
	Type       string
	ActorID    *string
	ActorName  string
	Payload    []byte
	CreatedAt  time.Time
}

// Record carries the fields callers provide for an append.
type Record struct {
	EntityKind EntityKind
	EntityID   string
	Type       string
	ActorID    *string
	ActorName  string
	Payload    map[string]any
}

type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append writes one audit event inside the active transaction.
func (r *Recorder) Append(ctx context.Context, tx pgx.Tx, rec Record) error {
	if rec.EntityID == "" {
		return fmt.Errorf("audit: missing entity id")
	}
	if rec.Type == "" {
		return fmt.Errorf("audit: missing event type")
	}

	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	var actorID any
	if rec.ActorID != nil && *rec.ActorID != "" {
		actorID = *rec.ActorID
	}

	const insertSQL = `
INSERT INTO audit_events (entity_kind, entity_id, type, actor_id, actor_name, payload)
VALUES ($1, $2, $3, $4::uuid, $5, $6::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, rec.EntityKind, rec.EntityID, rec.Type, actorID, rec.ActorName, body); err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}

	return nil
}

// ListByEntity returns the full trail for one entity in append order.
func ListByEntity(ctx context.Context, pool *pgxpool.Pool, kind EntityKind, entityID string) ([]Event, error) {
	const query = `
SELECT id, entity_kind, entity_id, seq, type, actor_id::text, actor_name, payload, created_at
FROM audit_events
WHERE entity_kind = $1 AND entity_id = $2
ORDER BY seq ASC
`
	rows, err := pool.Query(ctx, query, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: query trail: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.EntityKind, &ev.EntityID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.ActorName, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate trail: %w", err)
	}

	return events, nil
}
