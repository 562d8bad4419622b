package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"estateflow/asset"
	"estateflow/audit"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuditWriter appends one audit trail event inside the active transaction.
type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, rec audit.Record) error
}

// OutboxWriter enqueues a message for downstream delivery.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

const sweepBatchSize = 200

// Service owns per-asset visibility driven by payments, administrator
// overrides, and the expiration sweep.
type Service struct {
	pool     TxBeginner
	repo     Repository
	trail    AuditWriter
	outbox   OutboxWriter
	now      func() time.Time
	duration time.Duration
	horizon  time.Duration
}

func NewService(pool TxBeginner, repo Repository, trail AuditWriter, out OutboxWriter, durationDays, expiringSoonDays int) *Service {
	if trail == nil {
		trail = audit.NewRecorder()
	}
	if out == nil {
		out = outbox.NewWriter()
	}
	if durationDays <= 0 {
		durationDays = 365
	}
	if expiringSoonDays <= 0 {
		expiringSoonDays = 30
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		trail:    trail,
		outbox:   out,
		now:      time.Now,
		duration: time.Duration(durationDays) * 24 * time.Hour,
		horizon:  time.Duration(expiringSoonDays) * 24 * time.Hour,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates the subscription when an asset is first listed. The new
// row starts invisible until the first payment lands.
func (s *Service) Register(ctx context.Context, ref asset.Ref, actor auth.Actor) (Subscription, error) {
	if err := ref.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("%v: %w", err, fault.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Subscription{
		Asset:          ref,
		ExpirationDate: s.now().UTC(),
		Visible:        false,
	})
	if err != nil {
		return Subscription{}, err
	}

	if err := s.append(ctx, tx, ref, actor, "SUBSCRIPTION_REGISTERED", nil); err != nil {
		return Subscription{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Subscription{}, fmt.Errorf("subscription: commit register: %w", err)
	}
	return created, nil
}

// RenewByPayment extends the subscription by one period from whichever is
// later, now or the current expiration. Online and manually validated cash
// payments follow the same path; only the recorded method differs. A
// successful payment clears any administrator deactivation.
func (s *Service) RenewByPayment(ctx context.Context, ref asset.Ref, amount decimal.Decimal, method, reference string, actor auth.Actor) (Subscription, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Subscription{}, fmt.Errorf("subscription: payment amount must be positive: %w", fault.ErrInvalidInput)
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return Subscription{}, fmt.Errorf("subscription: payment method required: %w", fault.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.repo.GetForUpdate(ctx, tx, ref)
	if err != nil {
		return Subscription{}, err
	}

	now := s.now().UTC()
	base := sub.ExpirationDate
	if now.After(base) {
		base = now
	}

	sub.ExpirationDate = base.Add(s.duration)
	sub.Visible = true
	sub.AdminOverride = false
	sub.LastPaymentAmount = &amount
	sub.LastPaymentMethod = &method
	if reference = strings.TrimSpace(reference); reference != "" {
		sub.LastPaymentReference = &reference
	}

	updated, err := s.repo.Update(ctx, tx, sub)
	if err != nil {
		return Subscription{}, err
	}

	if err := s.append(ctx, tx, ref, actor, "SUBSCRIPTION_RENEWED", map[string]any{
		"amount":     amount.String(),
		"method":     method,
		"reference":  reference,
		"expires_at": updated.ExpirationDate,
	}); err != nil {
		return Subscription{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicSubscriptionRenewed, map[string]any{
		"asset":      ref.String(),
		"expires_at": updated.ExpirationDate,
	}); err != nil {
		return Subscription{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Subscription{}, fmt.Errorf("subscription: commit renew: %w", err)
	}
	return updated, nil
}

// Deactivate suspends visibility under an explicit administrator override
// the sweep will not touch.
func (s *Service) Deactivate(ctx context.Context, ref asset.Ref, reason string, actor auth.Actor) (Subscription, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Subscription{}, fmt.Errorf("subscription: deactivation reason required: %w", fault.ErrInvalidInput)
	}

	return s.adminToggle(ctx, ref, actor, "SUBSCRIPTION_DEACTIVATED", map[string]any{"reason": reason},
		func(sub *Subscription) {
			sub.Visible = false
			sub.AdminOverride = true
		})
}

// Reactivate clears the override and restores visibility regardless of the
// expiration date. Administrator discretion, not gated on payment.
func (s *Service) Reactivate(ctx context.Context, ref asset.Ref, actor auth.Actor) (Subscription, error) {
	return s.adminToggle(ctx, ref, actor, "SUBSCRIPTION_REACTIVATED", nil,
		func(sub *Subscription) {
			sub.Visible = true
			sub.AdminOverride = false
		})
}

func (s *Service) adminToggle(ctx context.Context, ref asset.Ref, actor auth.Actor, eventType string, payload map[string]any, apply func(*Subscription)) (Subscription, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.repo.GetForUpdate(ctx, tx, ref)
	if err != nil {
		return Subscription{}, err
	}

	apply(&sub)

	updated, err := s.repo.Update(ctx, tx, sub)
	if err != nil {
		return Subscription{}, err
	}

	if err := s.append(ctx, tx, ref, actor, eventType, payload); err != nil {
		return Subscription{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Subscription{}, fmt.Errorf("subscription: commit: %w", err)
	}
	return updated, nil
}

// SweepExpirations hides every subscription whose date has passed, batch by
// batch. Idempotent; rows under administrator override are never touched
// and the expiration date is never advanced. Returns the number of rows
// swept.
func (s *Service) SweepExpirations(ctx context.Context) (int, error) {
	now := s.now().UTC()
	swept := 0

	for {
		n, err := s.sweepBatch(ctx, now)
		if err != nil {
			return swept, err
		}
		swept += n
		if n < sweepBatchSize {
			return swept, nil
		}
	}
}

func (s *Service) sweepBatch(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("subscription: begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := s.repo.LockExpiredBatch(ctx, tx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	refs := make([]asset.Ref, 0, len(expired))
	for _, sub := range expired {
		refs = append(refs, sub.Asset)
	}
	if err := s.repo.MarkInvisible(ctx, tx, refs); err != nil {
		return 0, err
	}

	for _, sub := range expired {
		if err := s.append(ctx, tx, sub.Asset, auth.Actor{}, "SUBSCRIPTION_EXPIRED", map[string]any{
			"expired_at": sub.ExpirationDate,
		}); err != nil {
			return 0, err
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicSubscriptionExpired, map[string]any{
			"asset": sub.Asset.String(),
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("subscription: commit sweep: %w", err)
	}
	return len(expired), nil
}

// Get returns the subscription with its derived status.
func (s *Service) Get(ctx context.Context, ref asset.Ref) (Subscription, DerivedStatus, error) {
	sub, err := s.repo.Get(ctx, ref)
	if err != nil {
		return Subscription{}, "", err
	}
	return sub, DeriveStatus(sub, s.now().UTC(), s.horizon), nil
}

// ListExpiringWithin lists subscriptions expiring in the next N days.
func (s *Service) ListExpiringWithin(ctx context.Context, days, page, pageSize int) ([]Subscription, int, error) {
	if days <= 0 {
		return nil, 0, fmt.Errorf("subscription: days must be positive: %w", fault.ErrInvalidInput)
	}
	return s.repo.ListExpiringWithin(ctx, s.now().UTC(), time.Duration(days)*24*time.Hour, page, pageSize)
}

// ListingEligible satisfies the sale engine's subscription gate. Reads the
// row inside the caller's transaction so the eligibility check commits with
// the submission.
func (s *Service) ListingEligible(ctx context.Context, tx pgx.Tx, ref asset.Ref) (bool, error) {
	sub, err := s.repo.GetForUpdate(ctx, tx, ref)
	if err != nil {
		return false, err
	}
	return ListingEligible(sub, s.now().UTC(), s.horizon), nil
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, ref asset.Ref, actor auth.Actor, eventType string, payload map[string]any) error {
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	return s.trail.Append(ctx, tx, audit.Record{
		EntityKind: audit.EntitySubscription,
		EntityID:   ref.ID,
		Type:       eventType,
		ActorID:    actorID,
		ActorName:  actor.Name,
		Payload:    payload,
	})
}
