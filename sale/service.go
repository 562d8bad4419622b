package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"estateflow/asset"
	"estateflow/audit"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/money"
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

// SubscriptionGate answers whether the asset is eligible for listing. A
// sale can only be submitted while the asset's subscription is active or
// expiring soon.
type SubscriptionGate interface {
	ListingEligible(ctx context.Context, tx pgx.Tx, ref asset.Ref) (bool, error)
}

// CaseOpener creates the notarization case for an approved sale within the
// approval transaction. Returns the new case id.
type CaseOpener interface {
	OpenForSale(ctx context.Context, tx pgx.Tx, saleID string, ref asset.Ref) (string, error)
}

// Service owns the sale negotiation state machine.
type Service struct {
	pool          TxBeginner
	repo          Repository
	trail         AuditWriter
	outbox        OutboxWriter
	subscriptions SubscriptionGate
	cases         CaseOpener
	idGenerator   func() string
	now           func() time.Time
	defaultPct    decimal.Decimal
}

func NewService(pool TxBeginner, repo Repository, trail AuditWriter, out OutboxWriter, subs SubscriptionGate, cases CaseOpener, defaultCommissionPct decimal.Decimal) *Service {
	if trail == nil {
		trail = audit.NewRecorder()
	}
	if out == nil {
		out = outbox.NewWriter()
	}
	return &Service{
		pool:          pool,
		repo:          repo,
		trail:         trail,
		outbox:        out,
		subscriptions: subs,
		cases:         cases,
		idGenerator:   func() string { return uuid.NewString() },
		now:           time.Now,
		defaultPct:    defaultCommissionPct,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SubmitParams carries an owner's request to sell an asset.
type SubmitParams struct {
	Asset                asset.Ref
	SellerID             string
	RequestedPrice       decimal.Decimal
	CommissionPercentage *decimal.Decimal
}

// Submit creates a sale request in submitted state. The asset must carry a
// listing-eligible subscription and no other open request.
func (s *Service) Submit(ctx context.Context, params SubmitParams, actor auth.Actor) (Request, error) {
	if err := params.Asset.Validate(); err != nil {
		return Request{}, fmt.Errorf("%v: %w", err, fault.ErrInvalidInput)
	}
	if params.SellerID == "" {
		return Request{}, fmt.Errorf("sale: missing seller id: %w", fault.ErrInvalidInput)
	}
	if params.RequestedPrice.LessThanOrEqual(decimal.Zero) {
		return Request{}, fmt.Errorf("sale: requested price must be positive: %w", fault.ErrInvalidInput)
	}

	pct := s.defaultPct
	if params.CommissionPercentage != nil {
		pct = *params.CommissionPercentage
	}
	commission, err := money.ComputeCommission(params.RequestedPrice, pct)
	if err != nil {
		return Request{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("sale: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	eligible, err := s.subscriptions.ListingEligible(ctx, tx, params.Asset)
	if err != nil {
		// An asset that was never subscribed is not listable either.
		if errors.Is(err, fault.ErrNotFound) {
			return Request{}, fmt.Errorf("sale: asset %s has no subscription: %w", params.Asset, fault.ErrSubscriptionInactive)
		}
		return Request{}, err
	}
	if !eligible {
		return Request{}, fmt.Errorf("sale: asset %s: %w", params.Asset, fault.ErrSubscriptionInactive)
	}

	open, err := s.repo.HasOpenRequest(ctx, tx, params.Asset)
	if err != nil {
		return Request{}, err
	}
	if open {
		return Request{}, fmt.Errorf("sale: asset %s already has an open request: %w", params.Asset, fault.ErrInvalidState)
	}

	req := Request{
		ID:                   s.idGenerator(),
		Asset:                params.Asset,
		SellerID:             params.SellerID,
		RequestedPrice:       params.RequestedPrice,
		EffectivePrice:       params.RequestedPrice,
		CommissionPercentage: pct,
		CommissionAmount:     commission,
		Status:               StatusSubmitted,
	}

	created, err := s.repo.Create(ctx, tx, req)
	if err != nil {
		return Request{}, err
	}

	if err := s.append(ctx, tx, created, actor, "SALE_SUBMITTED", map[string]any{
		"requested_price": created.RequestedPrice.String(),
		"commission_pct":  created.CommissionPercentage.String(),
	}); err != nil {
		return Request{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicSaleSubmitted, map[string]any{
		"sale_id": created.ID,
		"asset":   created.Asset.String(),
	}); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("sale: commit submit: %w", err)
	}
	return created, nil
}

// CounterOffer proposes an alternative price. Only valid from submitted.
func (s *Service) CounterOffer(ctx context.Context, id string, newPrice decimal.Decimal, actor auth.Actor) (Request, error) {
	if newPrice.LessThanOrEqual(decimal.Zero) {
		return Request{}, fmt.Errorf("sale: counter price must be positive: %w", fault.ErrInvalidInput)
	}

	return s.transition(ctx, id, actor, func(req *Request) (string, map[string]any, error) {
		if !canTransition(req.Status, StatusCounterOffered) {
			return "", nil, transitionErr(req.Status, StatusCounterOffered)
		}

		commission, err := money.ComputeCommission(newPrice, req.CommissionPercentage)
		if err != nil {
			return "", nil, err
		}

		req.Status = StatusCounterOffered
		req.CounterPrice = &newPrice
		req.EffectivePrice = newPrice
		req.CommissionAmount = commission

		return "SALE_COUNTER_OFFERED", map[string]any{
			"counter_price":     newPrice.String(),
			"commission_amount": commission.String(),
		}, nil
	}, outbox.TopicSaleCountered)
}

// Approve accepts the negotiation at the effective price and opens the
// notarization case in the same transaction.
func (s *Service) Approve(ctx context.Context, id string, actor auth.Actor) (Request, error) {
	return s.transition(ctx, id, actor, func(req *Request) (string, map[string]any, error) {
		if !canTransition(req.Status, StatusApproved) {
			return "", nil, transitionErr(req.Status, StatusApproved)
		}

		// An accepted counter becomes the effective price; the counter field
		// itself is only populated while the offer is on the table.
		effective := money.EffectivePrice(req.RequestedPrice, req.CounterPrice)
		commission, err := money.ComputeCommission(effective, req.CommissionPercentage)
		if err != nil {
			return "", nil, err
		}

		req.Status = StatusApproved
		req.CounterPrice = nil
		req.EffectivePrice = effective
		req.CommissionAmount = commission

		return "SALE_APPROVED", map[string]any{
			"effective_price":   effective.String(),
			"commission_amount": commission.String(),
		}, nil
	}, outbox.TopicSaleApproved, func(ctx context.Context, tx pgx.Tx, req Request) error {
		caseID, err := s.cases.OpenForSale(ctx, tx, req.ID, req.Asset)
		if err != nil {
			return fmt.Errorf("sale: open notarization case: %w", err)
		}
		return s.append(ctx, tx, req, actor, "NOTARIZATION_OPENED", map[string]any{"case_id": caseID})
	})
}

// Reject closes the negotiation. Terminal; requires a non-empty reason.
func (s *Service) Reject(ctx context.Context, id, reason string, actor auth.Actor) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, fmt.Errorf("sale: rejection reason required: %w", fault.ErrInvalidInput)
	}

	return s.transition(ctx, id, actor, func(req *Request) (string, map[string]any, error) {
		if !canTransition(req.Status, StatusRejected) {
			return "", nil, transitionErr(req.Status, StatusRejected)
		}

		req.Status = StatusRejected
		req.CounterPrice = nil
		req.RejectionReason = &reason

		return "SALE_REJECTED", map[string]any{"reason": reason}, nil
	}, outbox.TopicSaleRejected)
}

// MarkSold records the buyer and closes the sale. Only valid from approved.
func (s *Service) MarkSold(ctx context.Context, id string, buyer Buyer, actor auth.Actor) (Request, error) {
	if strings.TrimSpace(buyer.Name) == "" {
		return Request{}, fmt.Errorf("sale: buyer name required: %w", fault.ErrInvalidInput)
	}

	return s.transition(ctx, id, actor, func(req *Request) (string, map[string]any, error) {
		if !canTransition(req.Status, StatusSold) {
			return "", nil, transitionErr(req.Status, StatusSold)
		}

		req.Status = StatusSold
		req.BuyerName = &buyer.Name
		req.BuyerPhone = nilIfEmpty(buyer.Phone)
		req.BuyerEmail = nilIfEmpty(buyer.Email)

		return "SALE_SOLD", map[string]any{
			"buyer_name":       buyer.Name,
			"final_price":      req.EffectivePrice.String(),
			"final_commission": req.CommissionAmount.String(),
		}, nil
	}, outbox.TopicSaleSold)
}

func (s *Service) GetByID(ctx context.Context, id string) (Request, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.repo.List(ctx, filters)
}

// transition runs one state change as an atomic unit: lock, mutate, audit,
// outbox, optional side effects, commit. A failure anywhere rolls the whole
// unit back, so no partial transition is ever observable.
func (s *Service) transition(
	ctx context.Context,
	id string,
	actor auth.Actor,
	mutate func(req *Request) (eventType string, payload map[string]any, err error),
	topic string,
	sideEffects ...func(ctx context.Context, tx pgx.Tx, req Request) error,
) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("sale: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	eventType, payload, err := mutate(&req)
	if err != nil {
		return Request{}, err
	}

	updated, err := s.repo.Update(ctx, tx, req)
	if err != nil {
		return Request{}, err
	}

	if err := s.append(ctx, tx, updated, actor, eventType, payload); err != nil {
		return Request{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, map[string]any{
		"sale_id": updated.ID,
		"asset":   updated.Asset.String(),
		"status":  string(updated.Status),
	}); err != nil {
		return Request{}, err
	}

	for _, effect := range sideEffects {
		if err := effect(ctx, tx, updated); err != nil {
			return Request{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("sale: commit transition: %w", err)
	}
	return updated, nil
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, req Request, actor auth.Actor, eventType string, payload map[string]any) error {
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	return s.trail.Append(ctx, tx, audit.Record{
		EntityKind: audit.EntitySaleRequest,
		EntityID:   req.ID,
		Type:       eventType,
		ActorID:    actorID,
		ActorName:  actor.Name,
		Payload:    payload,
	})
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("sale: %s -> %s: %w", from, to, fault.ErrIllegalTransition)
}

func nilIfEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
