// Package directory routes role-scoped commands to the lifecycle engines.
// It authorizes the actor, validates command payloads, retries once on
// commit-time conflicts, and returns the updated entity so callers never
// need a read-after-write round trip.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"estateflow/asset"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/notary"
	"estateflow/sale"
	"estateflow/subscription"
)

// SaleEngine is the negotiation surface the directory routes to.
type SaleEngine interface {
	Submit(ctx context.Context, params sale.SubmitParams, actor auth.Actor) (sale.Request, error)
	CounterOffer(ctx context.Context, id string, newPrice decimal.Decimal, actor auth.Actor) (sale.Request, error)
	Approve(ctx context.Context, id string, actor auth.Actor) (sale.Request, error)
	Reject(ctx context.Context, id, reason string, actor auth.Actor) (sale.Request, error)
	MarkSold(ctx context.Context, id string, buyer sale.Buyer, actor auth.Actor) (sale.Request, error)
	GetByID(ctx context.Context, id string) (sale.Request, error)
	List(ctx context.Context, filters sale.Filters) ([]sale.Request, int, error)
}

// NotaryEngine is the legal finalization surface.
type NotaryEngine interface {
	SetStatus(ctx context.Context, id string, target notary.Status, actor auth.Actor, notes string) (notary.Case, error)
	Finalize(ctx context.Context, id string, actor auth.Actor) (notary.Case, error)
	AttachDocument(ctx context.Context, id string, params notary.AttachParams, actor auth.Actor) (notary.Document, error)
	RemoveDocument(ctx context.Context, id, docID string, actor auth.Actor) error
	GetCase(ctx context.Context, id string) (notary.Case, []notary.Document, error)
	List(ctx context.Context, filters notary.Filters) ([]notary.Case, int, error)
}

// SubscriptionEngine is the visibility lifecycle surface.
type SubscriptionEngine interface {
	Register(ctx context.Context, ref asset.Ref, actor auth.Actor) (subscription.Subscription, error)
	RenewByPayment(ctx context.Context, ref asset.Ref, amount decimal.Decimal, method, reference string, actor auth.Actor) (subscription.Subscription, error)
	Deactivate(ctx context.Context, ref asset.Ref, reason string, actor auth.Actor) (subscription.Subscription, error)
	Reactivate(ctx context.Context, ref asset.Ref, actor auth.Actor) (subscription.Subscription, error)
	Get(ctx context.Context, ref asset.Ref) (subscription.Subscription, subscription.DerivedStatus, error)
	ListExpiringWithin(ctx context.Context, days, page, pageSize int) ([]subscription.Subscription, int, error)
}

// Directory is the single command/query entry point for external callers.
type Directory struct {
	sales    SaleEngine
	cases    NotaryEngine
	subs     SubscriptionEngine
	validate *validator.Validate
	log      *zap.Logger
}

func New(sales SaleEngine, cases NotaryEngine, subs SubscriptionEngine, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{
		sales:    sales,
		cases:    cases,
		subs:     subs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// SubmitSaleCommand carries an owner's request to sell.
type SubmitSaleCommand struct {
	AssetKind            string           `validate:"required,oneof=property parcel"`
	AssetID              string           `validate:"required"`
	RequestedPrice       decimal.Decimal  `validate:"required"`
	CommissionPercentage *decimal.Decimal `validate:"omitempty"`
}

func (d *Directory) SubmitSale(ctx context.Context, actor auth.Actor, cmd SubmitSaleCommand) (sale.Request, error) {
	if err := d.authorize(actor, auth.RoleOwner, auth.RoleAgency); err != nil {
		return sale.Request{}, err
	}
	if err := d.validateCmd(cmd); err != nil {
		return sale.Request{}, err
	}
	return run(d, ctx, actor, "sale.submit", func(ctx context.Context) (sale.Request, error) {
		return d.sales.Submit(ctx, sale.SubmitParams{
			Asset:                asset.Ref{Kind: asset.Kind(cmd.AssetKind), ID: cmd.AssetID},
			SellerID:             actor.ID,
			RequestedPrice:       cmd.RequestedPrice,
			CommissionPercentage: cmd.CommissionPercentage,
		}, actor)
	})
}

func (d *Directory) CounterOffer(ctx context.Context, actor auth.Actor, saleID string, newPrice decimal.Decimal) (sale.Request, error) {
	if err := d.authorize(actor, auth.RoleAgency, auth.RoleAdmin); err != nil {
		return sale.Request{}, err
	}
	return run(d, ctx, actor, "sale.counter_offer", func(ctx context.Context) (sale.Request, error) {
		return d.sales.CounterOffer(ctx, saleID, newPrice, actor)
	})
}

func (d *Directory) ApproveSale(ctx context.Context, actor auth.Actor, saleID string) (sale.Request, error) {
	if err := d.authorize(actor, auth.RoleAgency, auth.RoleAdmin); err != nil {
		return sale.Request{}, err
	}
	return run(d, ctx, actor, "sale.approve", func(ctx context.Context) (sale.Request, error) {
		return d.sales.Approve(ctx, saleID, actor)
	})
}

func (d *Directory) RejectSale(ctx context.Context, actor auth.Actor, saleID, reason string) (sale.Request, error) {
	if err := d.authorize(actor, auth.RoleAgency, auth.RoleAdmin); err != nil {
		return sale.Request{}, err
	}
	return run(d, ctx, actor, "sale.reject", func(ctx context.Context) (sale.Request, error) {
		return d.sales.Reject(ctx, saleID, reason, actor)
	})
}

// MarkSoldCommand records the buyer closing the sale.
type MarkSoldCommand struct {
	BuyerName  string `validate:"required"`
	BuyerPhone string `validate:"omitempty"`
	BuyerEmail string `validate:"omitempty,email"`
}

func (d *Directory) MarkSold(ctx context.Context, actor auth.Actor, saleID string, cmd MarkSoldCommand) (sale.Request, error) {
	if err := d.authorize(actor, auth.RoleAgency, auth.RoleAdmin); err != nil {
		return sale.Request{}, err
	}
	if err := d.validateCmd(cmd); err != nil {
		return sale.Request{}, err
	}
	return run(d, ctx, actor, "sale.mark_sold", func(ctx context.Context) (sale.Request, error) {
		return d.sales.MarkSold(ctx, saleID, sale.Buyer{
			Name:  cmd.BuyerName,
			Phone: cmd.BuyerPhone,
			Email: cmd.BuyerEmail,
		}, actor)
	})
}

func (d *Directory) SetCaseStatus(ctx context.Context, actor auth.Actor, caseID string, target notary.Status, notes string) (notary.Case, error) {
	if err := d.authorize(actor, auth.RoleNotary, auth.RoleAdmin); err != nil {
		return notary.Case{}, err
	}
	return run(d, ctx, actor, "notary.set_status", func(ctx context.Context) (notary.Case, error) {
		return d.cases.SetStatus(ctx, caseID, target, actor, notes)
	})
}

func (d *Directory) FinalizeCase(ctx context.Context, actor auth.Actor, caseID string) (notary.Case, error) {
	if err := d.authorize(actor, auth.RoleNotary); err != nil {
		return notary.Case{}, err
	}
	return run(d, ctx, actor, "notary.finalize", func(ctx context.Context) (notary.Case, error) {
		return d.cases.Finalize(ctx, caseID, actor)
	})
}

// AttachDocumentCommand references an already-uploaded file.
type AttachDocumentCommand struct {
	Name string `validate:"required"`
	Type string `validate:"required,oneof=deed_of_sale notarized_deed receipt other"`
	URI  string `validate:"required,uri"`
}

func (d *Directory) AttachDocument(ctx context.Context, actor auth.Actor, caseID string, cmd AttachDocumentCommand) (notary.Document, error) {
	if err := d.authorize(actor, auth.RoleNotary); err != nil {
		return notary.Document{}, err
	}
	if err := d.validateCmd(cmd); err != nil {
		return notary.Document{}, err
	}
	return run(d, ctx, actor, "notary.attach_document", func(ctx context.Context) (notary.Document, error) {
		return d.cases.AttachDocument(ctx, caseID, notary.AttachParams{
			Name: cmd.Name,
			Type: notary.DocumentType(cmd.Type),
			URI:  cmd.URI,
		}, actor)
	})
}

func (d *Directory) RemoveDocument(ctx context.Context, actor auth.Actor, caseID, docID string) error {
	if err := d.authorize(actor, auth.RoleNotary); err != nil {
		return err
	}
	_, err := run(d, ctx, actor, "notary.remove_document", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.cases.RemoveDocument(ctx, caseID, docID, actor)
	})
	return err
}

func (d *Directory) RegisterSubscription(ctx context.Context, actor auth.Actor, ref asset.Ref) (subscription.Subscription, error) {
	if err := d.authorize(actor, auth.RoleAdmin, auth.RoleAgency); err != nil {
		return subscription.Subscription{}, err
	}
	return run(d, ctx, actor, "subscription.register", func(ctx context.Context) (subscription.Subscription, error) {
		return d.subs.Register(ctx, ref, actor)
	})
}

// RenewSubscriptionCommand records one subscription payment.
type RenewSubscriptionCommand struct {
	AssetKind string          `validate:"required,oneof=property parcel"`
	AssetID   string          `validate:"required"`
	Amount    decimal.Decimal `validate:"required"`
	Method    string          `validate:"required,oneof=cash card transfer mobile_money"`
	Reference string          `validate:"omitempty"`
}

// RenewSubscription accepts owner-initiated online payments and
// admin-validated cash payments; the state change is identical, only the
// recorded method and actor differ.
func (d *Directory) RenewSubscription(ctx context.Context, actor auth.Actor, cmd RenewSubscriptionCommand) (subscription.Subscription, error) {
	if err := d.validateCmd(cmd); err != nil {
		return subscription.Subscription{}, err
	}
	cashLike := cmd.Method == "cash"
	switch {
	case actor.Role == auth.RoleAdmin:
	case actor.Role == auth.RoleOwner && !cashLike:
	default:
		return subscription.Subscription{}, fmt.Errorf("directory: renew via %s by %s: %w", cmd.Method, actor.Role, fault.ErrRoleDenied)
	}

	return run(d, ctx, actor, "subscription.renew", func(ctx context.Context) (subscription.Subscription, error) {
		return d.subs.RenewByPayment(ctx,
			asset.Ref{Kind: asset.Kind(cmd.AssetKind), ID: cmd.AssetID},
			cmd.Amount, cmd.Method, cmd.Reference, actor)
	})
}

func (d *Directory) DeactivateSubscription(ctx context.Context, actor auth.Actor, ref asset.Ref, reason string) (subscription.Subscription, error) {
	if err := d.authorize(actor, auth.RoleAdmin); err != nil {
		return subscription.Subscription{}, err
	}
	return run(d, ctx, actor, "subscription.deactivate", func(ctx context.Context) (subscription.Subscription, error) {
		return d.subs.Deactivate(ctx, ref, reason, actor)
	})
}

func (d *Directory) ReactivateSubscription(ctx context.Context, actor auth.Actor, ref asset.Ref) (subscription.Subscription, error) {
	if err := d.authorize(actor, auth.RoleAdmin); err != nil {
		return subscription.Subscription{}, err
	}
	return run(d, ctx, actor, "subscription.reactivate", func(ctx context.Context) (subscription.Subscription, error) {
		return d.subs.Reactivate(ctx, ref, actor)
	})
}

func (d *Directory) authorize(actor auth.Actor, roles ...auth.Role) error {
	if actor.ID == "" {
		return fmt.Errorf("directory: anonymous actor: %w", fault.ErrRoleDenied)
	}
	if !actor.HasAnyRole(roles...) {
		allowed := make([]string, len(roles))
		for i, r := range roles {
			allowed[i] = string(r)
		}
		return fmt.Errorf("directory: role %s not in {%s}: %w", actor.Role, strings.Join(allowed, ","), fault.ErrRoleDenied)
	}
	return nil
}

func (d *Directory) validateCmd(cmd any) error {
	if err := d.validate.Struct(cmd); err != nil {
		return fmt.Errorf("directory: %v: %w", err, fault.ErrInvalidInput)
	}
	return nil
}

// run executes one command, retrying exactly once when the engines report
// a commit-time conflict, and logs the outcome.
func run[T any](d *Directory, ctx context.Context, actor auth.Actor, op string, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if errors.Is(err, fault.ErrConflict) {
		d.log.Warn("command conflict, retrying once",
			zap.String("op", op),
			zap.String("actor_id", actor.ID))
		result, err = fn(ctx)
	}

	if err != nil {
		d.log.Info("command failed",
			zap.String("op", op),
			zap.String("actor_id", actor.ID),
			zap.String("role", string(actor.Role)),
			zap.Error(err))
		var zero T
		return zero, err
	}

	d.log.Info("command applied",
		zap.String("op", op),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)))
	return result, nil
}
