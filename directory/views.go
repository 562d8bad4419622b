package directory

import (
	"context"
	"fmt"

	"estateflow/asset"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/notary"
	"estateflow/sale"
	"estateflow/subscription"
)

// Query views are read-only and open to any authenticated actor; list
// results are paginated by the underlying repositories.

func (d *Directory) GetSale(ctx context.Context, actor auth.Actor, saleID string) (sale.Request, error) {
	if err := authenticated(actor); err != nil {
		return sale.Request{}, err
	}
	return d.sales.GetByID(ctx, saleID)
}

func (d *Directory) ListSales(ctx context.Context, actor auth.Actor, filters sale.Filters) ([]sale.Request, int, error) {
	if err := authenticated(actor); err != nil {
		return nil, 0, err
	}
	// Owners only see their own requests.
	if actor.Role == auth.RoleOwner {
		filters.SellerID = actor.ID
	}
	return d.sales.List(ctx, filters)
}

func (d *Directory) GetCase(ctx context.Context, actor auth.Actor, caseID string) (notary.Case, []notary.Document, error) {
	if err := authenticated(actor); err != nil {
		return notary.Case{}, nil, err
	}
	return d.cases.GetCase(ctx, caseID)
}

func (d *Directory) ListCases(ctx context.Context, actor auth.Actor, filters notary.Filters) ([]notary.Case, int, error) {
	if err := authenticated(actor); err != nil {
		return nil, 0, err
	}
	// Notaries only see their own docket.
	if actor.Role == auth.RoleNotary {
		filters.NotaryID = actor.ID
	}
	return d.cases.List(ctx, filters)
}

func (d *Directory) GetSubscription(ctx context.Context, actor auth.Actor, ref asset.Ref) (subscription.Subscription, subscription.DerivedStatus, error) {
	if err := authenticated(actor); err != nil {
		return subscription.Subscription{}, "", err
	}
	return d.subs.Get(ctx, ref)
}

func (d *Directory) ListExpiringSubscriptions(ctx context.Context, actor auth.Actor, days, page, pageSize int) ([]subscription.Subscription, int, error) {
	if err := authenticated(actor); err != nil {
		return nil, 0, err
	}
	return d.subs.ListExpiringWithin(ctx, days, page, pageSize)
}

func authenticated(actor auth.Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("directory: anonymous actor: %w", fault.ErrRoleDenied)
	}
	return nil
}
