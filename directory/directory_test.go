package directory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"estateflow/asset"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/notary"
	"estateflow/sale"
	"estateflow/subscription"
)

var (
	owner     = auth.Actor{ID: "owner-1", Name: "Odile Owner", Role: auth.RoleOwner}
	agent     = auth.Actor{ID: "agent-1", Name: "Awa Agency", Role: auth.RoleAgency}
	admin     = auth.Actor{ID: "admin-1", Name: "Root", Role: auth.RoleAdmin}
	notaryAct = auth.Actor{ID: "notary-1", Name: "Maitre Ndiaye", Role: auth.RoleNotary}
	anonymous = auth.Actor{}

	villa = asset.Ref{Kind: asset.KindProperty, ID: "villa-12"}
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	sales *fakeSales
	cases *fakeCases
	subs  *fakeSubs
	dir   *Directory
}

func newFixture() *fixture {
	f := &fixture{
		sales: &fakeSales{},
		cases: &fakeCases{},
		subs:  &fakeSubs{},
	}
	f.dir = New(f.sales, f.cases, f.subs, zap.NewNop())
	return f
}

func submitCmd() SubmitSaleCommand {
	return SubmitSaleCommand{
		AssetKind:      "property",
		AssetID:        villa.ID,
		RequestedPrice: dec("50000000"),
	}
}

func TestRoleMatrix(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		call    func(f *fixture, actor auth.Actor) error
		allowed []auth.Actor
		denied  []auth.Actor
	}{
		{
			name: "submit sale",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.SubmitSale(ctx, a, submitCmd())
				return err
			},
			allowed: []auth.Actor{owner, agent},
			denied:  []auth.Actor{notaryAct, anonymous},
		},
		{
			name: "counter offer",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.CounterOffer(ctx, a, "sale-1", dec("45000000"))
				return err
			},
			allowed: []auth.Actor{agent, admin},
			denied:  []auth.Actor{owner, notaryAct},
		},
		{
			name: "approve sale",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.ApproveSale(ctx, a, "sale-1")
				return err
			},
			allowed: []auth.Actor{agent, admin},
			denied:  []auth.Actor{owner, notaryAct},
		},
		{
			name: "reject sale",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.RejectSale(ctx, a, "sale-1", "too low")
				return err
			},
			allowed: []auth.Actor{agent, admin},
			denied:  []auth.Actor{owner},
		},
		{
			name: "mark sold",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.MarkSold(ctx, a, "sale-1", MarkSoldCommand{BuyerName: "Bintou"})
				return err
			},
			allowed: []auth.Actor{agent, admin},
			denied:  []auth.Actor{owner, notaryAct},
		},
		{
			name: "set case status",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.SetCaseStatus(ctx, a, "case-1", notary.StatusInProgress, "")
				return err
			},
			allowed: []auth.Actor{notaryAct, admin},
			denied:  []auth.Actor{owner, agent},
		},
		{
			name: "finalize case",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.FinalizeCase(ctx, a, "case-1")
				return err
			},
			allowed: []auth.Actor{notaryAct},
			denied:  []auth.Actor{owner, agent, admin},
		},
		{
			name: "attach document",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.AttachDocument(ctx, a, "case-1", AttachDocumentCommand{
					Name: "deed.pdf", Type: "deed_of_sale", URI: "s3://docs/deed.pdf",
				})
				return err
			},
			allowed: []auth.Actor{notaryAct},
			denied:  []auth.Actor{agent, admin},
		},
		{
			name: "remove document",
			call: func(f *fixture, a auth.Actor) error {
				return f.dir.RemoveDocument(ctx, a, "case-1", "doc-1")
			},
			allowed: []auth.Actor{notaryAct},
			denied:  []auth.Actor{agent, admin},
		},
		{
			name: "register subscription",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.RegisterSubscription(ctx, a, villa)
				return err
			},
			allowed: []auth.Actor{admin, agent},
			denied:  []auth.Actor{owner, notaryAct},
		},
		{
			name: "deactivate subscription",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.DeactivateSubscription(ctx, a, villa, "fraud")
				return err
			},
			allowed: []auth.Actor{admin},
			denied:  []auth.Actor{owner, agent, notaryAct},
		},
		{
			name: "reactivate subscription",
			call: func(f *fixture, a auth.Actor) error {
				_, err := f.dir.ReactivateSubscription(ctx, a, villa)
				return err
			},
			allowed: []auth.Actor{admin},
			denied:  []auth.Actor{owner, agent, notaryAct},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, actor := range tc.allowed {
				assert.NoError(t, tc.call(newFixture(), actor), "role %s should be allowed", actor.Role)
			}
			for _, actor := range tc.denied {
				assert.ErrorIs(t, tc.call(newFixture(), actor), fault.ErrRoleDenied, "role %s should be denied", actor.Role)
			}
		})
	}
}

func TestRenewSubscription_RoleRules(t *testing.T) {
	ctx := context.Background()

	renew := func(f *fixture, actor auth.Actor, method string) error {
		_, err := f.dir.RenewSubscription(ctx, actor, RenewSubscriptionCommand{
			AssetKind: "property",
			AssetID:   villa.ID,
			Amount:    dec("120000"),
			Method:    method,
		})
		return err
	}

	// Admins validate any payment, including cash collected at the desk.
	assert.NoError(t, renew(newFixture(), admin, "cash"))
	assert.NoError(t, renew(newFixture(), admin, "card"))

	// Owners pay online; they cannot self-validate cash.
	assert.NoError(t, renew(newFixture(), owner, "card"))
	assert.NoError(t, renew(newFixture(), owner, "mobile_money"))
	assert.ErrorIs(t, renew(newFixture(), owner, "cash"), fault.ErrRoleDenied)

	assert.ErrorIs(t, renew(newFixture(), agent, "card"), fault.ErrRoleDenied)
	assert.ErrorIs(t, renew(newFixture(), notaryAct, "transfer"), fault.ErrRoleDenied)
}

func TestCommandValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("submit sale", func(t *testing.T) {
		f := newFixture()
		cmd := submitCmd()
		cmd.AssetKind = "castle"
		_, err := f.dir.SubmitSale(ctx, owner, cmd)
		assert.ErrorIs(t, err, fault.ErrInvalidInput)

		cmd = submitCmd()
		cmd.AssetID = ""
		_, err = f.dir.SubmitSale(ctx, owner, cmd)
		assert.ErrorIs(t, err, fault.ErrInvalidInput)
	})

	t.Run("mark sold buyer email", func(t *testing.T) {
		f := newFixture()
		_, err := f.dir.MarkSold(ctx, agent, "sale-1", MarkSoldCommand{
			BuyerName:  "Bintou",
			BuyerEmail: "not-an-email",
		})
		assert.ErrorIs(t, err, fault.ErrInvalidInput)
	})

	t.Run("attach document type", func(t *testing.T) {
		f := newFixture()
		_, err := f.dir.AttachDocument(ctx, notaryAct, "case-1", AttachDocumentCommand{
			Name: "x.pdf", Type: "selfie", URI: "s3://x",
		})
		assert.ErrorIs(t, err, fault.ErrInvalidInput)
	})

	t.Run("renew method", func(t *testing.T) {
		f := newFixture()
		_, err := f.dir.RenewSubscription(ctx, admin, RenewSubscriptionCommand{
			AssetKind: "property", AssetID: villa.ID, Amount: dec("100"), Method: "barter",
		})
		assert.ErrorIs(t, err, fault.ErrInvalidInput)
	})
}

func TestRun_RetriesConflictOnce(t *testing.T) {
	f := newFixture()
	f.sales.failures = 1

	req, err := f.dir.ApproveSale(context.Background(), agent, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, sale.StatusApproved, req.Status)
	assert.Equal(t, 2, f.sales.approveCalls)
}

func TestRun_DoesNotRetryTwice(t *testing.T) {
	f := newFixture()
	f.sales.failures = 2

	_, err := f.dir.ApproveSale(context.Background(), agent, "sale-1")
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.Equal(t, 2, f.sales.approveCalls)
}

func TestRun_DoesNotRetryOtherErrors(t *testing.T) {
	f := newFixture()
	f.sales.err = fmt.Errorf("sale: submitted -> sold: %w", fault.ErrIllegalTransition)

	_, err := f.dir.ApproveSale(context.Background(), agent, "sale-1")
	assert.ErrorIs(t, err, fault.ErrIllegalTransition)
	assert.Equal(t, 1, f.sales.approveCalls)
}

func TestListSales_OwnerScoped(t *testing.T) {
	f := newFixture()

	_, _, err := f.dir.ListSales(context.Background(), owner, sale.Filters{})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, f.sales.lastFilters.SellerID)

	_, _, err = f.dir.ListSales(context.Background(), agent, sale.Filters{})
	require.NoError(t, err)
	assert.Empty(t, f.sales.lastFilters.SellerID)
}

func TestListCases_NotaryScoped(t *testing.T) {
	f := newFixture()

	_, _, err := f.dir.ListCases(context.Background(), notaryAct, notary.Filters{})
	require.NoError(t, err)
	assert.Equal(t, notaryAct.ID, f.cases.lastFilters.NotaryID)

	_, _, err = f.dir.ListCases(context.Background(), admin, notary.Filters{})
	require.NoError(t, err)
	assert.Empty(t, f.cases.lastFilters.NotaryID)
}

func TestViews_RequireAuthentication(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.dir.GetSale(ctx, anonymous, "sale-1")
	assert.ErrorIs(t, err, fault.ErrRoleDenied)

	_, _, err = f.dir.GetCase(ctx, anonymous, "case-1")
	assert.ErrorIs(t, err, fault.ErrRoleDenied)

	_, _, err = f.dir.GetSubscription(ctx, anonymous, villa)
	assert.ErrorIs(t, err, fault.ErrRoleDenied)
}

// --- fake engines ---

type fakeSales struct {
	failures     int
	err          error
	approveCalls int
	lastFilters  sale.Filters
}

func (f *fakeSales) conflictOrErr() error {
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("sale: commit: %w", fault.ErrConflict)
	}
	return nil
}

func (f *fakeSales) Submit(ctx context.Context, params sale.SubmitParams, actor auth.Actor) (sale.Request, error) {
	if err := f.conflictOrErr(); err != nil {
		return sale.Request{}, err
	}
	return sale.Request{ID: "sale-1", Asset: params.Asset, SellerID: params.SellerID, Status: sale.StatusSubmitted}, nil
}

func (f *fakeSales) CounterOffer(ctx context.Context, id string, newPrice decimal.Decimal, actor auth.Actor) (sale.Request, error) {
	if err := f.conflictOrErr(); err != nil {
		return sale.Request{}, err
	}
	return sale.Request{ID: id, Status: sale.StatusCounterOffered, CounterPrice: &newPrice}, nil
}

func (f *fakeSales) Approve(ctx context.Context, id string, actor auth.Actor) (sale.Request, error) {
	f.approveCalls++
	if err := f.conflictOrErr(); err != nil {
		return sale.Request{}, err
	}
	return sale.Request{ID: id, Status: sale.StatusApproved}, nil
}

func (f *fakeSales) Reject(ctx context.Context, id, reason string, actor auth.Actor) (sale.Request, error) {
	if err := f.conflictOrErr(); err != nil {
		return sale.Request{}, err
	}
	return sale.Request{ID: id, Status: sale.StatusRejected, RejectionReason: &reason}, nil
}

func (f *fakeSales) MarkSold(ctx context.Context, id string, buyer sale.Buyer, actor auth.Actor) (sale.Request, error) {
	if err := f.conflictOrErr(); err != nil {
		return sale.Request{}, err
	}
	return sale.Request{ID: id, Status: sale.StatusSold, BuyerName: &buyer.Name}, nil
}

func (f *fakeSales) GetByID(ctx context.Context, id string) (sale.Request, error) {
	return sale.Request{ID: id}, nil
}

func (f *fakeSales) List(ctx context.Context, filters sale.Filters) ([]sale.Request, int, error) {
	f.lastFilters = filters
	return nil, 0, nil
}

type fakeCases struct {
	lastFilters notary.Filters
}

func (f *fakeCases) SetStatus(ctx context.Context, id string, target notary.Status, actor auth.Actor, notes string) (notary.Case, error) {
	return notary.Case{ID: id, Status: target}, nil
}

func (f *fakeCases) Finalize(ctx context.Context, id string, actor auth.Actor) (notary.Case, error) {
	return notary.Case{ID: id, Status: notary.StatusFinalized}, nil
}

func (f *fakeCases) AttachDocument(ctx context.Context, id string, params notary.AttachParams, actor auth.Actor) (notary.Document, error) {
	return notary.Document{ID: "doc-1", CaseID: id, Name: params.Name, Type: params.Type, URI: params.URI}, nil
}

func (f *fakeCases) RemoveDocument(ctx context.Context, id, docID string, actor auth.Actor) error {
	return nil
}

func (f *fakeCases) GetCase(ctx context.Context, id string) (notary.Case, []notary.Document, error) {
	return notary.Case{ID: id}, nil, nil
}

func (f *fakeCases) List(ctx context.Context, filters notary.Filters) ([]notary.Case, int, error) {
	f.lastFilters = filters
	return nil, 0, nil
}

type fakeSubs struct{}

func (f *fakeSubs) Register(ctx context.Context, ref asset.Ref, actor auth.Actor) (subscription.Subscription, error) {
	return subscription.Subscription{Asset: ref}, nil
}

func (f *fakeSubs) RenewByPayment(ctx context.Context, ref asset.Ref, amount decimal.Decimal, method, reference string, actor auth.Actor) (subscription.Subscription, error) {
	return subscription.Subscription{Asset: ref, Visible: true}, nil
}

func (f *fakeSubs) Deactivate(ctx context.Context, ref asset.Ref, reason string, actor auth.Actor) (subscription.Subscription, error) {
	return subscription.Subscription{Asset: ref, AdminOverride: true}, nil
}

func (f *fakeSubs) Reactivate(ctx context.Context, ref asset.Ref, actor auth.Actor) (subscription.Subscription, error) {
	return subscription.Subscription{Asset: ref, Visible: true}, nil
}

func (f *fakeSubs) Get(ctx context.Context, ref asset.Ref) (subscription.Subscription, subscription.DerivedStatus, error) {
	return subscription.Subscription{Asset: ref}, subscription.StatusActive, nil
}

func (f *fakeSubs) ListExpiringWithin(ctx context.Context, days, page, pageSize int) ([]subscription.Subscription, int, error) {
	return nil, 0, nil
}
