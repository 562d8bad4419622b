package sale

import (
	"time"

	"github.com/shopspring/decimal"

	"estateflow/asset"
)

// Status is the closed set of sale negotiation states. Sold and rejected
// are terminal.
type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusCounterOffered Status = "counter_offered"
	StatusApproved       Status = "approved"
	StatusSold           Status = "sold"
	StatusRejected       Status = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusSold || s == StatusRejected
}

// canTransition is the single place new sale states can be reached from.
func canTransition(from, to Status) bool {
	switch from {
	case StatusSubmitted:
		return to == StatusCounterOffered || to == StatusApproved || to == StatusRejected
	case StatusCounterOffered:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusSold
	default:
		return false
	}
}

// Buyer identifies the purchaser recorded when a request is marked sold.
type Buyer struct {
	Name  string
	Phone string
	Email string
}

// Request mirrors the sale_requests table.
//
// CounterPrice is non-nil only while status is counter_offered.
// EffectivePrice tracks the price negotiations stand at; CommissionAmount
// is always recomputed against it on every transition that changes it.
type Request struct {
	ID                   string
	Asset                asset.Ref
	SellerID             string
	RequestedPrice       decimal.Decimal
	CounterPrice         *decimal.Decimal
	EffectivePrice       decimal.Decimal
	CommissionPercentage decimal.Decimal
	CommissionAmount     decimal.Decimal
	Status               Status
	BuyerName            *string
	BuyerPhone           *string
	BuyerEmail           *string
	RejectionReason      *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Filters drives the status-scoped list view.
type Filters struct {
	Status    Status
	SellerID  string
	AssetKind asset.Kind
	Page      int
	PageSize  int
}
