package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"estateflow/asset"
)

// DerivedStatus is a read-time classification, never persisted. Deriving
// it from the stored fields on every read removes staleness bugs by
// construction.
type DerivedStatus string

const (
	StatusActive       DerivedStatus = "active"
	StatusExpiringSoon DerivedStatus = "expiring_soon"
	StatusExpired      DerivedStatus = "expired"
	StatusDeactivated  DerivedStatus = "deactivated"
)

// Subscription mirrors the subscriptions table. One row per asset;
// AdminOverride records an explicit administrator suspension that the
// expiration sweep must not undo.
type Subscription struct {
	Asset                asset.Ref
	ExpirationDate       time.Time
	Visible              bool
	AdminOverride        bool
	LastPaymentAmount    *decimal.Decimal
	LastPaymentMethod    *string
	LastPaymentReference *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DeriveStatus computes the lifecycle status from stored fields.
func DeriveStatus(sub Subscription, now time.Time, expiringSoonHorizon time.Duration) DerivedStatus {
	if sub.AdminOverride {
		return StatusDeactivated
	}
	if !now.Before(sub.ExpirationDate) {
		return StatusExpired
	}
	if sub.ExpirationDate.Sub(now) <= expiringSoonHorizon {
		return StatusExpiringSoon
	}
	return StatusActive
}

// ListingEligible reports whether the derived status permits listing the
// asset for sale.
func ListingEligible(sub Subscription, now time.Time, expiringSoonHorizon time.Duration) bool {
	switch DeriveStatus(sub, now, expiringSoonHorizon) {
	case StatusActive, StatusExpiringSoon:
		return true
	default:
		return false
	}
}
