// Package money holds the pure monetary computations used by the sale
// negotiation engine and the subscription manager. All amounts are exact
// decimals; rounding is round-half-up to the currency minor unit.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"estateflow/fault"
)

// minorUnitPlaces is the number of decimal places of the asset base
// currency. Amounts are rounded here, never on display.
const minorUnitPlaces = 2

var oneHundred = decimal.NewFromInt(100)

// ComputeCommission returns the agency commission for a sale price and a
// commission percentage in [0,100]. The result is rounded half-up to the
// currency minor unit.
func ComputeCommission(price, percentage decimal.Decimal) (decimal.Decimal, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("money: price must be positive: %w", fault.ErrInvalidInput)
	}
	if percentage.IsNegative() || percentage.GreaterThan(oneHundred) {
		return decimal.Zero, fmt.Errorf("money: percentage outside [0,100]: %w", fault.ErrInvalidInput)
	}

	// decimal.Round rounds half away from zero, which is half-up for the
	// non-negative amounts permitted here.
	return price.Mul(percentage).Div(oneHundred).Round(minorUnitPlaces), nil
}

// EffectivePrice returns the price negotiations currently stand at: the
// counter price while one is on the table, the requested price otherwise.
func EffectivePrice(requested decimal.Decimal, counter *decimal.Decimal) decimal.Decimal {
	if counter != nil {
		return *counter
	}
	return requested
}

// PaymentProgress reports how much of amountDue has been settled as a ratio
// in [0,1]. Over-payment clamps the ratio to 1 and is reported through the
// second return value rather than as an error.
func PaymentProgress(amountPaid, amountDue decimal.Decimal) (float64, bool, error) {
	if amountDue.LessThanOrEqual(decimal.Zero) {
		return 0, false, fmt.Errorf("money: amount due must be positive: %w", fault.ErrInvalidInput)
	}
	if amountPaid.IsNegative() {
		return 0, false, fmt.Errorf("money: amount paid must not be negative: %w", fault.ErrInvalidInput)
	}

	overpaid := amountPaid.GreaterThan(amountDue)
	if overpaid {
		amountPaid = amountDue
	}

	ratio, _ := amountPaid.Div(amountDue).Float64()
	return ratio, overpaid, nil
}
