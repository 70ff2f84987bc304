package domain

import "github.com/shopspring/decimal"

// MaxUnitAmount is the largest unit amount the gateway accepts.
const MaxUnitAmount = 99_999_999

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount to cents, rounding half away from
// zero. Non-positive results are rejected.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := amount.Mul(hundred).Round(0)
	if !minor.IsPositive() || minor.GreaterThan(decimal.NewFromInt(MaxUnitAmount)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}
