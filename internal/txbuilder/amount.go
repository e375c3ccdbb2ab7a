package txbuilder

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/gateway-fm/xosactivity/internal/errs"
)

// ToUnits converts a whole-unit amount into the smallest unit, truncating
// digits beyond decimals.
func ToUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

// FromUnits converts a smallest-unit amount into whole units.
func FromUnits(units *big.Int, decimals uint8) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}

// FormatUnits renders a smallest-unit amount as a decimal string.
func FormatUnits(units *big.Int, decimals uint8) string {
	return FromUnits(units, decimals).String()
}

// ParseAmount parses a positive decimal string in whole units.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.InvalidInput(field, "%q is not a number", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, errs.InvalidInput(field, "must be positive, got %s", s)
	}
	return d, nil
}
