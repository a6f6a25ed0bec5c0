package market

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits scales a decimal display price into the asset's smallest-unit
// integer representation. The scaling is exact: a price with more
// fractional digits than the asset carries is rejected, never rounded.
func ToBaseUnits(price decimal.Decimal, decimals int32) (*big.Int, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative, got %s", price.String())
	}

	scaled := price.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("price %s has more precision than the asset's %d decimals", price.String(), decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits converts a smallest-unit integer amount back into its
// decimal display form. Exact by construction.
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals)
}
