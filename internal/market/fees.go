package market

import "math/big"

// feeDenominator converts basis points into a fraction.
const feeDenominator = 10_000

// Fee computes the marketplace fee on a base-unit amount at the given
// basis points, truncated toward zero. Pure integer arithmetic: exact for
// zero, the smallest unit, and the largest representable amounts alike.
// Display-only; the contract applies the authoritative fee on release.
func Fee(amount *big.Int, feeBps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(feeBps))
	return fee.Quo(fee, big.NewInt(feeDenominator))
}

// TotalWithFee returns amount plus its fee.
func TotalWithFee(amount *big.Int, feeBps int64) *big.Int {
	return new(big.Int).Add(amount, Fee(amount, feeBps))
}
