package market

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestToBaseUnitsNativePrecision(t *testing.T) {
	amount, err := ToBaseUnits(mustDecimal(t, "1.5"), 18)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	expected, _ := new(big.Int).SetString("1500000000000000000", 10)
	if amount.Cmp(expected) != 0 {
		t.Errorf("Expected %s, got %s", expected, amount)
	}
}

func TestToBaseUnitsTokenPrecision(t *testing.T) {
	amount, err := ToBaseUnits(mustDecimal(t, "100"), 6)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	if amount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("Expected 100000000, got %s", amount)
	}
}

func TestToBaseUnitsRejectsExcessPrecision(t *testing.T) {
	// 7 fractional digits cannot be represented in 6 decimals; rounding
	// would silently change the charged amount.
	if _, err := ToBaseUnits(mustDecimal(t, "0.0000001"), 6); err == nil {
		t.Fatal("Expected error for sub-unit precision")
	}
}

func TestToBaseUnitsRejectsNegative(t *testing.T) {
	if _, err := ToBaseUnits(mustDecimal(t, "-1"), 18); err == nil {
		t.Fatal("Expected error for negative price")
	}
}

func TestToBaseUnitsZero(t *testing.T) {
	amount, err := ToBaseUnits(decimal.Zero, 18)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	if amount.Sign() != 0 {
		t.Errorf("Expected 0, got %s", amount)
	}
}

func TestFromBaseUnitsRoundTrip(t *testing.T) {
	price := mustDecimal(t, "123.456789")
	amount, err := ToBaseUnits(price, 6)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	back := FromBaseUnits(amount, 6)
	if !back.Equal(price) {
		t.Errorf("Round trip changed value: %s -> %s", price, back)
	}
}
