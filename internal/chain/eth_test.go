package chain

import (
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func TestDecodePurchaseResult(t *testing.T) {
	buyer := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	out := []interface{}{buyer, seller, big.NewInt(100), ethcommon.Address{}, true, false}

	purchase, err := decodePurchaseResult(7, out)
	if err != nil {
		t.Fatalf("decodePurchaseResult failed: %v", err)
	}
	if purchase.Id != 7 || purchase.Buyer != Address(buyer) || purchase.Seller != Address(seller) {
		t.Errorf("Decoded purchase fields wrong: %+v", purchase)
	}
	if purchase.Amount.Cmp(big.NewInt(100)) != 0 || !purchase.IsConfirmed || purchase.IsRefunded {
		t.Errorf("Decoded purchase state wrong: %+v", purchase)
	}
}

func TestDecodePurchaseResultZeroBuyerIsUnknown(t *testing.T) {
	out := []interface{}{ethcommon.Address{}, ethcommon.Address{}, big.NewInt(0), ethcommon.Address{}, false, false}
	if _, err := decodePurchaseResult(404, out); !errors.Is(err, ErrUnknownPurchase) {
		t.Errorf("Expected ErrUnknownPurchase, got %v", err)
	}
}

func TestDecodePurchaseResultRejectsMalformedFields(t *testing.T) {
	buyer := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	good := []interface{}{buyer, buyer, big.NewInt(1), ethcommon.Address{}, false, false}

	if _, err := decodePurchaseResult(1, good[:5]); err == nil {
		t.Error("Expected arity error for short result")
	}

	for i := range good {
		malformed := make([]interface{}, len(good))
		copy(malformed, good)
		malformed[i] = "not the right type"
		if _, err := decodePurchaseResult(1, malformed); err == nil {
			t.Errorf("Expected type error for malformed field %d", i)
		}
	}
}
