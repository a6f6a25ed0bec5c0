package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

var (
	testContract = MustParseAddress("0xb87C071ffc8B11721EdE6b4fD6395E2Cf4b164A0")
	testToken    = MustParseAddress("0x6fBf2cb78C2Aa07c679c4A9af84E03EbfB69161e")
	testBuyer    = MustParseAddress("0x1111111111111111111111111111111111111111")
	testSeller   = MustParseAddress("0x2222222222222222222222222222222222222222")
	testOther    = MustParseAddress("0x3333333333333333333333333333333333333333")
)

func newTestEscrow(t *testing.T, signer Address) (*Escrow, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(84532, testContract)
	escrow := NewEscrow(EscrowConfig{
		Backend:  backend,
		Contract: testContract,
		Signer:   signer,
		ChainId:  84532,
	})
	return escrow, backend
}

func waitReceipt(t *testing.T, tx *PendingTx) *Receipt {
	t.Helper()
	receipt, err := tx.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return receipt
}

func TestNativePurchaseAssignsIdFromEvent(t *testing.T) {
	escrow, _ := newTestEscrow(t, testBuyer)
	ctx := context.Background()
	amount := big.NewInt(1_000_000_000_000_000_000)

	tx, err := escrow.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	receipt := waitReceipt(t, tx)
	ev, ok := receipt.PurchasedEvent()
	if !ok {
		t.Fatal("receipt has no Purchased event")
	}
	if ev.PurchaseId != 1 {
		t.Errorf("Expected purchase id 1, got %d", ev.PurchaseId)
	}
	if ev.Buyer != testBuyer || ev.Seller != testSeller {
		t.Errorf("Event parties wrong: buyer %s seller %s", ev.Buyer, ev.Seller)
	}

	p, err := escrow.GetPurchase(ctx, ev.PurchaseId)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if p.Amount.Cmp(amount) != 0 {
		t.Errorf("Expected amount %s, got %s", amount, p.Amount)
	}
	if p.Terminal() {
		t.Error("fresh purchase must not be terminal")
	}
}

func TestNativePurchaseWrongValueReverts(t *testing.T) {
	escrow, backend := newTestEscrow(t, testBuyer)

	_, err := escrow.Purchase(context.Background(), testSeller, big.NewInt(100), ZeroAddress, big.NewInt(99))
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError, got %v", err)
	}
	if backend.PurchaseSubmissions() != 0 {
		t.Errorf("Reverted purchase must not count as an applied submission")
	}
}

func TestTokenPurchaseConsumesAllowance(t *testing.T) {
	escrow, backend := newTestEscrow(t, testBuyer)
	ctx := context.Background()
	amount := big.NewInt(100_000_000)

	backend.SetAllowance(testToken, testBuyer, testContract, amount)

	tx, err := escrow.Purchase(ctx, testSeller, amount, testToken, nil)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	waitReceipt(t, tx)

	remaining, err := escrow.Allowance(ctx, testToken, testBuyer)
	if err != nil {
		t.Fatalf("Allowance failed: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Errorf("Expected allowance fully consumed, got %s", remaining)
	}
}

func TestTokenPurchaseWithoutAllowanceReverts(t *testing.T) {
	escrow, _ := newTestEscrow(t, testBuyer)

	_, err := escrow.Purchase(context.Background(), testSeller, big.NewInt(100), testToken, nil)
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError, got %v", err)
	}
}

func TestSecondPurchaseOfSameSaleReverts(t *testing.T) {
	buyerOne, backend := newTestEscrow(t, testBuyer)
	amount := big.NewInt(500)
	ctx := context.Background()

	tx, err := buyerOne.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("First purchase failed: %v", err)
	}
	waitReceipt(t, tx)

	buyerTwo := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testOther, ChainId: 84532})
	_, err = buyerTwo.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError for the losing buyer, got %v", err)
	}
}

func TestConfirmThenRefundIsTerminal(t *testing.T) {
	buyer, backend := newTestEscrow(t, testBuyer)
	seller := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testSeller, ChainId: 84532})
	ctx := context.Background()
	amount := big.NewInt(42)

	tx, err := buyer.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	receipt := waitReceipt(t, tx)
	ev, _ := receipt.PurchasedEvent()

	confirmTx, err := buyer.ConfirmReceipt(ctx, ev.PurchaseId)
	if err != nil {
		t.Fatalf("ConfirmReceipt failed: %v", err)
	}
	waitReceipt(t, confirmTx)

	p, err := buyer.GetPurchase(ctx, ev.PurchaseId)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if !p.IsConfirmed || p.IsRefunded {
		t.Fatalf("Expected confirmed and not refunded, got confirmed=%v refunded=%v", p.IsConfirmed, p.IsRefunded)
	}

	_, err = seller.Refund(ctx, ev.PurchaseId)
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError refunding a terminal purchase, got %v", err)
	}
}

func TestRefundThenConfirmIsTerminal(t *testing.T) {
	buyer, backend := newTestEscrow(t, testBuyer)
	seller := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testSeller, ChainId: 84532})
	ctx := context.Background()
	amount := big.NewInt(42)

	tx, err := buyer.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	receipt := waitReceipt(t, tx)
	ev, _ := receipt.PurchasedEvent()

	refundTx, err := seller.Refund(ctx, ev.PurchaseId)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	waitReceipt(t, refundTx)

	_, err = buyer.ConfirmReceipt(ctx, ev.PurchaseId)
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError confirming a refunded purchase, got %v", err)
	}

	p, err := buyer.GetPurchase(ctx, ev.PurchaseId)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if p.IsConfirmed && p.IsRefunded {
		t.Fatal("confirmed and refunded must never both be true")
	}
	if !p.IsRefunded {
		t.Error("Expected refunded purchase")
	}
}

func TestConfirmByNonBuyerReverts(t *testing.T) {
	buyer, backend := newTestEscrow(t, testBuyer)
	ctx := context.Background()
	amount := big.NewInt(7)

	tx, err := buyer.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	receipt := waitReceipt(t, tx)
	ev, _ := receipt.PurchasedEvent()

	stranger := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testOther, ChainId: 84532})
	_, err = stranger.ConfirmReceipt(ctx, ev.PurchaseId)
	var reverted *RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("Expected RevertedError, got %v", err)
	}
}

func TestWrongNetworkRefusesDistinctly(t *testing.T) {
	backend := NewMemoryBackend(1, testContract)
	escrow := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testBuyer, ChainId: 84532})

	_, err := escrow.Purchase(context.Background(), testSeller, big.NewInt(1), ZeroAddress, big.NewInt(1))
	if !errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("Expected ErrWrongNetwork, got %v", err)
	}
	var reverted *RevertedError
	var submission *SubmissionError
	if errors.As(err, &reverted) || errors.As(err, &submission) {
		t.Error("network mismatch must be distinct from transactional errors")
	}
}

func TestReadFailureIsReadError(t *testing.T) {
	escrow, backend := newTestEscrow(t, testBuyer)
	backend.FailReads(errors.New("node unreachable"))

	_, err := escrow.Allowance(context.Background(), testToken, testBuyer)
	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("Expected ReadError, got %v", err)
	}
}

func TestSubmitFailureIsSubmissionError(t *testing.T) {
	escrow, backend := newTestEscrow(t, testBuyer)
	backend.FailSubmissions(errors.New("connection refused"))

	_, err := escrow.Purchase(context.Background(), testSeller, big.NewInt(1), ZeroAddress, big.NewInt(1))
	var submission *SubmissionError
	if !errors.As(err, &submission) {
		t.Fatalf("Expected SubmissionError, got %v", err)
	}
}

func TestGetPurchaseUnknownId(t *testing.T) {
	escrow, _ := newTestEscrow(t, testBuyer)

	_, err := escrow.GetPurchase(context.Background(), 99)
	if !errors.Is(err, ErrUnknownPurchase) {
		t.Fatalf("Expected ErrUnknownPurchase, got %v", err)
	}
}

func TestGatedFinalityExposesSubmittedState(t *testing.T) {
	escrow, backend := newTestEscrow(t, testBuyer)
	backend.GateFinality()
	ctx := context.Background()
	amount := big.NewInt(10)

	tx, err := escrow.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if tx.Status() != TxSubmitted {
		t.Fatalf("Expected submitted status, got %v", tx.Status())
	}

	// An abandoned wait returns ctx.Err but does not cancel the operation.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := tx.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled from abandoned wait, got %v", err)
	}

	if !backend.ReleaseNext() {
		t.Fatal("Expected a held submission to release")
	}
	if tx.Status() != TxFinalizedOk {
		t.Fatalf("Expected finalized-ok after release, got %v", tx.Status())
	}

	// The event exists for reconciliation even though no caller waited.
	events, err := escrow.EventsSince(ctx, 0)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventPurchased {
		t.Fatalf("Expected one Purchased event, got %v", events)
	}
}

func TestGatedRaceFinalizesLoserAsFailed(t *testing.T) {
	buyerOne, backend := newTestEscrow(t, testBuyer)
	buyerTwo := NewEscrow(EscrowConfig{Backend: backend, Contract: testContract, Signer: testOther, ChainId: 84532})
	backend.GateFinality()
	ctx := context.Background()
	amount := big.NewInt(10)

	txOne, err := buyerOne.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("First purchase failed: %v", err)
	}
	txTwo, err := buyerTwo.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Second purchase submission failed: %v", err)
	}

	backend.ReleaseNext()
	backend.ReleaseNext()

	if txOne.Status() != TxFinalizedOk {
		t.Errorf("Expected winner finalized-ok, got %v", txOne.Status())
	}
	if txTwo.Status() != TxFinalizedFailed {
		t.Errorf("Expected loser finalized-failed, got %v", txTwo.Status())
	}
}

func TestEventsSinceCheckpointFilters(t *testing.T) {
	escrow, _ := newTestEscrow(t, testBuyer)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		amount := big.NewInt(i * 100)
		tx, err := escrow.Purchase(ctx, testSeller, amount, ZeroAddress, amount)
		if err != nil {
			t.Fatalf("Purchase %d failed: %v", i, err)
		}
		waitReceipt(t, tx)
	}

	events, err := escrow.EventsSince(ctx, 1)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Errorf("Unexpected sequence ordering: %d, %d", events[0].Seq, events[1].Seq)
	}
}
