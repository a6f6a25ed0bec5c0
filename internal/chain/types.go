package chain

import (
	"context"
	"math/big"
)

// Purchase mirrors one escrowed record as held by the ledger. At most one of
// IsConfirmed/IsRefunded is ever true; once either is set the record is
// terminal.
type Purchase struct {
	Id          uint64
	Buyer       Address
	Seller      Address
	Amount      *big.Int
	Asset       Address
	IsConfirmed bool
	IsRefunded  bool
}

// Terminal reports whether the record can accept no further state change.
func (p *Purchase) Terminal() bool {
	return p.IsConfirmed || p.IsRefunded
}

// EventType identifies a ledger event.
type EventType string

const (
	EventPurchased EventType = "Purchased"
	EventConfirmed EventType = "Confirmed"
	EventRefunded  EventType = "Refunded"
)

// Event is one ledger event. Seq is strictly increasing per backend and is
// the reconciliation checkpoint unit. Buyer, Seller, Amount and Asset are
// populated for Purchased events only.
type Event struct {
	Seq        uint64
	Type       EventType
	PurchaseId uint64
	Buyer      Address
	Seller     Address
	Amount     *big.Int
	Asset      Address
}

// Backend is the low-level ledger capability object. It is injected into
// every component that talks to the chain; there is no process-wide handle.
// Submissions return a PendingTx whose finalization the caller awaits;
// abandoning the wait does not cancel the submitted operation.
type Backend interface {
	ChainId(ctx context.Context) (uint64, error)

	SubmitPurchase(ctx context.Context, from, seller Address, amount *big.Int, asset Address, value *big.Int) (*PendingTx, error)
	SubmitConfirm(ctx context.Context, from Address, purchaseId uint64) (*PendingTx, error)
	SubmitRefund(ctx context.Context, from Address, purchaseId uint64) (*PendingTx, error)

	GetPurchase(ctx context.Context, purchaseId uint64) (*Purchase, error)
	PurchaseCount(ctx context.Context) (uint64, error)

	Allowance(ctx context.Context, asset, owner, spender Address) (*big.Int, error)
	SubmitApprove(ctx context.Context, from, asset, spender Address, amount *big.Int) (*PendingTx, error)

	EventsSince(ctx context.Context, afterSeq uint64) ([]Event, error)
}
