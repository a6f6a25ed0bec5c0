package catalog

import (
	"context"
	"errors"

	"github.com/davidopascual/coinlist/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrListingNotFound    = errors.New("no listing found")
	ErrListingSold        = errors.New("listing already sold")
	ErrPurchaseMismatch   = errors.New("listing bound to a different purchase")
	ErrSettlementConflict = errors.New("conflicting terminal settlement state")
	ErrDuplicateMovement  = errors.New("duplicate escrow movement")
	ErrUserNotFound       = errors.New("no user found for wallet")
)

// Settlement status values mirrored from the ledger's three-state purchase
// record. A listing only carries one once a purchase has been bound to it.
const (
	SettlementPending   = "pending"
	SettlementConfirmed = "confirmed"
	SettlementRefunded  = "refunded"
)

// Escrow movement kinds. Lock records the buyer's funds entering escrow,
// release their payout to the seller, refund their return to the buyer.
const (
	MovementLock    = "lock"
	MovementRelease = "release"
	MovementRefund  = "refund"
)

// CreateListingParams contains the parameters for publishing a listing.
type CreateListingParams struct {
	SellerWallet string
	Title        string
	Description  string
	Price        decimal.Decimal
	Asset        string // payment asset address, zero address for native
}

// UpdateListingParams contains the mutable fields of an open listing.
type UpdateListingParams struct {
	ListingId   string
	Title       string
	Description string
	Price       decimal.Decimal
	Asset       string
}

// EscrowMovementParams captures one ledger-observed value movement for the
// audit subledger. (PurchaseId, Kind) is the idempotency key: replaying the
// same event must not produce a second row.
type EscrowMovementParams struct {
	PurchaseId  uint64
	Kind        string
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	Asset       string
}

// Store defines the contract the catalog mirror backend must satisfy. The
// mirror is derived state: every mutation below is driven either by a user
// managing their listings or by the reconciler replaying ledger events, and
// the event-driven ones are idempotent so replays converge instead of
// corrupting.
type Store interface {
	// --- Users ---
	GetUsers(ctx context.Context) ([]models.UserRecord, error)
	GetUserByWallet(ctx context.Context, wallet string) (*models.UserRecord, error)
	CreateUser(ctx context.Context, userId, wallet string) (*models.UserRecord, error)

	// --- Listings ---
	CreateListing(ctx context.Context, params CreateListingParams) (*models.Listing, error)
	GetListingById(ctx context.Context, listingId string) (*models.Listing, error)
	GetListings(ctx context.Context, onlyOpen bool) ([]models.Listing, error)
	GetListingsBySeller(ctx context.Context, sellerWallet string) ([]models.Listing, error)
	UpdateListing(ctx context.Context, params UpdateListingParams) (*models.Listing, error)
	FindListingByPurchaseId(ctx context.Context, purchaseId uint64) (*models.Listing, error)
	FindOpenListings(ctx context.Context, sellerWallet, asset string) ([]models.Listing, error)
	MarkListingSold(ctx context.Context, listingId string, purchaseId uint64) error
	SetSettlementStatus(ctx context.Context, purchaseId uint64, status string) error

	// --- Escrow movements ---
	RecordEscrowMovement(ctx context.Context, params EscrowMovementParams) error
	GetEscrowMovements(ctx context.Context, purchaseId uint64) ([]models.EscrowMovement, error)

	// --- Reconciliation checkpoint ---
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SetCheckpoint(ctx context.Context, name string, seq uint64) error

	// --- Lifecycle ---
	Close()
}
