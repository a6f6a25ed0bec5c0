package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is the off-chain mirror of an item offered for sale. It is created
// by a seller and marked sold by the reconciliation worker once the
// corresponding on-chain purchase event is observed. PurchaseId is nil until
// that event arrives; IsSold is monotonic and never reverts.
type Listing struct {
	Id               string          `db:"id" json:"id"`
	SellerWallet     string          `db:"seller_wallet" json:"seller_wallet"`
	Title            string          `db:"title" json:"title"`
	Description      string          `db:"description" json:"description"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Asset            string          `db:"asset" json:"asset"`
	IsSold           bool            `db:"is_sold" json:"is_sold"`
	PurchaseId       *uint64         `db:"purchase_id" json:"purchase_id"`
	SettlementStatus string          `db:"settlement_status" json:"settlement_status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// UserRecord correlates an authenticated actor to a ledger-level identity.
type UserRecord struct {
	Id        string    `db:"id" json:"id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EscrowMovement is one leg of the off-chain audit trail of escrowed funds:
// buyer -> escrow on purchase, escrow -> seller on confirm, escrow -> buyer
// on refund. Movements are derived from ledger events and deduplicated on
// (purchase id, kind).
type EscrowMovement struct {
	Id          string          `db:"id" json:"id"`
	PurchaseId  uint64          `db:"purchase_id" json:"purchase_id"`
	Kind        string          `db:"kind" json:"kind"`
	FromAccount string          `db:"from_account" json:"from_account"`
	ToAccount   string          `db:"to_account" json:"to_account"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Asset       string          `db:"asset" json:"asset"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
