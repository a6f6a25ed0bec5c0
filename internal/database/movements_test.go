package database

import (
	"context"
	"errors"
	"testing"

	"github.com/davidopascual/coinlist/internal/catalog"

	"github.com/shopspring/decimal"
)

func TestRecordEscrowMovementDeduplicates(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	params := catalog.EscrowMovementParams{
		PurchaseId:  1,
		Kind:        catalog.MovementLock,
		FromAccount: "0x1111111111111111111111111111111111111111",
		ToAccount:   "0xB87C071FFC8B11721EDE6B4FD6395E2CF4B164A0",
		Amount:      decimal.RequireFromString("100"),
		Asset:       testUsdcAsset,
	}
	if err := service.RecordEscrowMovement(ctx, params); err != nil {
		t.Fatalf("RecordEscrowMovement failed: %v", err)
	}

	err := service.RecordEscrowMovement(ctx, params)
	if !errors.Is(err, catalog.ErrDuplicateMovement) {
		t.Fatalf("Expected ErrDuplicateMovement, got %v", err)
	}

	// A different kind for the same purchase is a distinct movement.
	release := params
	release.Kind = catalog.MovementRelease
	release.FromAccount, release.ToAccount = release.ToAccount, "0x2222222222222222222222222222222222222222"
	if err := service.RecordEscrowMovement(ctx, release); err != nil {
		t.Fatalf("Release movement failed: %v", err)
	}

	movements, err := service.GetEscrowMovements(ctx, 1)
	if err != nil {
		t.Fatalf("GetEscrowMovements failed: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("Expected 2 movements, got %d", len(movements))
	}
	for _, m := range movements {
		if !m.Amount.Equal(decimal.RequireFromString("100")) {
			t.Errorf("Expected amount 100, got %s", m.Amount)
		}
		if m.ToAccount == "0xB87C071FFC8B11721EDE6B4FD6395E2CF4B164A0" {
			t.Error("Expected accounts lowercased at the store boundary")
		}
	}
}

func TestGetEscrowMovementsEmpty(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	movements, err := service.GetEscrowMovements(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetEscrowMovements failed: %v", err)
	}
	if len(movements) != 0 {
		t.Errorf("Expected no movements, got %d", len(movements))
	}
}
