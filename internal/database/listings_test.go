package database

import (
	"context"
	"errors"
	"testing"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/shopspring/decimal"
)

const (
	testSellerWallet = "0x2222222222222222222222222222222222222222"
	testUsdcAsset    = "0x6fbf2cb78c2aa07c679c4a9af84e03ebfb69161e"
	nativeAsset      = "0x0000000000000000000000000000000000000000"
)

func createTestListing(t *testing.T, service *Service, price string, asset string) *models.Listing {
	t.Helper()
	listing, err := service.CreateListing(context.Background(), catalog.CreateListingParams{
		SellerWallet: testSellerWallet,
		Title:        "Vintage synthesizer",
		Description:  "Working condition, original case",
		Price:        decimal.RequireFromString(price),
		Asset:        asset,
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	return listing
}

func TestCreateAndGetListing(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "100", testUsdcAsset)
	if listing.IsSold {
		t.Error("Fresh listing must not be sold")
	}
	if listing.PurchaseId != nil {
		t.Error("Fresh listing must have no purchase bound")
	}
	if listing.SettlementStatus != "" {
		t.Errorf("Fresh listing must have no settlement status, got %q", listing.SettlementStatus)
	}

	fetched, err := service.GetListingById(ctx, listing.Id)
	if err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}
	if !fetched.Price.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected price 100, got %s", fetched.Price)
	}
	if fetched.SellerWallet != testSellerWallet {
		t.Errorf("Expected seller %s, got %s", testSellerWallet, fetched.SellerWallet)
	}
}

func TestListingPricePreservesRepresentation(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	// "19.90" and "19.9" are equal decimals but different strings; the
	// store must hand back exactly what the seller wrote.
	listing := createTestListing(t, service, "19.90", testUsdcAsset)
	fetched, err := service.GetListingById(context.Background(), listing.Id)
	if err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}
	if fetched.Price.String() != "19.90" {
		t.Errorf("Expected price string 19.90, got %s", fetched.Price.String())
	}
}

func TestCreateListingRejectsNonPositivePrice(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.CreateListing(context.Background(), catalog.CreateListingParams{
		SellerWallet: testSellerWallet,
		Title:        "Free item",
		Price:        decimal.Zero,
		Asset:        nativeAsset,
	})
	if err == nil {
		t.Fatal("Expected error for zero price")
	}
}

func TestMarkListingSoldIsIdempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "1.5", nativeAsset)
	if err := service.MarkListingSold(ctx, listing.Id, 7); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}
	// Replaying the same event must converge, not fail.
	if err := service.MarkListingSold(ctx, listing.Id, 7); err != nil {
		t.Fatalf("Replayed MarkListingSold failed: %v", err)
	}

	fetched, err := service.GetListingById(ctx, listing.Id)
	if err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}
	if !fetched.IsSold {
		t.Error("Expected listing sold")
	}
	if fetched.PurchaseId == nil || *fetched.PurchaseId != 7 {
		t.Errorf("Expected purchase 7 bound, got %v", fetched.PurchaseId)
	}
	if fetched.SettlementStatus != catalog.SettlementPending {
		t.Errorf("Expected pending settlement, got %q", fetched.SettlementStatus)
	}
}

func TestMarkListingSoldRejectsDifferentPurchase(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "1.5", nativeAsset)
	if err := service.MarkListingSold(ctx, listing.Id, 7); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	err := service.MarkListingSold(ctx, listing.Id, 8)
	if !errors.Is(err, catalog.ErrPurchaseMismatch) {
		t.Fatalf("Expected ErrPurchaseMismatch, got %v", err)
	}
}

func TestMarkListingSoldUnknownListing(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	err := service.MarkListingSold(context.Background(), "missing", 1)
	if !errors.Is(err, catalog.ErrListingNotFound) {
		t.Fatalf("Expected ErrListingNotFound, got %v", err)
	}
}

func TestUpdateListingRejectedAfterSold(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "100", testUsdcAsset)
	if err := service.MarkListingSold(ctx, listing.Id, 3); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	_, err := service.UpdateListing(ctx, catalog.UpdateListingParams{
		ListingId: listing.Id,
		Title:     "Vintage synthesizer (price drop)",
		Price:     decimal.RequireFromString("90"),
		Asset:     testUsdcAsset,
	})
	if !errors.Is(err, catalog.ErrListingSold) {
		t.Fatalf("Expected ErrListingSold, got %v", err)
	}
}

func TestUpdateOpenListing(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	listing := createTestListing(t, service, "100", testUsdcAsset)
	updated, err := service.UpdateListing(context.Background(), catalog.UpdateListingParams{
		ListingId:   listing.Id,
		Title:       "Vintage synthesizer (serviced)",
		Description: listing.Description,
		Price:       decimal.RequireFromString("120"),
		Asset:       testUsdcAsset,
	})
	if err != nil {
		t.Fatalf("UpdateListing failed: %v", err)
	}
	if !updated.Price.Equal(decimal.RequireFromString("120")) {
		t.Errorf("Expected price 120, got %s", updated.Price)
	}
}

func TestSettlementStatusLifecycle(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "1.5", nativeAsset)
	if err := service.MarkListingSold(ctx, listing.Id, 5); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	if err := service.SetSettlementStatus(ctx, 5, catalog.SettlementConfirmed); err != nil {
		t.Fatalf("SetSettlementStatus failed: %v", err)
	}
	// Same status replayed: no-op.
	if err := service.SetSettlementStatus(ctx, 5, catalog.SettlementConfirmed); err != nil {
		t.Fatalf("Replayed SetSettlementStatus failed: %v", err)
	}
	// Older pending event replayed after the terminal one: no-op.
	if err := service.SetSettlementStatus(ctx, 5, catalog.SettlementPending); err != nil {
		t.Fatalf("Stale pending replay failed: %v", err)
	}

	fetched, err := service.FindListingByPurchaseId(ctx, 5)
	if err != nil {
		t.Fatalf("FindListingByPurchaseId failed: %v", err)
	}
	if fetched.SettlementStatus != catalog.SettlementConfirmed {
		t.Errorf("Expected confirmed, got %q", fetched.SettlementStatus)
	}
}

func TestSettlementStatusTerminalConflict(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, service, "1.5", nativeAsset)
	if err := service.MarkListingSold(ctx, listing.Id, 5); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}
	if err := service.SetSettlementStatus(ctx, 5, catalog.SettlementConfirmed); err != nil {
		t.Fatalf("SetSettlementStatus failed: %v", err)
	}

	err := service.SetSettlementStatus(ctx, 5, catalog.SettlementRefunded)
	if !errors.Is(err, catalog.ErrSettlementConflict) {
		t.Fatalf("Expected ErrSettlementConflict, got %v", err)
	}
}

func TestSettlementStatusUnknownPurchase(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	err := service.SetSettlementStatus(context.Background(), 999, catalog.SettlementConfirmed)
	if !errors.Is(err, catalog.ErrListingNotFound) {
		t.Fatalf("Expected ErrListingNotFound, got %v", err)
	}
}

func TestFindOpenListingsFiltersSoldAndAsset(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	open := createTestListing(t, service, "100", testUsdcAsset)
	sold := createTestListing(t, service, "100", testUsdcAsset)
	createTestListing(t, service, "100", nativeAsset)
	if err := service.MarkListingSold(ctx, sold.Id, 1); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	listings, err := service.FindOpenListings(ctx, testSellerWallet, testUsdcAsset)
	if err != nil {
		t.Fatalf("FindOpenListings failed: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("Expected 1 open listing, got %d", len(listings))
	}
	if listings[0].Id != open.Id {
		t.Errorf("Expected listing %s, got %s", open.Id, listings[0].Id)
	}
}

func TestFindListingByPurchaseIdNotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.FindListingByPurchaseId(context.Background(), 404)
	if !errors.Is(err, catalog.ErrListingNotFound) {
		t.Fatalf("Expected ErrListingNotFound, got %v", err)
	}
}
