package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/database"
	"github.com/davidopascual/coinlist/internal/identity"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/shopspring/decimal"
)

var (
	testContract = chain.MustParseAddress("0xb87C071ffc8B11721EdE6b4fD6395E2Cf4b164A0")
	testBuyer    = chain.MustParseAddress("0x1111111111111111111111111111111111111111")
	testSeller   = chain.MustParseAddress("0x2222222222222222222222222222222222222222")
)

func newTestRouter(t *testing.T) (http.Handler, *database.Service, *chain.MemoryBackend) {
	t.Helper()

	backend := chain.NewMemoryBackend(84532, testContract)
	escrow := chain.NewEscrow(chain.EscrowConfig{
		Backend:  backend,
		Contract: testContract,
		Signer:   testBuyer,
		ChainId:  84532,
	})
	store, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		PingTimeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(store.Close)

	registry, err := common.LoadAssetRegistry("")
	if err != nil {
		t.Fatalf("Failed to build asset registry: %v", err)
	}

	handler := NewHandler(HandlerConfig{
		Store:    store,
		Identity: identity.NewService(store),
		Escrow:   escrow,
		Assets:   registry,
		FeeBps:   200,
	})
	return NewRouter(handler), store, backend
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestCreateAndFetchListing(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := `{"seller_wallet":"` + testSeller.Hex() + `","title":"Camera","price":"1.5","asset":"` + chain.ZeroAddress.Hex() + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.Listing
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !created.Price.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected price 1.5, got %s", created.Price)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/listings/"+created.Id, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestCreateListingRejectsUnknownAsset(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := `{"seller_wallet":"` + testSeller.Hex() + `","title":"Camera","price":"1.5","asset":"0x9999999999999999999999999999999999999999"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", rec.Code)
	}
}

func TestUpdateSoldListingConflicts(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	listing, err := store.CreateListing(ctx, catalog.CreateListingParams{
		SellerWallet: testSeller.Hex(),
		Title:        "Camera",
		Price:        decimal.RequireFromString("1.5"),
		Asset:        chain.ZeroAddress.Hex(),
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if err := store.MarkListingSold(ctx, listing.Id, 1); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	body := `{"title":"Camera","price":"2.0","asset":"` + chain.ZeroAddress.Hex() + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/v1/listings/"+listing.Id, strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetPurchaseFromLedger(t *testing.T) {
	router, _, backend := newTestRouter(t)

	escrow := chain.NewEscrow(chain.EscrowConfig{
		Backend:  backend,
		Contract: testContract,
		Signer:   testBuyer,
		ChainId:  84532,
	})
	amount := big.NewInt(1_500_000_000_000_000_000)
	tx, err := escrow.Purchase(context.Background(), testSeller, amount, chain.ZeroAddress, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if _, err := tx.Wait(context.Background()); err != nil {
		t.Fatalf("Purchase did not finalize: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/purchases/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Buyer   string `json:"buyer"`
		Display *struct {
			Price string `json:"price"`
			Fee   string `json:"fee"`
		} `json:"display"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Buyer != testBuyer.Hex() {
		t.Errorf("Expected buyer %s, got %s", testBuyer.Hex(), resp.Buyer)
	}
	if resp.Display == nil || resp.Display.Price != "1.5" {
		t.Errorf("Expected display price 1.5, got %+v", resp.Display)
	}
	if resp.Display != nil && resp.Display.Fee != "0.03" {
		t.Errorf("Expected display fee 0.03, got %s", resp.Display.Fee)
	}
}

func TestGetPurchaseNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/purchases/404", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestGetListingsFilteredBySeller(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	otherSeller := chain.MustParseAddress("0x3333333333333333333333333333333333333333")
	mine, err := store.CreateListing(ctx, catalog.CreateListingParams{
		SellerWallet: testSeller.Hex(),
		Title:        "Camera",
		Price:        decimal.RequireFromString("1.5"),
		Asset:        chain.ZeroAddress.Hex(),
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	sold, err := store.CreateListing(ctx, catalog.CreateListingParams{
		SellerWallet: testSeller.Hex(),
		Title:        "Lens",
		Price:        decimal.RequireFromString("0.5"),
		Asset:        chain.ZeroAddress.Hex(),
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if _, err := store.CreateListing(ctx, catalog.CreateListingParams{
		SellerWallet: otherSeller.Hex(),
		Title:        "Tripod",
		Price:        decimal.RequireFromString("0.2"),
		Asset:        chain.ZeroAddress.Hex(),
	}); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if err := store.MarkListingSold(ctx, sold.Id, 1); err != nil {
		t.Fatalf("MarkListingSold failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/listings?seller="+testSeller.Hex(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var listings []models.Listing
	if err := json.Unmarshal(rec.Body.Bytes(), &listings); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("Expected 2 listings for seller, got %d", len(listings))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/listings?seller="+testSeller.Hex()+"&open=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	listings = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &listings); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(listings) != 1 || listings[0].Id != mine.Id {
		t.Errorf("Expected only the open listing %s, got %+v", mine.Id, listings)
	}
}

func TestGetUsersListsRegistrations(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var users []models.UserRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("Expected empty user list, got %d", len(users))
	}

	if _, err := identity.NewService(store).ResolveOrCreateUser(ctx, testSeller.Hex()); err != nil {
		t.Fatalf("ResolveOrCreateUser failed: %v", err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	users = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(users) != 1 || users[0].Wallet != strings.ToLower(testSeller.Hex()) {
		t.Errorf("Expected one user with wallet %s, got %+v", strings.ToLower(testSeller.Hex()), users)
	}
}
