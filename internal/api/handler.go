/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/identity"
	"github.com/davidopascual/coinlist/internal/market"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// HandlerConfig contains the collaborators the HTTP layer serves.
type HandlerConfig struct {
	Store    catalog.Store
	Identity *identity.Service
	Escrow   *chain.Escrow
	Assets   *common.AssetRegistry
	FeeBps   int64
}

type Handler struct {
	store    catalog.Store
	identity *identity.Service
	escrow   *chain.Escrow
	assets   *common.AssetRegistry
	feeBps   int64
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:    cfg.Store,
		identity: cfg.Identity,
		escrow:   cfg.Escrow,
		assets:   cfg.Assets,
		feeBps:   cfg.FeeBps,
	}
}

// NewRouter wires the handler into a mux router with health and metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/listings", h.CreateListing).Methods("POST")
	apiV1.HandleFunc("/listings", h.GetListings).Methods("GET")
	apiV1.HandleFunc("/listings/{id}", h.GetListing).Methods("GET")
	apiV1.HandleFunc("/listings/{id}", h.UpdateListing).Methods("PUT")
	apiV1.HandleFunc("/users", h.GetUsers).Methods("GET")
	apiV1.HandleFunc("/purchases/{id}", h.GetPurchase).Methods("GET")
	return r
}

type listingRequest struct {
	SellerWallet string `json:"seller_wallet"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Price        string `json:"price"`
	Asset        string `json:"asset"`
}

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/listings"))
	defer timer.ObserveDuration()

	var req listingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/listings")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid price", "POST", "/listings")
		return
	}
	if _, err := chain.ParseAddress(req.SellerWallet); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid seller wallet", "POST", "/listings")
		return
	}
	asset, err := chain.ParseAddress(req.Asset)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid asset address", "POST", "/listings")
		return
	}
	if _, err := h.assets.Lookup(asset); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown payment asset", "POST", "/listings")
		return
	}

	if _, err := h.identity.ResolveOrCreateUser(r.Context(), req.SellerWallet); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/listings")
		return
	}

	listing, err := h.store.CreateListing(r.Context(), catalog.CreateListingParams{
		SellerWallet: req.SellerWallet,
		Title:        req.Title,
		Description:  req.Description,
		Price:        price,
		Asset:        req.Asset,
	})
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/listings")
		return
	}
	h.respondJSON(w, http.StatusCreated, listing, "POST", "/listings")
}

func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	onlyOpen := r.URL.Query().Get("open") == "true"

	var listings []models.Listing
	var err error
	if seller := r.URL.Query().Get("seller"); seller != "" {
		listings, err = h.store.GetListingsBySeller(r.Context(), seller)
		if err == nil && onlyOpen {
			open := listings[:0]
			for _, listing := range listings {
				if !listing.IsSold {
					open = append(open, listing)
				}
			}
			listings = open
		}
	} else {
		listings, err = h.store.GetListings(r.Context(), onlyOpen)
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/listings")
		return
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	h.respondJSON(w, http.StatusOK, listings, "GET", "/listings")
}

func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetUsers(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/users")
		return
	}
	if users == nil {
		users = []models.UserRecord{}
	}
	h.respondJSON(w, http.StatusOK, users, "GET", "/users")
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.store.GetListingById(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, catalog.ErrListingNotFound) {
			h.respondError(w, http.StatusNotFound, "Not Found", "GET", "/listings/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/listings/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, listing, "GET", "/listings/{id}")
}

func (h *Handler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("PUT", "/listings/{id}"))
	defer timer.ObserveDuration()

	var req listingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", "/listings/{id}")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid price", "PUT", "/listings/{id}")
		return
	}

	listing, err := h.store.UpdateListing(r.Context(), catalog.UpdateListingParams{
		ListingId:   mux.Vars(r)["id"],
		Title:       req.Title,
		Description: req.Description,
		Price:       price,
		Asset:       req.Asset,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrListingNotFound):
			h.respondError(w, http.StatusNotFound, "Not Found", "PUT", "/listings/{id}")
		case errors.Is(err, catalog.ErrListingSold):
			h.respondError(w, http.StatusConflict, "Listing already sold", "PUT", "/listings/{id}")
		default:
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "PUT", "/listings/{id}")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, listing, "PUT", "/listings/{id}")
}

type purchaseResponse struct {
	Id          uint64                  `json:"id"`
	Buyer       string                  `json:"buyer"`
	Seller      string                  `json:"seller"`
	Amount      string                  `json:"amount"`
	Asset       string                  `json:"asset"`
	IsConfirmed bool                    `json:"is_confirmed"`
	IsRefunded  bool                    `json:"is_refunded"`
	Display     *purchaseDisplay        `json:"display,omitempty"`
	Listing     *models.Listing         `json:"listing,omitempty"`
	Movements   []models.EscrowMovement `json:"movements,omitempty"`
}

type purchaseDisplay struct {
	Price  string `json:"price"`
	Fee    string `json:"fee"`
	Total  string `json:"total"`
	Symbol string `json:"symbol"`
}

// GetPurchase reads the authoritative purchase record from the ledger and
// attaches whatever the mirror knows about it.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/purchases/{id}"))
	defer timer.ObserveDuration()

	purchaseId, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid purchase id", "GET", "/purchases/{id}")
		return
	}

	purchase, err := h.escrow.GetPurchase(r.Context(), purchaseId)
	if err != nil {
		if errors.Is(err, chain.ErrUnknownPurchase) {
			h.respondError(w, http.StatusNotFound, "Not Found", "GET", "/purchases/{id}")
			return
		}
		var readErr *chain.ReadError
		if errors.As(err, &readErr) {
			h.respondError(w, http.StatusBadGateway, "Ledger unavailable", "GET", "/purchases/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/purchases/{id}")
		return
	}

	resp := purchaseResponse{
		Id:          purchaseId,
		Buyer:       purchase.Buyer.Hex(),
		Seller:      purchase.Seller.Hex(),
		Amount:      purchase.Amount.String(),
		Asset:       purchase.Asset.Hex(),
		IsConfirmed: purchase.IsConfirmed,
		IsRefunded:  purchase.IsRefunded,
	}

	if cfg, err := h.assets.Lookup(purchase.Asset); err == nil {
		resp.Display = &purchaseDisplay{
			Price:  market.FromBaseUnits(purchase.Amount, cfg.Decimals).String(),
			Fee:    market.FromBaseUnits(market.Fee(purchase.Amount, h.feeBps), cfg.Decimals).String(),
			Total:  market.FromBaseUnits(market.TotalWithFee(purchase.Amount, h.feeBps), cfg.Decimals).String(),
			Symbol: cfg.Symbol,
		}
	}

	// The mirror may legitimately lag or not track this purchase at all;
	// both lookups are best-effort and independent.
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		if listing, err := h.store.FindListingByPurchaseId(gctx, purchaseId); err == nil {
			resp.Listing = listing
		}
		return nil
	})
	g.Go(func() error {
		if movements, err := h.store.GetEscrowMovements(gctx, purchaseId); err == nil {
			resp.Movements = movements
		}
		return nil
	})
	_ = g.Wait()

	h.respondJSON(w, http.StatusOK, resp, "GET", "/purchases/{id}")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
