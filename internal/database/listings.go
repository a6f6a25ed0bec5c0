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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var (
		listing    models.Listing
		price      string
		purchaseId sql.NullInt64
	)
	err := row.Scan(&listing.Id, &listing.SellerWallet, &listing.Title, &listing.Description,
		&price, &listing.Asset, &listing.IsSold, &purchaseId, &listing.SettlementStatus,
		&listing.CreatedAt, &listing.UpdatedAt)
	if err != nil {
		return nil, err
	}

	listing.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("listing %s has corrupt price %q: %w", listing.Id, price, err)
	}
	if purchaseId.Valid {
		id := uint64(purchaseId.Int64)
		listing.PurchaseId = &id
	}
	return &listing, nil
}

func (s *Service) queryListings(ctx context.Context, query string, args ...any) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to query listings", zap.Error(err))
		return nil, fmt.Errorf("unable to query listings: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			zap.L().Error("Failed to scan listing row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan listing row: %w", err)
		}
		listings = append(listings, *listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listing rows: %w", err)
	}
	return listings, nil
}

func (s *Service) CreateListing(ctx context.Context, params catalog.CreateListingParams) (*models.Listing, error) {
	if params.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive, got %s", params.Price)
	}
	if params.Title == "" {
		return nil, fmt.Errorf("listing title cannot be empty")
	}

	listingId := uuid.New().String()
	seller := strings.ToLower(params.SellerWallet)
	asset := strings.ToLower(params.Asset)

	_, err := s.db.ExecContext(ctx, queryInsertListing,
		listingId, seller, params.Title, params.Description, params.Price.String(), asset)
	if err != nil {
		zap.L().Error("Failed to insert listing", zap.String("seller", seller), zap.Error(err))
		return nil, fmt.Errorf("unable to insert listing: %w", err)
	}

	zap.L().Info("Listing created",
		zap.String("listing_id", listingId),
		zap.String("seller", seller),
		zap.String("price", params.Price.String()),
		zap.String("asset", asset))

	return s.GetListingById(ctx, listingId)
}

func (s *Service) GetListingById(ctx context.Context, listingId string) (*models.Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, queryGetListingById, listingId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrListingNotFound, listingId)
		}
		return nil, fmt.Errorf("unable to query listing: %w", err)
	}
	return listing, nil
}

func (s *Service) GetListings(ctx context.Context, onlyOpen bool) ([]models.Listing, error) {
	if onlyOpen {
		return s.queryListings(ctx, queryGetOpenListings)
	}
	return s.queryListings(ctx, queryGetListings)
}

func (s *Service) GetListingsBySeller(ctx context.Context, sellerWallet string) ([]models.Listing, error) {
	return s.queryListings(ctx, queryGetListingsBySeller, strings.ToLower(sellerWallet))
}

func (s *Service) FindListingByPurchaseId(ctx context.Context, purchaseId uint64) (*models.Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, queryFindListingByPurchaseId, purchaseId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase %d", catalog.ErrListingNotFound, purchaseId)
		}
		return nil, fmt.Errorf("unable to query listing by purchase: %w", err)
	}
	return listing, nil
}

func (s *Service) FindOpenListings(ctx context.Context, sellerWallet, asset string) ([]models.Listing, error) {
	return s.queryListings(ctx, queryFindOpenListingsBySellerAsset,
		strings.ToLower(sellerWallet), strings.ToLower(asset))
}

// UpdateListing edits an open listing. A sold listing is frozen: its terms
// are the ones the buyer's escrowed funds were locked against.
func (s *Service) UpdateListing(ctx context.Context, params catalog.UpdateListingParams) (*models.Listing, error) {
	if params.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive, got %s", params.Price)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		isSold     bool
		purchaseId sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, queryGetListingForSale, params.ListingId).Scan(&isSold, &purchaseId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrListingNotFound, params.ListingId)
		}
		return nil, fmt.Errorf("unable to query listing: %w", err)
	}
	if isSold {
		return nil, fmt.Errorf("%w: %s", catalog.ErrListingSold, params.ListingId)
	}

	_, err = tx.ExecContext(ctx, queryUpdateListing,
		params.Title, params.Description, params.Price.String(),
		strings.ToLower(params.Asset), params.ListingId)
	if err != nil {
		return nil, fmt.Errorf("unable to update listing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unable to commit listing update: %w", err)
	}

	return s.GetListingById(ctx, params.ListingId)
}

// MarkListingSold binds purchaseId to the listing and flips it to sold with
// a pending settlement status. The operation is idempotent for the same
// pairing; a listing already bound to a different purchase means two
// distinct ledger purchases matched one listing, which must surface rather
// than be silently overwritten. is_sold never reverts.
func (s *Service) MarkListingSold(ctx context.Context, listingId string, purchaseId uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		isSold  bool
		current sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, queryGetListingForSale, listingId).Scan(&isSold, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrListingNotFound, listingId)
		}
		return fmt.Errorf("unable to query listing: %w", err)
	}

	if current.Valid {
		if uint64(current.Int64) == purchaseId {
			// Replay of the same event; already converged.
			return nil
		}
		return fmt.Errorf("%w: listing %s bound to purchase %d, event carries %d",
			catalog.ErrPurchaseMismatch, listingId, current.Int64, purchaseId)
	}

	_, err = tx.ExecContext(ctx, queryMarkListingSold, purchaseId, catalog.SettlementPending, listingId)
	if err != nil {
		return fmt.Errorf("unable to mark listing sold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit sold marker: %w", err)
	}

	zap.L().Info("Listing marked sold",
		zap.String("listing_id", listingId),
		zap.Uint64("purchase_id", purchaseId))
	return nil
}

// settlementRank orders statuses so replayed events can only move a listing
// forward. Both terminal states share a rank: neither supersedes the other.
func settlementRank(status string) int {
	switch status {
	case catalog.SettlementPending:
		return 1
	case catalog.SettlementConfirmed, catalog.SettlementRefunded:
		return 2
	default:
		return 0
	}
}

// SetSettlementStatus records the ledger's settlement outcome for the
// listing bound to purchaseId. Replays of older events are no-ops; a
// terminal state never changes to the other terminal state.
func (s *Service) SetSettlementStatus(ctx context.Context, purchaseId uint64, status string) error {
	if settlementRank(status) == 0 {
		return fmt.Errorf("invalid settlement status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	err = tx.QueryRowContext(ctx, queryGetSettlementByPurchase, purchaseId).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: purchase %d", catalog.ErrListingNotFound, purchaseId)
		}
		return fmt.Errorf("unable to query settlement status: %w", err)
	}

	if current == status {
		return nil
	}
	if settlementRank(status) < settlementRank(current) {
		// Replay of an earlier event after a later one already applied.
		return nil
	}
	if settlementRank(current) == 2 {
		return fmt.Errorf("%w: purchase %d is %s, event says %s",
			catalog.ErrSettlementConflict, purchaseId, current, status)
	}

	_, err = tx.ExecContext(ctx, querySetSettlementStatus, status, purchaseId)
	if err != nil {
		return fmt.Errorf("unable to update settlement status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit settlement status: %w", err)
	}

	zap.L().Info("Settlement status updated",
		zap.Uint64("purchase_id", purchaseId),
		zap.String("status", status))
	return nil
}
