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

const (
	// User queries
	queryGetUsers = `
		SELECT id, wallet, created_at, updated_at
		FROM users
		ORDER BY created_at`

	queryInsertUser = `
		INSERT INTO users (id, wallet) VALUES (?, ?)`

	queryGetUserByWallet = `
		SELECT id, wallet, created_at, updated_at
		FROM users
		WHERE wallet = ?`

	// Listing queries
	listingColumns = `id, seller_wallet, title, description, price, asset,
		is_sold, purchase_id, settlement_status, created_at, updated_at`

	queryInsertListing = `
		INSERT INTO listings (id, seller_wallet, title, description, price, asset)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetListingById = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE id = ?`

	queryGetListings = `
		SELECT ` + listingColumns + `
		FROM listings
		ORDER BY created_at DESC`

	queryGetOpenListings = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE is_sold = 0
		ORDER BY created_at DESC`

	queryGetListingsBySeller = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE seller_wallet = ?
		ORDER BY created_at DESC`

	queryFindListingByPurchaseId = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE purchase_id = ?`

	queryFindOpenListingsBySellerAsset = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE is_sold = 0 AND seller_wallet = ? AND asset = ?
		ORDER BY created_at`

	queryUpdateListing = `
		UPDATE listings
		SET title = ?, description = ?, price = ?, asset = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryMarkListingSold = `
		UPDATE listings
		SET is_sold = 1, purchase_id = ?, settlement_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	querySetSettlementStatus = `
		UPDATE listings
		SET settlement_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE purchase_id = ?`

	queryGetListingForSale = `
		SELECT is_sold, purchase_id
		FROM listings
		WHERE id = ?`

	queryGetSettlementByPurchase = `
		SELECT settlement_status
		FROM listings
		WHERE purchase_id = ?`

	// Escrow movement queries
	queryInsertMovement = `
		INSERT INTO escrow_movements (id, purchase_id, kind, from_account, to_account, amount, asset)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetMovementsByPurchase = `
		SELECT id, purchase_id, kind, from_account, to_account, amount, asset, created_at
		FROM escrow_movements
		WHERE purchase_id = ?
		ORDER BY created_at, kind`

	// Checkpoint queries
	queryGetCheckpoint = `
		SELECT seq FROM checkpoints WHERE name = ?`

	queryUpsertCheckpoint = `
		INSERT INTO checkpoints (name, seq) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq, updated_at = CURRENT_TIMESTAMP`
)
