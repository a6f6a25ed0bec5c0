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
	"fmt"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy catalog.Store.
var _ catalog.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Create users table mapping wallets to catalog identities
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		wallet TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Create index on wallet for faster lookups
	CREATE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet);

	-- Create listings table. Price is stored as text to keep the seller's
	-- exact decimal representation; purchase_id is set once and only once
	-- when the reconciler binds the on-chain purchase to the listing.
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seller_wallet TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		asset TEXT NOT NULL,
		is_sold BOOLEAN NOT NULL DEFAULT 0,
		purchase_id INTEGER,
		settlement_status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- One listing per purchase
	CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_purchase_id
		ON listings(purchase_id) WHERE purchase_id IS NOT NULL;
	-- Create index for seller lookups
	CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_wallet);
	-- Create index for open-listing scans
	CREATE INDEX IF NOT EXISTS idx_listings_is_sold ON listings(is_sold);
	-- Create index for created_at for sorting
	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at);

	-- Create escrow movements audit table. The unique constraint is the
	-- idempotency key: a replayed event inserts the same (purchase, kind)
	-- pair and is rejected rather than duplicated.
	CREATE TABLE IF NOT EXISTS escrow_movements (
		id TEXT PRIMARY KEY,
		purchase_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount TEXT NOT NULL,
		asset TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(purchase_id, kind)
	);

	-- Create index for purchase lookups
	CREATE INDEX IF NOT EXISTS idx_movements_purchase_id ON escrow_movements(purchase_id);

	-- Create checkpoints table for reconciliation cursors
	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
