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
	"strings"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordEscrowMovement appends one audit row for a ledger-observed value
// movement. The (purchase_id, kind) unique constraint makes event replays
// surface as catalog.ErrDuplicateMovement instead of double-counting.
func (s *Service) RecordEscrowMovement(ctx context.Context, params catalog.EscrowMovementParams) error {
	_, err := s.db.ExecContext(ctx, queryInsertMovement,
		uuid.New().String(), params.PurchaseId, params.Kind,
		strings.ToLower(params.FromAccount), strings.ToLower(params.ToAccount),
		params.Amount.String(), strings.ToLower(params.Asset))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: purchase %d %s", catalog.ErrDuplicateMovement, params.PurchaseId, params.Kind)
		}
		zap.L().Error("Failed to insert escrow movement",
			zap.Uint64("purchase_id", params.PurchaseId),
			zap.String("kind", params.Kind),
			zap.Error(err))
		return fmt.Errorf("unable to insert escrow movement: %w", err)
	}

	zap.L().Info("Escrow movement recorded",
		zap.Uint64("purchase_id", params.PurchaseId),
		zap.String("kind", params.Kind),
		zap.String("amount", params.Amount.String()))
	return nil
}

func (s *Service) GetEscrowMovements(ctx context.Context, purchaseId uint64) ([]models.EscrowMovement, error) {
	rows, err := s.db.QueryContext(ctx, queryGetMovementsByPurchase, purchaseId)
	if err != nil {
		return nil, fmt.Errorf("unable to query escrow movements: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var movements []models.EscrowMovement
	for rows.Next() {
		var (
			m      models.EscrowMovement
			amount string
		)
		err := rows.Scan(&m.Id, &m.PurchaseId, &m.Kind, &m.FromAccount, &m.ToAccount,
			&amount, &m.Asset, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("unable to scan escrow movement row: %w", err)
		}
		m.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("movement %s has corrupt amount %q: %w", m.Id, amount, err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escrow movement rows: %w", err)
	}
	return movements, nil
}
