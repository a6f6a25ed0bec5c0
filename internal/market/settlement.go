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

package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidopascual/coinlist/internal/chain"

	"go.uber.org/zap"
)

// SettleAction names the settlement operation in flight for a purchase.
type SettleAction string

const (
	SettleConfirm SettleAction = "confirm"
	SettleRefund  SettleAction = "refund"
)

// Settlement exposes the two ways a pending purchase resolves: buyer
// confirmation releasing funds to the seller, or seller refund returning
// them to the buyer. Identity and terminal-state rules are enforced by the
// ledger, not here; this layer tracks per-purchase in-flight status so a
// UI can disable the second button while the first is pending.
type Settlement struct {
	escrow *chain.Escrow

	mu       sync.RWMutex
	inflight map[uint64]SettleAction
}

func NewSettlement(escrow *chain.Escrow) *Settlement {
	return &Settlement{
		escrow:   escrow,
		inflight: make(map[uint64]SettleAction),
	}
}

// Confirm submits the buyer's receipt confirmation for purchaseId.
func (s *Settlement) Confirm(ctx context.Context, purchaseId uint64) (*chain.PendingTx, error) {
	return s.settle(ctx, purchaseId, SettleConfirm)
}

// Refund submits the seller's refund for purchaseId.
func (s *Settlement) Refund(ctx context.Context, purchaseId uint64) (*chain.PendingTx, error) {
	return s.settle(ctx, purchaseId, SettleRefund)
}

func (s *Settlement) settle(ctx context.Context, purchaseId uint64, action SettleAction) (*chain.PendingTx, error) {
	s.mu.Lock()
	if pending, ok := s.inflight[purchaseId]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("purchase %d already has a %s in flight", purchaseId, pending)
	}
	s.inflight[purchaseId] = action
	s.mu.Unlock()

	var (
		tx  *chain.PendingTx
		err error
	)
	switch action {
	case SettleConfirm:
		tx, err = s.escrow.ConfirmReceipt(ctx, purchaseId)
	case SettleRefund:
		tx, err = s.escrow.Refund(ctx, purchaseId)
	}
	if err != nil {
		s.clear(purchaseId)
		return nil, err
	}

	// In-flight status covers the full submitted window, however long
	// finalization takes; the tracking wait is detached from the caller's
	// context on purpose.
	go func() {
		if _, waitErr := tx.Wait(context.Background()); waitErr != nil {
			zap.L().Warn("Settlement finalized failed",
				zap.Uint64("purchase_id", purchaseId),
				zap.String("action", string(action)),
				zap.Error(waitErr))
		}
		s.clear(purchaseId)
	}()

	return tx, nil
}

func (s *Settlement) clear(purchaseId uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, purchaseId)
}

// InFlight reports the settlement action currently pending for purchaseId.
func (s *Settlement) InFlight(purchaseId uint64) (SettleAction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.inflight[purchaseId]
	return action, ok
}
