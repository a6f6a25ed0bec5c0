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

package token

import (
	"context"
	"fmt"
	"math/big"

	"github.com/davidopascual/coinlist/internal/chain"

	"go.uber.org/zap"
)

// Manager runs the approve-before-transfer protocol for token-path
// purchases. Allowance is a live (owner, spender) relation on the token
// contract; a third party can change it between any two calls, so results
// are never cached beyond the single read.
//
// Known limitation: non-standard tokens that require a zero-then-set
// approval sequence are not handled.
type Manager struct {
	escrow *chain.Escrow
}

func NewManager(escrow *chain.Escrow) *Manager {
	return &Manager{escrow: escrow}
}

// CheckAllowance reads the live allowance owner has granted the escrow
// contract for asset and reports whether it covers required. A read failure
// propagates as a *chain.ReadError: the answer is unknown and must never be
// treated as approved.
func (m *Manager) CheckAllowance(ctx context.Context, asset, owner chain.Address, required *big.Int) (bool, error) {
	remaining, err := m.escrow.Allowance(ctx, asset, owner)
	if err != nil {
		return false, fmt.Errorf("checking allowance for %s: %w", asset.Hex(), err)
	}

	covered := remaining.Cmp(required) >= 0
	zap.L().Debug("Allowance checked",
		zap.String("asset", asset.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("remaining", remaining.String()),
		zap.String("required", required.String()),
		zap.Bool("covered", covered))
	return covered, nil
}

// RequestApproval submits an approval for exactly amount, never an
// unbounded one. The returned handle must be awaited before a dependent
// purchase is attempted; approval and purchase are separate ledger
// mutations with no atomicity across them.
func (m *Manager) RequestApproval(ctx context.Context, asset chain.Address, amount *big.Int) (*chain.PendingTx, error) {
	tx, err := m.escrow.Approve(ctx, asset, amount)
	if err != nil {
		return nil, fmt.Errorf("requesting approval for %s %s: %w", amount.String(), asset.Hex(), err)
	}

	zap.L().Info("Approval requested",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", tx.Hash()))
	return tx, nil
}
