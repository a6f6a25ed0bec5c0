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

package chain

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// Escrow is the marketplace's ledger client. It wraps a Backend with the
// network guard and the error-taxonomy conversion: every operation refuses
// to run against the wrong chain, and every backend failure leaves this
// package as exactly one of the taxonomy errors.
type Escrow struct {
	backend  Backend
	contract Address
	signer   Address
	chainId  uint64
}

// EscrowConfig contains configuration for the Escrow client.
type EscrowConfig struct {
	Backend  Backend
	Contract Address
	Signer   Address
	ChainId  uint64
}

func NewEscrow(cfg EscrowConfig) *Escrow {
	return &Escrow{
		backend:  cfg.Backend,
		contract: cfg.Contract,
		signer:   cfg.Signer,
		chainId:  cfg.ChainId,
	}
}

// Signer returns the account identity this client submits as.
func (e *Escrow) Signer() Address {
	return e.signer
}

// Contract returns the escrow contract address (the allowance spender).
func (e *Escrow) Contract() Address {
	return e.contract
}

// checkNetwork refuses operations when the connected chain id differs from
// the configured one. The mismatch is reported distinctly from all
// transactional errors.
func (e *Escrow) checkNetwork(ctx context.Context) error {
	got, err := e.backend.ChainId(ctx)
	if err != nil {
		return &ReadError{Op: "chain id", Err: err}
	}
	if got != e.chainId {
		zap.L().Warn("Refusing ledger operation on mismatched network",
			zap.Uint64("expected_chain_id", e.chainId),
			zap.Uint64("connected_chain_id", got))
		return fmt.Errorf("%w: expected %d, connected to %d", ErrWrongNetwork, e.chainId, got)
	}
	return nil
}

// Purchase submits a purchase call. For the native path the caller attaches
// the amount as transferred value; for the token path value must be nil.
func (e *Escrow) Purchase(ctx context.Context, seller Address, amount *big.Int, asset Address, value *big.Int) (*PendingTx, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	tx, err := e.backend.SubmitPurchase(ctx, e.signer, seller, amount, asset, value)
	if err != nil {
		return nil, mapSubmitError("purchase", err)
	}

	zap.L().Info("Purchase submitted",
		zap.String("tx_hash", tx.Hash()),
		zap.String("buyer", e.signer.Hex()),
		zap.String("seller", seller.Hex()),
		zap.String("amount", amount.String()),
		zap.String("asset", asset.Hex()))
	return tx, nil
}

// ConfirmReceipt submits the buyer's confirmation for a pending purchase.
func (e *Escrow) ConfirmReceipt(ctx context.Context, purchaseId uint64) (*PendingTx, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	tx, err := e.backend.SubmitConfirm(ctx, e.signer, purchaseId)
	if err != nil {
		return nil, mapSubmitError("confirm receipt", err)
	}

	zap.L().Info("Confirm submitted",
		zap.String("tx_hash", tx.Hash()),
		zap.Uint64("purchase_id", purchaseId))
	return tx, nil
}

// Refund submits the seller's refund for a pending purchase.
func (e *Escrow) Refund(ctx context.Context, purchaseId uint64) (*PendingTx, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	tx, err := e.backend.SubmitRefund(ctx, e.signer, purchaseId)
	if err != nil {
		return nil, mapSubmitError("refund", err)
	}

	zap.L().Info("Refund submitted",
		zap.String("tx_hash", tx.Hash()),
		zap.Uint64("purchase_id", purchaseId))
	return tx, nil
}

// GetPurchase reads one purchase record.
func (e *Escrow) GetPurchase(ctx context.Context, purchaseId uint64) (*Purchase, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	p, err := e.backend.GetPurchase(ctx, purchaseId)
	if err != nil {
		return nil, mapReadError("get purchase", err)
	}
	return p, nil
}

// PurchaseCount reads the total number of purchases ever created.
func (e *Escrow) PurchaseCount(ctx context.Context) (uint64, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return 0, err
	}

	n, err := e.backend.PurchaseCount(ctx)
	if err != nil {
		return 0, mapReadError("purchase count", err)
	}
	return n, nil
}

// Allowance reads the live token allowance granted by owner to the escrow
// contract. The result is never cached: a third party can change it at any
// moment.
func (e *Escrow) Allowance(ctx context.Context, asset, owner Address) (*big.Int, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	remaining, err := e.backend.Allowance(ctx, asset, owner, e.contract)
	if err != nil {
		return nil, mapReadError("allowance", err)
	}
	return remaining, nil
}

// Approve submits an exact-amount allowance for the escrow contract.
func (e *Escrow) Approve(ctx context.Context, asset Address, amount *big.Int) (*PendingTx, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	tx, err := e.backend.SubmitApprove(ctx, e.signer, asset, e.contract, amount)
	if err != nil {
		return nil, mapSubmitError("approve", err)
	}

	zap.L().Info("Approval submitted",
		zap.String("tx_hash", tx.Hash()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()))
	return tx, nil
}

// EventsSince returns all escrow events with sequence strictly greater than
// afterSeq, in order.
func (e *Escrow) EventsSince(ctx context.Context, afterSeq uint64) ([]Event, error) {
	if err := e.checkNetwork(ctx); err != nil {
		return nil, err
	}

	events, err := e.backend.EventsSince(ctx, afterSeq)
	if err != nil {
		return nil, mapReadError("events", err)
	}
	return events, nil
}
