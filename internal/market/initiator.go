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
	"math/big"

	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/models"
	"github.com/davidopascual/coinlist/internal/token"

	"go.uber.org/zap"
)

// Initiator drives the purchase flow: payment-path selection, exact
// base-unit amount computation, the token-path allowance preflight, and
// submission to the ledger.
type Initiator struct {
	escrow    *chain.Escrow
	allowance *token.Manager
	assets    *common.AssetRegistry
}

// InitiatorConfig contains the collaborators an Initiator needs.
type InitiatorConfig struct {
	Escrow    *chain.Escrow
	Allowance *token.Manager
	Assets    *common.AssetRegistry
}

func NewInitiator(cfg InitiatorConfig) *Initiator {
	return &Initiator{
		escrow:    cfg.Escrow,
		allowance: cfg.Allowance,
		assets:    cfg.Assets,
	}
}

// PurchaseHandle tracks a submitted purchase. The assigned purchase id is
// only available once the submission finalizes, extracted from the emitted
// Purchased event; it is never derived from catalog-local ids.
type PurchaseHandle struct {
	Tx     *chain.PendingTx
	Seller chain.Address
	Amount *big.Int
	Asset  chain.Address
}

// PurchaseId blocks until finalization and returns the ledger-assigned id.
func (h *PurchaseHandle) PurchaseId(ctx context.Context) (uint64, error) {
	receipt, err := h.Tx.Wait(ctx)
	if err != nil {
		return 0, err
	}
	ev, ok := receipt.PurchasedEvent()
	if !ok {
		return 0, fmt.Errorf("finalized purchase %s emitted no creation event", h.Tx.Hash())
	}
	return ev.PurchaseId, nil
}

// Initiate submits a purchase for listing. The token path checks the live
// allowance immediately before submitting, every time: the gap between an
// earlier check (or approval) and this call is long enough for the
// allowance to have been spent or revoked. When the allowance falls short
// the call fails with chain.ErrApprovalRequired and nothing is submitted,
// sparing the buyer a doomed transaction fee.
func (in *Initiator) Initiate(ctx context.Context, listing *models.Listing) (*PurchaseHandle, error) {
	seller, err := chain.ParseAddress(listing.SellerWallet)
	if err != nil {
		return nil, fmt.Errorf("listing %s has invalid seller wallet: %w", listing.Id, err)
	}
	asset, err := chain.ParseAddress(listing.Asset)
	if err != nil {
		return nil, fmt.Errorf("listing %s has invalid payment asset: %w", listing.Id, err)
	}

	decimals, err := in.assets.Decimals(asset)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", listing.Id, err)
	}
	amount, err := ToBaseUnits(listing.Price, decimals)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", listing.Id, err)
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("listing %s has zero price", listing.Id)
	}

	var value *big.Int
	if asset.IsZero() {
		value = amount
	} else {
		covered, err := in.allowance.CheckAllowance(ctx, asset, in.escrow.Signer(), amount)
		if err != nil {
			return nil, fmt.Errorf("purchase preflight for listing %s: %w", listing.Id, err)
		}
		if !covered {
			zap.L().Info("Purchase blocked on insufficient allowance",
				zap.String("listing_id", listing.Id),
				zap.String("asset", asset.Hex()),
				zap.String("required", amount.String()))
			return nil, fmt.Errorf("listing %s: %w", listing.Id, chain.ErrApprovalRequired)
		}
	}

	tx, err := in.escrow.Purchase(ctx, seller, amount, asset, value)
	if err != nil {
		return nil, fmt.Errorf("purchasing listing %s: %w", listing.Id, err)
	}

	zap.L().Info("Purchase initiated",
		zap.String("listing_id", listing.Id),
		zap.String("seller", seller.Hex()),
		zap.String("amount", amount.String()),
		zap.String("asset", asset.Hex()),
		zap.String("tx_hash", tx.Hash()))

	return &PurchaseHandle{
		Tx:     tx,
		Seller: seller,
		Amount: amount,
		Asset:  asset,
	}, nil
}
