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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/config"
	"github.com/davidopascual/coinlist/internal/market"
	"github.com/davidopascual/coinlist/internal/models"
	"github.com/davidopascual/coinlist/internal/token"

	"go.uber.org/zap"
)

func main() {
	listingId := flag.String("listing", "", "Id of the listing to purchase (required)")
	approve := flag.Bool("approve", false, "Submit a token approval first if the allowance is insufficient")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	if *listingId == "" {
		zap.L().Fatal("Missing required -listing flag")
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	listing, err := services.DbService.GetListingById(ctx, *listingId)
	if err != nil {
		zap.L().Fatal("Listing not found", zap.String("listing_id", *listingId), zap.Error(err))
	}

	allowance := token.NewManager(services.Escrow)
	initiator := market.NewInitiator(market.InitiatorConfig{
		Escrow:    services.Escrow,
		Allowance: allowance,
		Assets:    services.Assets,
	})

	common.PrintHeader(fmt.Sprintf("Buying: %s", listing.Title), common.DefaultWidth)
	printQuote(services.Assets, listing, cfg.Market.FeeBps)

	handle, err := initiator.Initiate(ctx, listing)
	if errors.Is(err, chain.ErrApprovalRequired) && *approve {
		handle, err = approveAndRetry(ctx, services, allowance, initiator, listing)
	}
	if err != nil {
		if errors.Is(err, chain.ErrApprovalRequired) {
			zap.L().Fatal("Allowance insufficient; re-run with -approve", zap.Error(err))
		}
		zap.L().Fatal("Purchase failed", zap.Error(err))
	}

	fmt.Printf("Submitted purchase tx %s, waiting for finalization...\n", handle.Tx.Hash())
	purchaseId, err := handle.PurchaseId(ctx)
	if err != nil {
		zap.L().Fatal("Purchase did not finalize", zap.Error(err))
	}

	common.PrintFooter(fmt.Sprintf("Purchase %d is in escrow. Confirm receipt to release funds.", purchaseId), common.DefaultWidth)
}

// approveAndRetry submits an exact-amount approval, waits for it, and tries
// the purchase again. The retry re-checks the live allowance: a third party
// can spend it between the approval and the purchase.
func approveAndRetry(ctx context.Context, services *common.Services, allowance *token.Manager,
	initiator *market.Initiator, listing *models.Listing) (*market.PurchaseHandle, error) {

	asset, err := chain.ParseAddress(listing.Asset)
	if err != nil {
		return nil, err
	}
	decimals, err := services.Assets.Decimals(asset)
	if err != nil {
		return nil, err
	}
	amount, err := market.ToBaseUnits(listing.Price, decimals)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Approving %s base units of %s...\n", amount.String(), asset.Hex())
	approval, err := allowance.RequestApproval(ctx, asset, amount)
	if err != nil {
		return nil, err
	}
	if _, err := approval.Wait(ctx); err != nil {
		return nil, fmt.Errorf("approval did not finalize: %w", err)
	}

	return initiator.Initiate(ctx, listing)
}

func printQuote(assets *common.AssetRegistry, listing *models.Listing, feeBps int64) {
	asset, err := chain.ParseAddress(listing.Asset)
	if err != nil {
		return
	}
	assetCfg, err := assets.Lookup(asset)
	if err != nil {
		return
	}
	amount, err := market.ToBaseUnits(listing.Price, assetCfg.Decimals)
	if err != nil {
		return
	}

	fmt.Printf("Price: %s %s\n", listing.Price.String(), assetCfg.Symbol)
	fmt.Printf("Marketplace fee (deducted from seller proceeds): %s %s\n",
		market.FromBaseUnits(market.Fee(amount, feeBps), assetCfg.Decimals).String(), assetCfg.Symbol)
	fmt.Printf("Seller: %s\n", listing.SellerWallet)
}
