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

	"go.uber.org/zap"
)

func main() {
	purchaseId := flag.Uint64("purchase", 0, "Ledger id of the purchase to confirm (required)")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	if *purchaseId == 0 {
		zap.L().Fatal("Missing required -purchase flag")
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	settlement := market.NewSettlement(services.Escrow)
	tx, err := settlement.Confirm(ctx, *purchaseId)
	if err != nil {
		var reverted *chain.RevertedError
		if errors.As(err, &reverted) {
			zap.L().Fatal("Confirmation rejected by the escrow contract",
				zap.Uint64("purchase_id", *purchaseId),
				zap.String("reason", reverted.Reason))
		}
		zap.L().Fatal("Confirmation failed", zap.Error(err))
	}

	fmt.Printf("Submitted confirmation tx %s, waiting for finalization...\n", tx.Hash())
	if _, err := tx.Wait(ctx); err != nil {
		zap.L().Fatal("Confirmation did not finalize", zap.Error(err))
	}

	common.PrintFooter(fmt.Sprintf("Purchase %d confirmed. Funds released to the seller.", *purchaseId), common.DefaultWidth)
}
