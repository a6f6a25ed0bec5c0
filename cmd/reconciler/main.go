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
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidopascual/coinlist/internal/api"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/config"
	"github.com/davidopascual/coinlist/internal/identity"
	"github.com/davidopascual/coinlist/internal/reconciler"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting escrow catalog reconciler")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	worker := reconciler.NewWorker(reconciler.WorkerConfig{
		Escrow:          services.Escrow,
		Store:           services.DbService,
		Assets:          services.Assets,
		PollingInterval: cfg.Reconciler.PollingInterval,
	})
	if err := worker.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start reconciliation worker", zap.Error(err))
	}

	handler := api.NewHandler(api.HandlerConfig{
		Store:    services.DbService,
		Identity: identity.NewService(services.DbService),
		Escrow:   services.Escrow,
		Assets:   services.Assets,
		FeeBps:   cfg.Market.FeeBps,
	})
	server := &http.Server{
		Addr:    cfg.Reconciler.HttpAddr,
		Handler: api.NewRouter(handler),
	}

	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Reconciler.HttpAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	zap.L().Info("Reconciler running. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Reconciler.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server shutdown failed", zap.Error(err))
	}
	worker.Stop()
	zap.L().Info("Reconciler stopped gracefully")
}
