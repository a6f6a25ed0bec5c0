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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/market"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// checkpointName is the catalog cursor this worker owns.
const checkpointName = "escrow-events"

// WorkerConfig contains configuration for Worker
type WorkerConfig struct {
	Escrow          *chain.Escrow
	Store           catalog.Store
	Assets          *common.AssetRegistry
	PollingInterval time.Duration
}

// Worker polls the ledger for escrow events and applies them to the catalog
// mirror. The ledger is the source of truth: the worker only ever moves the
// mirror toward what the event stream says, and every application is
// idempotent so replaying from an old checkpoint converges instead of
// corrupting. The persisted checkpoint advances only past events that were
// fully applied; anything after a failed event is retried on the next poll.
type Worker struct {
	escrow *chain.Escrow
	store  catalog.Store
	assets *common.AssetRegistry

	pollingInterval time.Duration
	lastSeq         uint64

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new reconciliation worker
func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{
		escrow:          cfg.Escrow,
		store:           cfg.Store,
		assets:          cfg.Assets,
		pollingInterval: cfg.PollingInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start loads the persisted checkpoint and begins the polling loop. Events
// between the checkpoint and the ledger head are replayed immediately, so a
// restart catches up on everything missed while the worker was down.
func (w *Worker) Start(ctx context.Context) error {
	zap.L().Info("Starting reconciliation worker")

	seq, err := w.store.GetCheckpoint(ctx, checkpointName)
	if err != nil {
		return fmt.Errorf("failed to load reconciliation checkpoint: %w", err)
	}
	w.lastSeq = seq
	checkpointSeq.Set(float64(seq))

	if count, err := w.escrow.PurchaseCount(ctx); err != nil {
		zap.L().Warn("Failed to read total purchase count at startup", zap.Error(err))
	} else {
		zap.L().Info("Ledger purchase count at startup", zap.Uint64("purchases", count))
	}

	go w.pollLoop(ctx)

	zap.L().Info("Reconciliation worker started successfully",
		zap.Uint64("checkpoint", seq),
		zap.Duration("polling_interval", w.pollingInterval))
	return nil
}

// Stop gracefully stops the reconciliation worker
func (w *Worker) Stop() {
	zap.L().Info("Stopping reconciliation worker")
	close(w.stopChan)
	<-w.doneChan
	zap.L().Info("Reconciliation worker stopped")
}

// pollLoop runs the main polling loop
func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	w.pollEvents(ctx)

	for {
		select {
		case <-ticker.C:
			w.pollEvents(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollEvents reads everything past the checkpoint and applies it in ledger
// order. The checkpoint moves past the contiguous prefix of fully applied
// events; the first failure stops the advance so the failed event and
// everything after it are seen again next poll.
func (w *Worker) pollEvents(ctx context.Context) {
	events, err := w.escrow.EventsSince(ctx, w.lastSeq)
	if err != nil {
		pollErrorsTotal.Inc()
		zap.L().Error("Failed to read ledger events",
			zap.Uint64("after_seq", w.lastSeq),
			zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	// Events apply in ledger order. The checkpoint only advances past the
	// contiguous prefix of applied events; events beyond a failure are still
	// attempted (one bad event must not starve the rest) and will be
	// replayed as no-ops once the gap clears.
	applied := w.lastSeq
	halted := false
	for _, ev := range events {
		outcome, err := w.applyEvent(ctx, ev)
		eventsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
		if err != nil {
			if outcome == outcomeConflict {
				conflictsTotal.Inc()
			}
			zap.L().Error("Failed to apply ledger event",
				zap.Uint64("seq", ev.Seq),
				zap.String("type", string(ev.Type)),
				zap.Uint64("purchase_id", ev.PurchaseId),
				zap.String("outcome", outcome),
				zap.Error(err))
			halted = true
			continue
		}
		if !halted {
			applied = ev.Seq
		}
	}

	if applied == w.lastSeq {
		return
	}
	if err := w.store.SetCheckpoint(ctx, checkpointName, applied); err != nil {
		// Keep the in-memory cursor back so the events are replayed; they
		// are idempotent.
		zap.L().Error("Failed to persist checkpoint", zap.Uint64("seq", applied), zap.Error(err))
		return
	}
	w.lastSeq = applied
	checkpointSeq.Set(float64(applied))
}

func (w *Worker) applyEvent(ctx context.Context, ev chain.Event) (string, error) {
	switch ev.Type {
	case chain.EventPurchased:
		return w.applyPurchased(ctx, ev)
	case chain.EventConfirmed:
		return w.applySettled(ctx, ev, catalog.SettlementConfirmed, catalog.MovementRelease)
	case chain.EventRefunded:
		return w.applySettled(ctx, ev, catalog.SettlementRefunded, catalog.MovementRefund)
	default:
		zap.L().Warn("Skipping unrecognized ledger event", zap.String("type", string(ev.Type)))
		return outcomeUnmatched, nil
	}
}

// applyPurchased binds the on-chain purchase to its listing and marks it
// sold. Correlation is by purchase id when the binding already exists
// (replay), otherwise by matching (seller, asset, exact price) against open
// listings. A purchase made outside the catalog matches nothing and is
// skipped: the mirror only tracks its own listings.
func (w *Worker) applyPurchased(ctx context.Context, ev chain.Event) (string, error) {
	listing, err := w.store.FindListingByPurchaseId(ctx, ev.PurchaseId)
	switch {
	case err == nil:
		// Already bound; re-assert and make sure the movement exists.
		if err := w.store.MarkListingSold(ctx, listing.Id, ev.PurchaseId); err != nil {
			if errors.Is(err, catalog.ErrPurchaseMismatch) {
				return outcomeConflict, err
			}
			return outcomeError, err
		}
		if err := w.recordMovement(ctx, ev.PurchaseId, catalog.MovementLock,
			ev.Buyer, w.escrow.Contract(), ev.Amount, ev.Asset); err != nil {
			return outcomeError, err
		}
		return outcomeReplayed, nil
	case errors.Is(err, catalog.ErrListingNotFound):
		// Fall through to correlation below.
	default:
		return outcomeError, err
	}

	decimals, err := w.assets.Decimals(ev.Asset)
	if err != nil {
		zap.L().Warn("Purchase in unconfigured asset, skipping",
			zap.Uint64("purchase_id", ev.PurchaseId),
			zap.String("asset", ev.Asset.Hex()))
		return outcomeUnmatched, nil
	}
	price := market.FromBaseUnits(ev.Amount, decimals)

	candidates, err := w.store.FindOpenListings(ctx, ev.Seller.Hex(), ev.Asset.Hex())
	if err != nil {
		return outcomeError, err
	}
	matched := matchListingByPrice(candidates, price)
	if matched == nil {
		zap.L().Warn("No open listing matches purchase, skipping",
			zap.Uint64("purchase_id", ev.PurchaseId),
			zap.String("seller", ev.Seller.Hex()),
			zap.String("price", price.String()),
			zap.String("asset", ev.Asset.Hex()))
		return outcomeUnmatched, nil
	}

	if err := w.store.MarkListingSold(ctx, matched.Id, ev.PurchaseId); err != nil {
		if errors.Is(err, catalog.ErrPurchaseMismatch) {
			return outcomeConflict, err
		}
		return outcomeError, err
	}
	if err := w.recordMovement(ctx, ev.PurchaseId, catalog.MovementLock,
		ev.Buyer, w.escrow.Contract(), ev.Amount, ev.Asset); err != nil {
		return outcomeError, err
	}

	zap.L().Info("Purchase reconciled to listing",
		zap.Uint64("purchase_id", ev.PurchaseId),
		zap.String("listing_id", matched.Id),
		zap.String("buyer", ev.Buyer.Hex()),
		zap.String("price", price.String()))
	return outcomeApplied, nil
}

// applySettled records the terminal settlement outcome. Settlement events
// carry only the purchase id, so the parties and amount for the audit
// movement come from the purchase record itself.
func (w *Worker) applySettled(ctx context.Context, ev chain.Event, status, movementKind string) (string, error) {
	err := w.store.SetSettlementStatus(ctx, ev.PurchaseId, status)
	switch {
	case err == nil:
		// Applied or converged replay.
	case errors.Is(err, catalog.ErrListingNotFound):
		zap.L().Warn("Settlement for purchase with no mirrored listing, skipping",
			zap.Uint64("purchase_id", ev.PurchaseId),
			zap.String("status", status))
		return outcomeUnmatched, nil
	case errors.Is(err, catalog.ErrSettlementConflict):
		return outcomeConflict, err
	default:
		return outcomeError, err
	}

	purchase, err := w.escrow.GetPurchase(ctx, ev.PurchaseId)
	if err != nil {
		return outcomeError, fmt.Errorf("reading purchase %d for audit movement: %w", ev.PurchaseId, err)
	}

	to := purchase.Seller
	if movementKind == catalog.MovementRefund {
		to = purchase.Buyer
	}
	if err := w.recordMovement(ctx, ev.PurchaseId, movementKind,
		w.escrow.Contract(), to, purchase.Amount, purchase.Asset); err != nil {
		return outcomeError, err
	}

	zap.L().Info("Settlement reconciled",
		zap.Uint64("purchase_id", ev.PurchaseId),
		zap.String("status", status))
	return outcomeApplied, nil
}

func (w *Worker) recordMovement(ctx context.Context, purchaseId uint64, kind string,
	from, to chain.Address, amount *big.Int, asset chain.Address) error {

	decimals, err := w.assets.Decimals(asset)
	if err != nil {
		// Unconfigured asset; the settlement status update above is still
		// the authoritative part of the mirror.
		return nil
	}

	err = w.store.RecordEscrowMovement(ctx, catalog.EscrowMovementParams{
		PurchaseId:  purchaseId,
		Kind:        kind,
		FromAccount: from.Hex(),
		ToAccount:   to.Hex(),
		Amount:      market.FromBaseUnits(amount, decimals),
		Asset:       asset.Hex(),
	})
	if err != nil && !errors.Is(err, catalog.ErrDuplicateMovement) {
		return err
	}
	return nil
}

// matchListingByPrice returns the oldest open listing whose price equals
// the observed amount. Equality is decimal equality, not string equality:
// "19.90" and "19.9" are the same price.
func matchListingByPrice(candidates []models.Listing, price decimal.Decimal) *models.Listing {
	for i := range candidates {
		if candidates[i].Price.Equal(price) {
			return &candidates[i]
		}
	}
	return nil
}
