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
	"sync"
)

// revertError mimics the duck-typed revert shape a real client library
// produces. It is converted into the closed taxonomy at the Escrow boundary.
type revertError struct {
	reason string
}

func (e *revertError) Error() string {
	return "execution reverted: " + e.reason
}

func (e *revertError) RevertReason() string {
	return e.reason
}

type allowanceKey struct {
	asset   Address
	owner   Address
	spender Address
}

type saleKey struct {
	seller Address
	amount string
	asset  Address
}

type pendingApply struct {
	tx    *PendingTx
	apply func() (*Receipt, error)
}

// MemoryBackend is an in-process ledger faithful to the escrow contract's
// state machine: monotonic purchase ids starting at 1, terminal-once
// settlement, buyer/seller identity enforcement, allowance bookkeeping for
// the token path, and an ordered event log. It serializes all state changes
// under one lock, matching the strict per-record total order the real
// ledger provides.
//
// It backs local development and deterministic tests; fault injection and a
// finality gate expose the failure modes and the submitted-not-finalized
// window that a live chain produces naturally.
type MemoryBackend struct {
	mu sync.Mutex

	chainId    uint64
	contract   Address
	purchases  []*Purchase
	events     []Event
	seq        uint64
	allowances map[allowanceKey]*big.Int
	sold       map[saleKey]bool
	txCounter  uint64

	purchaseSubmissions int

	readErr   error
	submitErr error

	gated   bool
	pending []pendingApply
}

func NewMemoryBackend(chainId uint64, contract Address) *MemoryBackend {
	return &MemoryBackend{
		chainId:    chainId,
		contract:   contract,
		allowances: make(map[allowanceKey]*big.Int),
		sold:       make(map[saleKey]bool),
	}
}

func (m *MemoryBackend) ChainId(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.chainId, nil
}

// FailReads makes all read operations return err until cleared with nil.
func (m *MemoryBackend) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailSubmissions makes all submissions return err until cleared with nil.
func (m *MemoryBackend) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// GateFinality holds submitted operations in the submitted state until
// ReleaseNext is called for each.
func (m *MemoryBackend) GateFinality() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gated = true
}

// ReleaseNext finalizes the oldest held submission. Returns false when
// nothing is held.
func (m *MemoryBackend) ReleaseNext() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	next := m.pending[0]
	m.pending = m.pending[1:]
	receipt, err := next.apply()
	m.mu.Unlock()

	next.tx.finalize(receipt, err)
	return true
}

// PurchaseSubmissions counts purchase calls that reached the ledger. A
// preflighted ApprovalRequired outcome must leave this untouched.
func (m *MemoryBackend) PurchaseSubmissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchaseSubmissions
}

// SetAllowance seeds a token allowance, standing in for an approval made
// out-of-band (or revoked by a third party mid-flow).
func (m *MemoryBackend) SetAllowance(asset, owner, spender Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{asset, owner, spender}] = new(big.Int).Set(amount)
}

func (m *MemoryBackend) allowanceLocked(asset, owner, spender Address) *big.Int {
	if a, ok := m.allowances[allowanceKey{asset, owner, spender}]; ok {
		return a
	}
	return big.NewInt(0)
}

func (m *MemoryBackend) nextTxHashLocked() string {
	m.txCounter++
	return fmt.Sprintf("0x%064x", m.txCounter)
}

func (m *MemoryBackend) emitLocked(ev Event) {
	m.seq++
	ev.Seq = m.seq
	m.events = append(m.events, ev)
}

// submit runs validate for the fail-fast revert a real client surfaces at
// submission, then finalizes through apply. Under the finality gate the
// apply step re-validates, so a race decided while the tx was in flight
// finalizes as failed rather than double-applying.
func (m *MemoryBackend) submit(validate func() error, apply func(tx *PendingTx) (*Receipt, error)) (*PendingTx, error) {
	m.mu.Lock()

	if m.submitErr != nil {
		err := m.submitErr
		m.mu.Unlock()
		return nil, err
	}
	if err := validate(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	tx := newPendingTx(m.nextTxHashLocked())
	if m.gated {
		m.pending = append(m.pending, pendingApply{
			tx:    tx,
			apply: func() (*Receipt, error) { return apply(tx) },
		})
		m.mu.Unlock()
		return tx, nil
	}

	receipt, err := apply(tx)
	m.mu.Unlock()

	tx.finalize(receipt, err)
	return tx, nil
}

func (m *MemoryBackend) validatePurchaseLocked(from, seller Address, amount *big.Int, asset Address, value *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return &revertError{reason: "amount must be positive"}
	}
	if from == seller {
		return &revertError{reason: "buyer and seller must differ"}
	}
	if m.sold[saleKey{seller, amount.String(), asset}] {
		return &revertError{reason: "already sold"}
	}
	if asset.IsZero() {
		if value == nil || value.Cmp(amount) != 0 {
			return &revertError{reason: "incorrect payment value"}
		}
		return nil
	}
	if value != nil && value.Sign() != 0 {
		return &revertError{reason: "unexpected payment value on token purchase"}
	}
	if m.allowanceLocked(asset, from, m.contract).Cmp(amount) < 0 {
		return &revertError{reason: "insufficient allowance"}
	}
	return nil
}

func (m *MemoryBackend) SubmitPurchase(_ context.Context, from, seller Address, amount *big.Int, asset Address, value *big.Int) (*PendingTx, error) {
	return m.submit(
		func() error {
			return m.validatePurchaseLocked(from, seller, amount, asset, value)
		},
		func(tx *PendingTx) (*Receipt, error) {
			if err := m.validatePurchaseLocked(from, seller, amount, asset, value); err != nil {
				return nil, err
			}
			m.purchaseSubmissions++

			if !asset.IsZero() {
				key := allowanceKey{asset, from, m.contract}
				remaining := new(big.Int).Sub(m.allowanceLocked(asset, from, m.contract), amount)
				m.allowances[key] = remaining
			}

			p := &Purchase{
				Id:     uint64(len(m.purchases)) + 1,
				Buyer:  from,
				Seller: seller,
				Amount: new(big.Int).Set(amount),
				Asset:  asset,
			}
			m.purchases = append(m.purchases, p)
			m.sold[saleKey{seller, amount.String(), asset}] = true

			ev := Event{
				Type:       EventPurchased,
				PurchaseId: p.Id,
				Buyer:      p.Buyer,
				Seller:     p.Seller,
				Amount:     new(big.Int).Set(p.Amount),
				Asset:      p.Asset,
			}
			m.emitLocked(ev)
			ev.Seq = m.seq

			return &Receipt{TxHash: tx.Hash(), Events: []Event{ev}}, nil
		},
	)
}

func (m *MemoryBackend) settleValidateLocked(from Address, purchaseId uint64, confirm bool) (*Purchase, error) {
	if purchaseId == 0 || purchaseId > uint64(len(m.purchases)) {
		return nil, &revertError{reason: "unknown purchase"}
	}
	p := m.purchases[purchaseId-1]
	if p.Terminal() {
		return nil, &revertError{reason: "already settled"}
	}
	if confirm && from != p.Buyer {
		return nil, &revertError{reason: "only buyer can confirm"}
	}
	if !confirm && from != p.Seller {
		return nil, &revertError{reason: "only seller can refund"}
	}
	return p, nil
}

func (m *MemoryBackend) SubmitConfirm(_ context.Context, from Address, purchaseId uint64) (*PendingTx, error) {
	return m.submit(
		func() error {
			_, err := m.settleValidateLocked(from, purchaseId, true)
			return err
		},
		func(tx *PendingTx) (*Receipt, error) {
			p, err := m.settleValidateLocked(from, purchaseId, true)
			if err != nil {
				return nil, err
			}
			p.IsConfirmed = true
			ev := Event{Type: EventConfirmed, PurchaseId: p.Id}
			m.emitLocked(ev)
			ev.Seq = m.seq
			return &Receipt{TxHash: tx.Hash(), Events: []Event{ev}}, nil
		},
	)
}

func (m *MemoryBackend) SubmitRefund(_ context.Context, from Address, purchaseId uint64) (*PendingTx, error) {
	return m.submit(
		func() error {
			_, err := m.settleValidateLocked(from, purchaseId, false)
			return err
		},
		func(tx *PendingTx) (*Receipt, error) {
			p, err := m.settleValidateLocked(from, purchaseId, false)
			if err != nil {
				return nil, err
			}
			p.IsRefunded = true
			ev := Event{Type: EventRefunded, PurchaseId: p.Id}
			m.emitLocked(ev)
			ev.Seq = m.seq
			return &Receipt{TxHash: tx.Hash(), Events: []Event{ev}}, nil
		},
	)
}

func (m *MemoryBackend) GetPurchase(_ context.Context, purchaseId uint64) (*Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, m.readErr
	}
	if purchaseId == 0 || purchaseId > uint64(len(m.purchases)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPurchase, purchaseId)
	}

	p := m.purchases[purchaseId-1]
	out := *p
	out.Amount = new(big.Int).Set(p.Amount)
	return &out, nil
}

func (m *MemoryBackend) PurchaseCount(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	return uint64(len(m.purchases)), nil
}

func (m *MemoryBackend) Allowance(_ context.Context, asset, owner, spender Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return new(big.Int).Set(m.allowanceLocked(asset, owner, spender)), nil
}

func (m *MemoryBackend) SubmitApprove(_ context.Context, from, asset, spender Address, amount *big.Int) (*PendingTx, error) {
	if asset.IsZero() {
		return nil, &revertError{reason: "native asset has no allowance"}
	}
	return m.submit(
		func() error {
			if amount == nil || amount.Sign() < 0 {
				return &revertError{reason: "negative approval amount"}
			}
			return nil
		},
		func(tx *PendingTx) (*Receipt, error) {
			m.allowances[allowanceKey{asset, from, spender}] = new(big.Int).Set(amount)
			return &Receipt{TxHash: tx.Hash()}, nil
		},
	)
}

func (m *MemoryBackend) EventsSince(_ context.Context, afterSeq uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, m.readErr
	}

	var out []Event
	for _, ev := range m.events {
		if ev.Seq > afterSeq {
			copied := ev
			if ev.Amount != nil {
				copied.Amount = new(big.Int).Set(ev.Amount)
			}
			out = append(out, copied)
		}
	}
	return out, nil
}
