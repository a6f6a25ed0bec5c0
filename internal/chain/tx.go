package chain

import (
	"context"
	"sync"
)

// TxStatus is the lifecycle of a submitted ledger operation. Finalization
// latency is externally determined and unbounded, so the intermediate
// submitted state is observable distinctly from either final outcome.
type TxStatus int

const (
	TxSubmitted TxStatus = iota
	TxFinalizedOk
	TxFinalizedFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxSubmitted:
		return "submitted"
	case TxFinalizedOk:
		return "finalized-ok"
	case TxFinalizedFailed:
		return "finalized-failed"
	default:
		return "unknown"
	}
}

// Receipt carries the finalized outcome of a submitted operation, including
// the events it emitted. For purchase submissions the assigned purchase id
// is extracted from the Purchased event here and nowhere else.
type Receipt struct {
	TxHash string
	Events []Event
}

// PurchasedEvent returns the Purchased event from the receipt, if any.
func (r *Receipt) PurchasedEvent() (Event, bool) {
	for _, ev := range r.Events {
		if ev.Type == EventPurchased {
			return ev, true
		}
	}
	return Event{}, false
}

// PendingTx is a submitted, not-yet-finalized ledger operation. Status is
// pollable; Wait blocks until finalization or until ctx is done. Cancelling
// the wait abandons observation only: the operation may still finalize
// later and its events flow through reconciliation regardless.
type PendingTx struct {
	hash string

	mu      sync.Mutex
	status  TxStatus
	receipt *Receipt
	err     error
	done    chan struct{}
}

func newPendingTx(hash string) *PendingTx {
	return &PendingTx{
		hash:   hash,
		status: TxSubmitted,
		done:   make(chan struct{}),
	}
}

// Hash returns the submission hash identifying the pending operation.
func (t *PendingTx) Hash() string {
	return t.hash
}

// Status returns the current lifecycle state.
func (t *PendingTx) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Wait blocks until the operation finalizes and returns its receipt, or the
// finalization failure, or ctx.Err() if the caller abandons the wait.
func (t *PendingTx) Wait(ctx context.Context) (*Receipt, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.receipt, nil
}

// finalize records the outcome exactly once; later calls are ignored.
func (t *PendingTx) finalize(receipt *Receipt, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return
	default:
	}

	if err != nil {
		t.status = TxFinalizedFailed
		t.err = err
	} else {
		t.status = TxFinalizedOk
		t.receipt = receipt
	}
	close(t.done)
}
