package chain

import (
	"errors"
	"fmt"
)

// Closed error taxonomy for ledger-facing operations. Every error leaving
// this package is one of these; callers decide "retry" vs "re-read state
// first" with errors.Is/errors.As, never by string matching.
var (
	// ErrWrongNetwork means the connected node's chain id does not match the
	// configured one. Reported distinctly from all transactional errors.
	ErrWrongNetwork = errors.New("connected network does not match expected chain id")

	// ErrApprovalRequired means a token-path preflight found the allowance
	// short of the purchase amount. The approval protocol must run before
	// the purchase is retried.
	ErrApprovalRequired = errors.New("insufficient token allowance, approval required before purchase")

	// ErrUnknownPurchase is returned by reads for an id the ledger never assigned.
	ErrUnknownPurchase = errors.New("unknown purchase id")
)

// RevertedError means the ledger executed the call and rejected it (wrong
// state, wrong identity, insufficient funds or allowance). Not retryable
// as-is: the caller must re-fetch authoritative state before deciding the
// next action.
type RevertedError struct {
	Op     string
	Reason string
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: ledger rejected the call", e.Op)
	}
	return fmt.Sprintf("%s: ledger rejected the call: %s", e.Op, e.Reason)
}

// SubmissionError means the call never reached the ledger, or the signing
// agent refused it. Locally recoverable by retry.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submission failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ReadError means a read-only query could not be serviced. The answer is
// unknown; callers must never default to a permissive assumption.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: ledger read failed: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// revertReasoner is the duck-typed shape client libraries use to carry a
// revert reason. It is inspected here, at the binding boundary, and nowhere
// else.
type revertReasoner interface {
	RevertReason() string
}

// mapSubmitError converts a raw backend error into the closed taxonomy.
func mapSubmitError(op string, err error) error {
	var already *RevertedError
	if errors.As(err, &already) {
		return err
	}
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return err
	}
	var rr revertReasoner
	if errors.As(err, &rr) {
		return &RevertedError{Op: op, Reason: rr.RevertReason()}
	}
	return &SubmissionError{Op: op, Err: err}
}

// mapReadError converts a raw backend error into the closed taxonomy,
// passing sentinel lookup misses through untouched.
func mapReadError(op string, err error) error {
	if errors.Is(err, ErrUnknownPurchase) {
		return err
	}
	var already *ReadError
	if errors.As(err, &already) {
		return err
	}
	return &ReadError{Op: op, Err: err}
}
