package node

import (
	"context"
	"errors"
)

// ErrNetworkUnavailable marks transient base node failures. Callers retry or
// queue, they do not surface it to the host until retry limits are exhausted.
var ErrNetworkUnavailable = errors.New("network unavailable")

// TxChainStatus is the base node's view of one transaction, looked up by its
// kernel excess.
type TxChainStatus struct {
	KernelExcess  string
	Mined         bool
	MinedHeight   uint64
	Confirmations uint64
	Reorged       bool
	Rejected      bool
	RejectReason  string // "double_spend", "orphan", "invalid_transaction"
}

// TxoChainStatus is the base node's view of one output commitment.
type TxoChainStatus struct {
	Commitment  string
	Mined       bool
	MinedHeight uint64
	Spent       bool
}

// ScannedOutput is an output discovered for the wallet during a recovery
// scanning round.
type ScannedOutput struct {
	Commitment     string
	Value          uint64
	MaturityHeight uint64
}

// Client is the wallet's contract with the chain-validating peer. The
// concrete wire transport sits behind this interface and is out of scope
// here.
type Client interface {
	// Connect establishes (or re-establishes) the base node session.
	Connect(ctx context.Context) error

	// GetTipHeight returns the current chain tip.
	GetTipHeight(ctx context.Context) (uint64, error)

	// SubmitTransaction broadcasts a finalized transaction, identified by its
	// kernel excess. Re-submitting an already-known transaction succeeds.
	SubmitTransaction(ctx context.Context, kernelExcess string) error

	// QueryTransactions resolves chain status for the given kernel excesses.
	QueryTransactions(ctx context.Context, kernelExcesses []string) ([]TxChainStatus, error)

	// QueryTxos resolves chain status for the given output commitments.
	QueryTxos(ctx context.Context, commitments []string) ([]TxoChainStatus, error)

	// ScanOutputs returns wallet outputs found in [startHeight, startHeight+count)
	// for the given scan key, plus the height the next round should start at.
	ScanOutputs(ctx context.Context, startHeight, count uint64, scanKey string) ([]ScannedOutput, uint64, error)
}
