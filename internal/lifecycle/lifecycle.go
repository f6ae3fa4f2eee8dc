package lifecycle

import (
	"errors"
	"fmt"

	"github.com/embernetwork/ember-wallet/internal/db"
)

var ErrInvalidStateTransition = errors.New("invalid state transition")

// legal forward transitions, keyed by current status
var transitions = map[string]map[string]bool{
	db.TX_STATUS_PENDING: {
		db.TX_STATUS_BROADCAST:       true,
		db.TX_STATUS_MINED_UNCONFIRM: true,
		db.TX_STATUS_REJECTED:        true,
		db.TX_STATUS_CANCELLED:       true,
	},
	db.TX_STATUS_BROADCAST: {
		db.TX_STATUS_MINED_UNCONFIRM: true,
		db.TX_STATUS_MINED_CONFIRMED: true,
		db.TX_STATUS_REJECTED:        true,
		db.TX_STATUS_CANCELLED:       true,
	},
	db.TX_STATUS_MINED_UNCONFIRM: {
		db.TX_STATUS_MINED_UNCONFIRM: true, // confirmation count refresh
		db.TX_STATUS_MINED_CONFIRMED: true,
		db.TX_STATUS_REJECTED:        true,
	},
	db.TX_STATUS_MINED_CONFIRMED: {
		db.TX_STATUS_MINED_CONFIRMED: true, // confirmation count refresh
	},
	db.TX_STATUS_IMPORTED: {
		db.TX_STATUS_MINED_UNCONFIRM: true,
		db.TX_STATUS_MINED_CONFIRMED: true,
		db.TX_STATUS_REJECTED:        true,
	},
	db.TX_STATUS_COINBASE: {
		db.TX_STATUS_MINED_UNCONFIRM: true,
		db.TX_STATUS_MINED_CONFIRMED: true,
		db.TX_STATUS_CANCELLED:       true, // abandoned coinbase
	},
	db.TX_STATUS_REJECTED:  {},
	db.TX_STATUS_CANCELLED: {},
}

// CanTransition reports whether moving from one status to another is legal.
// The only path backwards is mined_confirmed to mined_unconfirm, permitted
// solely when the caller flags a re-org reported by validation.
func CanTransition(from, to string, reorg bool) bool {
	if from == db.TX_STATUS_MINED_CONFIRMED && to == db.TX_STATUS_MINED_UNCONFIRM {
		return reorg
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Apply moves the transaction to the new status, leaving it untouched on an
// illegal transition.
func Apply(tx *db.Transaction, to string, reorg bool) error {
	if !CanTransition(tx.Status, to, reorg) {
		return fmt.Errorf("%w: %s -> %s for tx %d", ErrInvalidStateTransition, tx.Status, to, tx.TxID)
	}
	tx.Status = to
	return nil
}

// IsTerminal reports whether no further status change is expected. A
// confirmed transaction still refreshes its confirmation count but is
// terminal for cancellation purposes.
func IsTerminal(status string) bool {
	switch status {
	case db.TX_STATUS_MINED_CONFIRMED, db.TX_STATUS_REJECTED, db.TX_STATUS_CANCELLED:
		return true
	}
	return false
}

// CanCancel reports whether cancellation is still semantically possible.
// Cancelling an already-cancelled transaction is handled by the caller as an
// idempotent no-op.
func CanCancel(status string) bool {
	switch status {
	case db.TX_STATUS_PENDING, db.TX_STATUS_BROADCAST, db.TX_STATUS_COINBASE:
		return true
	}
	return false
}

// Rank orders statuses by chain advancement, used to decide whether a
// validation result supersedes the stored state (last-validated-wins).
func Rank(status string) int {
	switch status {
	case db.TX_STATUS_PENDING:
		return 0
	case db.TX_STATUS_IMPORTED, db.TX_STATUS_COINBASE:
		return 1
	case db.TX_STATUS_BROADCAST:
		return 2
	case db.TX_STATUS_MINED_UNCONFIRM:
		return 3
	case db.TX_STATUS_MINED_CONFIRMED:
		return 4
	case db.TX_STATUS_REJECTED, db.TX_STATUS_CANCELLED:
		return 5
	default:
		return -1
	}
}

// StatusForDepth resolves mined status from observed confirmations against
// the wallet-wide required depth.
func StatusForDepth(confirmations, required uint64) string {
	if confirmations >= required {
		return db.TX_STATUS_MINED_CONFIRMED
	}
	return db.TX_STATUS_MINED_UNCONFIRM
}
