package bridge

import (
	"errors"

	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/lifecycle"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/recovery"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/embernetwork/ember-wallet/internal/wallet"
)

// Host-facing error codes. Every accessor reports failure through one of
// these instead of a Go error value.
const (
	ERROR_NONE                     uint64 = 0
	ERROR_NOT_FOUND                uint64 = 1
	ERROR_DUPLICATE_ID             uint64 = 2
	ERROR_INVALID_STATE_TRANSITION uint64 = 3
	ERROR_INSUFFICIENT_FUNDS       uint64 = 4
	ERROR_INVALID_ADDRESS          uint64 = 5
	ERROR_RECOVERY_IN_PROGRESS     uint64 = 6
	ERROR_NETWORK_UNAVAILABLE      uint64 = 7
	ERROR_INVALID_ARGUMENT         uint64 = 8
	ERROR_INVALID_HANDLE           uint64 = 9
	ERROR_INTERNAL                 uint64 = 10
)

// CodeForError flattens the internal error taxonomy to a host error code.
func CodeForError(err error) uint64 {
	switch {
	case err == nil:
		return ERROR_NONE
	case errors.Is(err, state.ErrNotFound):
		return ERROR_NOT_FOUND
	case errors.Is(err, state.ErrDuplicateID):
		return ERROR_DUPLICATE_ID
	case errors.Is(err, lifecycle.ErrInvalidStateTransition):
		return ERROR_INVALID_STATE_TRANSITION
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return ERROR_INSUFFICIENT_FUNDS
	case errors.Is(err, wallet.ErrInvalidAmount):
		return ERROR_INVALID_ARGUMENT
	case errors.Is(err, keys.ErrInvalidAddress):
		return ERROR_INVALID_ADDRESS
	case errors.Is(err, recovery.ErrRecoveryInProgress):
		return ERROR_RECOVERY_IN_PROGRESS
	case errors.Is(err, node.ErrNetworkUnavailable):
		return ERROR_NETWORK_UNAVAILABLE
	default:
		return ERROR_INTERNAL
	}
}
