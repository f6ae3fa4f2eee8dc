package state

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate transaction id")
)

// Balance is derived from the store, never persisted independently.
type Balance struct {
	Available       uint64 `json:"available"`
	TimeLocked      uint64 `json:"time_locked"`
	PendingIncoming uint64 `json:"pending_incoming"`
	PendingOutgoing uint64 `json:"pending_outgoing"`
}

// Connectivity status codes delivered to the host.
const (
	CONNECTIVITY_CONNECTING uint64 = 0
	CONNECTIVITY_ONLINE     uint64 = 1
	CONNECTIVITY_OFFLINE    uint64 = 2
)

// TxEvent is the payload for transaction lifecycle events.
type TxEvent struct {
	TxID          uint64
	Collection    string
	Status        string
	Confirmations uint64
	CancelReason  uint64
}

// ValidationEvent is the payload for validation completion events.
type ValidationEvent struct {
	RequestKey uint64
	Success    bool
}

// ContactLivenessEvent is the payload for contact liveness updates.
type ContactLivenessEvent struct {
	Alias      string
	PublicKey  string
	LastSeenAt time.Time
	Online     bool
}
