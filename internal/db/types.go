package db

const (
	COLLECTION_PENDING_INBOUND  = "pending_inbound"
	COLLECTION_PENDING_OUTBOUND = "pending_outbound"
	COLLECTION_COMPLETED        = "completed"
	COLLECTION_CANCELLED        = "cancelled"

	TX_DIRECTION_INBOUND  = "inbound"
	TX_DIRECTION_OUTBOUND = "outbound"

	TX_STATUS_PENDING         = "pending"
	TX_STATUS_BROADCAST       = "broadcast"
	TX_STATUS_MINED_UNCONFIRM = "mined_unconfirm"
	TX_STATUS_MINED_CONFIRMED = "mined_confirmed"
	TX_STATUS_IMPORTED        = "imported"
	TX_STATUS_COINBASE        = "coinbase"
	TX_STATUS_REJECTED        = "rejected"
	TX_STATUS_CANCELLED       = "cancelled"

	CANCEL_REASON_UNKNOWN            = "unknown"
	CANCEL_REASON_USER_CANCELLED     = "user_cancelled"
	CANCEL_REASON_TIMEOUT            = "timeout"
	CANCEL_REASON_DOUBLE_SPEND       = "double_spend"
	CANCEL_REASON_ORPHAN             = "orphan"
	CANCEL_REASON_TIME_LOCKED        = "time_locked"
	CANCEL_REASON_INVALID_TX         = "invalid_transaction"
	CANCEL_REASON_ABANDONED_COINBASE = "abandoned_coinbase"

	UTXO_STATUS_UNSPENT    = "unspent"
	UTXO_STATUS_ENCUMBERED = "encumbered"
	UTXO_STATUS_SPENT      = "spent"

	UTXO_SOURCE_RECEIVED  = "received"
	UTXO_SOURCE_CHANGE    = "change"
	UTXO_SOURCE_IMPORTED  = "imported"
	UTXO_SOURCE_RECOVERED = "recovered"
	UTXO_SOURCE_COINBASE  = "coinbase"
)

// CancelReasonCode maps a stored cancellation reason to the numeric code
// delivered at the host boundary.
func CancelReasonCode(reason string) uint64 {
	switch reason {
	case CANCEL_REASON_UNKNOWN:
		return 0
	case CANCEL_REASON_USER_CANCELLED:
		return 1
	case CANCEL_REASON_TIMEOUT:
		return 2
	case CANCEL_REASON_DOUBLE_SPEND:
		return 3
	case CANCEL_REASON_ORPHAN:
		return 4
	case CANCEL_REASON_TIME_LOCKED:
		return 5
	case CANCEL_REASON_INVALID_TX:
		return 6
	case CANCEL_REASON_ABANDONED_COINBASE:
		return 7
	default:
		return 0
	}
}
