package state

import (
	"sync"
	"sync/atomic"

	"github.com/embernetwork/ember-wallet/internal/db"
	log "github.com/sirupsen/logrus"
)

// State is the ledger store. It exclusively owns all transaction, output and
// contact records; coordinators hold transaction ids only and re-fetch after
// any suspension point.
type State struct {
	EventBus *EventBus

	dbm *db.DatabaseManager

	// Separate mutexes for different sub-modules. Lock order when both are
	// needed: walletMu before utxoMu.
	walletMu  sync.RWMutex
	utxoMu    sync.RWMutex
	contactMu sync.RWMutex

	nextTxID     atomic.Uint64
	tipHeight    atomic.Uint64
	connectivity atomic.Uint64
}

// InitializeState initializes the state by reading from the DB
func InitializeState(dbm *db.DatabaseManager) *State {
	s := &State{
		EventBus: NewEventBus(),
		dbm:      dbm,
	}

	var maxTxID uint64
	if err := dbm.GetWalletDB().Model(&db.Transaction{}).
		Select("COALESCE(MAX(tx_id), 0)").Scan(&maxTxID).Error; err != nil {
		log.Warnf("Failed to load max transaction id: %v", err)
	}
	s.nextTxID.Store(maxTxID + 1)
	s.connectivity.Store(CONNECTIVITY_CONNECTING)

	var pendingInbound, pendingOutbound, completed int64
	dbm.GetWalletDB().Model(&db.Transaction{}).Where("collection = ?", db.COLLECTION_PENDING_INBOUND).Count(&pendingInbound)
	dbm.GetWalletDB().Model(&db.Transaction{}).Where("collection = ?", db.COLLECTION_PENDING_OUTBOUND).Count(&pendingOutbound)
	dbm.GetWalletDB().Model(&db.Transaction{}).Where("collection = ?", db.COLLECTION_COMPLETED).Count(&completed)

	log.Infof("State init on startup, next tx id: %d, pending inbound: %d, pending outbound: %d, completed: %d",
		maxTxID+1, pendingInbound, pendingOutbound, completed)

	return s
}

// NextTxID issues a monotonically increasing transaction id, stable for the
// transaction's lifetime.
func (s *State) NextTxID() uint64 {
	return s.nextTxID.Add(1) - 1
}

// GetTipHeight reads the last chain tip reported by validation.
func (s *State) GetTipHeight() uint64 {
	return s.tipHeight.Load()
}

// SetTipHeight records the chain tip and refreshes the balance, time-locked
// outputs may have matured.
func (s *State) SetTipHeight(height uint64) {
	old := s.tipHeight.Swap(height)
	if old != height {
		s.publishBalance()
	}
}

// GetConnectivity reads the current base node connectivity status.
func (s *State) GetConnectivity() uint64 {
	return s.connectivity.Load()
}

// SetConnectivity records base node connectivity, publishing only on change.
func (s *State) SetConnectivity(status uint64) {
	old := s.connectivity.Swap(status)
	if old != status {
		s.EventBus.Publish(ConnectivityChanged, status)
	}
}
