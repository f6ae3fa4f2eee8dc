package state

import (
	"github.com/embernetwork/ember-wallet/internal/db"
	log "github.com/sirupsen/logrus"
)

// ComputeBalance derives the wallet balance from a store snapshot. Pure
// function, the same inputs always produce the same balance.
func ComputeBalance(utxos []*db.Utxo, pendingInbound, pendingOutbound []*db.Transaction, tipHeight uint64) Balance {
	var b Balance
	for _, utxo := range utxos {
		if utxo.Status != db.UTXO_STATUS_UNSPENT {
			continue
		}
		if utxo.MaturityHeight > tipHeight {
			b.TimeLocked += utxo.Value
		} else {
			b.Available += utxo.Value
		}
	}
	for _, tx := range pendingInbound {
		if tx.Status == db.TX_STATUS_PENDING || tx.Status == db.TX_STATUS_BROADCAST {
			b.PendingIncoming += tx.Amount
		}
	}
	for _, tx := range pendingOutbound {
		if tx.Status == db.TX_STATUS_PENDING || tx.Status == db.TX_STATUS_BROADCAST {
			b.PendingOutgoing += tx.Amount + tx.Fee
		}
	}
	return b
}

// GetBalance recomputes the balance from the current store contents.
func (s *State) GetBalance() (Balance, error) {
	s.walletMu.RLock()
	var pendingInbound, pendingOutbound []*db.Transaction
	errIn := s.dbm.GetWalletDB().Where("collection = ?", db.COLLECTION_PENDING_INBOUND).Find(&pendingInbound).Error
	errOut := s.dbm.GetWalletDB().Where("collection = ?", db.COLLECTION_PENDING_OUTBOUND).Find(&pendingOutbound).Error
	s.walletMu.RUnlock()
	if errIn != nil {
		return Balance{}, errIn
	}
	if errOut != nil {
		return Balance{}, errOut
	}

	s.utxoMu.RLock()
	var utxos []*db.Utxo
	errUtxo := s.dbm.GetOutputDB().Find(&utxos).Error
	s.utxoMu.RUnlock()
	if errUtxo != nil {
		return Balance{}, errUtxo
	}

	// Broadcast outbound transactions live in the completed collection but
	// still count as pending outgoing until mined.
	s.walletMu.RLock()
	var broadcast []*db.Transaction
	errB := s.dbm.GetWalletDB().Where("collection = ? AND status = ?",
		db.COLLECTION_COMPLETED, db.TX_STATUS_BROADCAST).Find(&broadcast).Error
	s.walletMu.RUnlock()
	if errB != nil {
		return Balance{}, errB
	}
	for _, tx := range broadcast {
		if tx.Direction == db.TX_DIRECTION_OUTBOUND {
			pendingOutbound = append(pendingOutbound, tx)
		} else {
			pendingInbound = append(pendingInbound, tx)
		}
	}

	return ComputeBalance(utxos, pendingInbound, pendingOutbound, s.GetTipHeight()), nil
}

// publishBalance recomputes after a store mutation and notifies subscribers.
// The balance always reflects store state strictly after the triggering
// mutation, callers invoke it outside their critical section.
func (s *State) publishBalance() {
	balance, err := s.GetBalance()
	if err != nil {
		log.Errorf("State publishBalance error: %v", err)
		return
	}
	s.EventBus.Publish(BalanceUpdated, balance)
}
