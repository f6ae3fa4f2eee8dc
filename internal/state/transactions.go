package state

import (
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/lifecycle"
	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InsertTransaction adds a new transaction to its collection. A tx_id already
// present in any collection is a programming error and is logged with a stack
// before being returned.
func (s *State) InsertTransaction(tx *db.Transaction) error {
	s.walletMu.Lock()

	var existing db.Transaction
	err := s.dbm.GetWalletDB().Where("tx_id = ?", tx.TxID).First(&existing).Error
	if err == nil {
		wrapped := goerrors.Wrap(ErrDuplicateID, 0)
		log.Errorf("State InsertTransaction tx %d already in collection %s: %v\n%s",
			tx.TxID, existing.Collection, ErrDuplicateID, wrapped.ErrorStack())
		s.walletMu.Unlock()
		return ErrDuplicateID
	}
	if err != gorm.ErrRecordNotFound {
		s.walletMu.Unlock()
		return err
	}

	tx.UpdatedAt = time.Now()
	if result := s.dbm.GetWalletDB().Create(tx); result.Error != nil {
		log.Errorf("State InsertTransaction error: %v", result.Error)
		s.walletMu.Unlock()
		return result.Error
	}
	s.walletMu.Unlock()

	s.publishBalance()
	return nil
}

// GetTransaction returns a copy of the transaction with the given id.
func (s *State) GetTransaction(txID uint64) (*db.Transaction, error) {
	s.walletMu.RLock()
	defer s.walletMu.RUnlock()

	return s.getTransaction(txID)
}

func (s *State) getTransaction(txID uint64) (*db.Transaction, error) {
	var tx db.Transaction
	result := s.dbm.GetWalletDB().Where("tx_id = ?", txID).First(&tx)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &tx, nil
}

// ListTransactions returns a snapshot of a collection at call time. The slice
// and its elements are copies, later store mutation does not touch them.
func (s *State) ListTransactions(collection string) ([]*db.Transaction, error) {
	s.walletMu.RLock()
	defer s.walletMu.RUnlock()

	var txs []*db.Transaction
	result := s.dbm.GetWalletDB().Where("collection = ?", collection).Order("tx_id asc").Find(&txs)
	if result.Error != nil {
		return nil, result.Error
	}
	return txs, nil
}

// MoveTransaction moves a transaction between collections. Moving a
// transaction that already sits in the target collection succeeds as an
// already-applied no-op.
func (s *State) MoveTransaction(txID uint64, from, to string) error {
	s.walletMu.Lock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		s.walletMu.Unlock()
		return err
	}
	if tx.Collection == to {
		s.walletMu.Unlock()
		return nil
	}
	if tx.Collection != from {
		s.walletMu.Unlock()
		return ErrNotFound
	}

	tx.Collection = to
	tx.UpdatedAt = time.Now()
	if err := s.saveTransaction(tx); err != nil {
		s.walletMu.Unlock()
		return err
	}
	s.walletMu.Unlock()

	s.publishBalance()
	return nil
}

// SetTransactionKernel records the finalized kernel blobs for a transaction.
func (s *State) SetTransactionKernel(txID uint64, excess, nonce, sig []byte) error {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		return err
	}

	tx.KernelExcess = excess
	tx.KernelNonce = nonce
	tx.KernelSig = sig
	tx.UpdatedAt = time.Now()
	return s.saveTransaction(tx)
}

// MarkBroadcast transitions a pending transaction to broadcast and moves it
// to the completed collection. Idempotent for an already-broadcast tx.
func (s *State) MarkBroadcast(txID uint64) error {
	s.walletMu.Lock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		s.walletMu.Unlock()
		return err
	}
	if tx.Status == db.TX_STATUS_BROADCAST && tx.Collection == db.COLLECTION_COMPLETED {
		s.walletMu.Unlock()
		return nil
	}

	if err := s.applyStatus(tx, db.TX_STATUS_BROADCAST, false); err != nil {
		s.walletMu.Unlock()
		return err
	}
	tx.Collection = db.COLLECTION_COMPLETED
	tx.UpdatedAt = time.Now()
	if err := s.saveTransaction(tx); err != nil {
		s.walletMu.Unlock()
		return err
	}
	event := TxEvent{TxID: tx.TxID, Collection: tx.Collection, Status: tx.Status}
	s.walletMu.Unlock()

	s.EventBus.Publish(TransactionBroadcast, event)
	s.publishBalance()
	return nil
}

// ApplyMinedUpdate applies a validation result for a single transaction.
// Results may arrive out of order, a result less advanced than the stored
// state is discarded as superseded (last-validated-wins). A re-org reported
// by validation is the only path from mined_confirmed back to
// mined_unconfirm. The faux flag marks results driven by TXO validation of
// imported or recovered outputs, which notify through the faux event pair
// and already carry their output.
func (s *State) ApplyMinedUpdate(txID uint64, status string, confirmations, minedHeight uint64, reorg, faux bool) error {
	s.walletMu.Lock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		s.walletMu.Unlock()
		return err
	}

	if !reorg {
		curRank, newRank := lifecycle.Rank(tx.Status), lifecycle.Rank(status)
		if newRank < curRank || (newRank == curRank && confirmations <= tx.Confirmation) {
			log.Debugf("State ApplyMinedUpdate tx %d superseded, stored %s/%d, result %s/%d",
				txID, tx.Status, tx.Confirmation, status, confirmations)
			s.walletMu.Unlock()
			return nil
		}
	}

	wasInbound := tx.Direction == db.TX_DIRECTION_INBOUND
	wasConfirmed := tx.Status == db.TX_STATUS_MINED_CONFIRMED
	faux = faux || tx.Status == db.TX_STATUS_IMPORTED

	if err := s.applyStatus(tx, status, reorg); err != nil {
		s.walletMu.Unlock()
		return err
	}
	tx.Confirmation = confirmations
	if minedHeight > 0 {
		tx.MinedHeight = minedHeight
	}
	if tx.Collection == db.COLLECTION_PENDING_INBOUND || tx.Collection == db.COLLECTION_PENDING_OUTBOUND {
		tx.Collection = db.COLLECTION_COMPLETED
	}
	tx.UpdatedAt = time.Now()
	if err := s.saveTransaction(tx); err != nil {
		s.walletMu.Unlock()
		return err
	}

	event := TxEvent{TxID: tx.TxID, Collection: tx.Collection, Status: tx.Status, Confirmations: tx.Confirmation}
	outbound := tx.Direction == db.TX_DIRECTION_OUTBOUND
	amount := tx.Amount
	mined := tx.MinedHeight
	s.walletMu.Unlock()

	switch status {
	case db.TX_STATUS_MINED_CONFIRMED:
		if outbound {
			s.SpendEncumbered(txID)
		} else if wasInbound && !wasConfirmed && !faux {
			// imported and recovered transactions already carry their output
			s.addReceivedOutput(txID, amount, mined)
		}
		if faux {
			s.EventBus.Publish(FauxTransactionConfirmed, event)
		} else {
			s.EventBus.Publish(TransactionMined, event)
		}
	case db.TX_STATUS_MINED_UNCONFIRM:
		if reorg && outbound && wasConfirmed {
			// the confirming block is gone, the inputs are in flight again
			s.UnspendEncumbered(txID)
		}
		if faux {
			s.EventBus.Publish(FauxTransactionUnconfirmed, event)
		} else {
			s.EventBus.Publish(TransactionMinedUnconfirmed, event)
		}
	}

	s.publishBalance()
	return nil
}

// RejectTransaction moves a transaction to the cancelled collection with the
// given reason, on double-spend, orphan or invalid detection.
func (s *State) RejectTransaction(txID uint64, reason string) error {
	s.walletMu.Lock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		s.walletMu.Unlock()
		return err
	}
	if tx.Status == db.TX_STATUS_REJECTED || tx.Status == db.TX_STATUS_CANCELLED {
		s.walletMu.Unlock()
		return nil
	}

	if err := s.applyStatus(tx, db.TX_STATUS_REJECTED, false); err != nil {
		s.walletMu.Unlock()
		return err
	}
	tx.Collection = db.COLLECTION_CANCELLED
	tx.CancelReason = reason
	tx.UpdatedAt = time.Now()
	if err := s.saveTransaction(tx); err != nil {
		s.walletMu.Unlock()
		return err
	}

	event := TxEvent{TxID: tx.TxID, Collection: tx.Collection, Status: tx.Status, CancelReason: db.CancelReasonCode(reason)}
	outbound := tx.Direction == db.TX_DIRECTION_OUTBOUND
	s.walletMu.Unlock()

	if outbound {
		s.ReleaseEncumbered(txID)
	}
	s.EventBus.Publish(TransactionCancelled, event)
	s.publishBalance()
	return nil
}

// CancelTransaction cancels a transaction that has not reached the chain.
// Cancelling an already-cancelled transaction reports success without
// touching anything else. Cancellation of a confirmed transaction is
// semantically impossible and fails.
func (s *State) CancelTransaction(txID uint64, reason string) error {
	s.walletMu.Lock()

	tx, err := s.getTransaction(txID)
	if err != nil {
		s.walletMu.Unlock()
		return err
	}
	if tx.Status == db.TX_STATUS_CANCELLED {
		s.walletMu.Unlock()
		return nil
	}
	if !lifecycle.CanCancel(tx.Status) {
		wrapped := goerrors.Wrap(lifecycle.ErrInvalidStateTransition, 0)
		log.Errorf("State CancelTransaction tx %d in status %s: %v\n%s",
			txID, tx.Status, lifecycle.ErrInvalidStateTransition, wrapped.ErrorStack())
		s.walletMu.Unlock()
		return lifecycle.ErrInvalidStateTransition
	}

	if err := s.applyStatus(tx, db.TX_STATUS_CANCELLED, false); err != nil {
		s.walletMu.Unlock()
		return err
	}
	tx.Collection = db.COLLECTION_CANCELLED
	tx.CancelReason = reason
	tx.UpdatedAt = time.Now()
	if err := s.saveTransaction(tx); err != nil {
		s.walletMu.Unlock()
		return err
	}

	event := TxEvent{TxID: tx.TxID, Collection: tx.Collection, Status: tx.Status, CancelReason: db.CancelReasonCode(reason)}
	outbound := tx.Direction == db.TX_DIRECTION_OUTBOUND
	s.walletMu.Unlock()

	if outbound {
		s.ReleaseEncumbered(txID)
	}
	s.EventBus.Publish(TransactionCancelled, event)
	s.publishBalance()
	return nil
}

// applyStatus runs the transition through the state machine, logging illegal
// transitions loudly, they indicate a bug in the calling component.
func (s *State) applyStatus(tx *db.Transaction, to string, reorg bool) error {
	if err := lifecycle.Apply(tx, to, reorg); err != nil {
		wrapped := goerrors.Wrap(err, 0)
		log.Errorf("State applyStatus: %v\n%s", err, wrapped.ErrorStack())
		return err
	}
	return nil
}

func (s *State) saveTransaction(tx *db.Transaction) error {
	result := s.dbm.GetWalletDB().Save(tx)
	if result.Error != nil {
		log.Errorf("State saveTransaction error: %v", result.Error)
		return result.Error
	}
	return nil
}
