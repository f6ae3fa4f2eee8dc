package state

import (
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AddOutput stores a new wallet output. Adding an output whose commitment is
// already known succeeds as an already-applied no-op.
func (s *State) AddOutput(utxo *db.Utxo) error {
	s.utxoMu.Lock()
	err := s.addOutput(nil, utxo)
	s.utxoMu.Unlock()
	if err != nil {
		return err
	}

	s.publishBalance()
	return nil
}

func (s *State) addOutput(tx *gorm.DB, utxo *db.Utxo) error {
	if tx == nil {
		tx = s.dbm.GetOutputDB()
	}
	var existing db.Utxo
	err := tx.Where("commitment = ?", utxo.Commitment).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	utxo.UpdatedAt = time.Now()
	if result := tx.Create(utxo); result.Error != nil {
		log.Errorf("State addOutput error: %v", result.Error)
		return result.Error
	}
	return nil
}

// addReceivedOutput credits the output of a mined inbound transaction.
func (s *State) addReceivedOutput(txID uint64, value, maturity uint64) {
	s.utxoMu.Lock()
	defer s.utxoMu.Unlock()

	// caller publishes the balance after this returns
	utxo := &db.Utxo{
		Commitment:     keys.OutputCommitment(txID, 0, value),
		Value:          value,
		MaturityHeight: maturity,
		Status:         db.UTXO_STATUS_UNSPENT,
		Source:         db.UTXO_SOURCE_RECEIVED,
		ReceivedTxID:   txID,
	}
	if err := s.addOutput(nil, utxo); err != nil {
		log.Errorf("State addReceivedOutput tx %d error: %v", txID, err)
	}
}

// GetSpendableOutputs returns a snapshot of matured, unencumbered outputs,
// largest value first.
func (s *State) GetSpendableOutputs() ([]*db.Utxo, error) {
	s.utxoMu.RLock()
	defer s.utxoMu.RUnlock()

	tip := s.GetTipHeight()
	var utxos []*db.Utxo
	result := s.dbm.GetOutputDB().
		Where("status = ? AND maturity_height <= ?", db.UTXO_STATUS_UNSPENT, tip).
		Order("value desc").Find(&utxos)
	if result.Error != nil {
		return nil, result.Error
	}
	return utxos, nil
}

// GetOutputByCommitment looks up a single output, ErrNotFound when the
// commitment is unknown.
func (s *State) GetOutputByCommitment(commitment string) (*db.Utxo, error) {
	s.utxoMu.RLock()
	defer s.utxoMu.RUnlock()

	var utxo db.Utxo
	err := s.dbm.GetOutputDB().Where("commitment = ?", commitment).First(&utxo).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &utxo, nil
}

// ListOutputs returns a snapshot of all outputs in the given status.
func (s *State) ListOutputs(status string) ([]*db.Utxo, error) {
	s.utxoMu.RLock()
	defer s.utxoMu.RUnlock()

	var utxos []*db.Utxo
	result := s.dbm.GetOutputDB().Where("status = ?", status).Order("id asc").Find(&utxos)
	if result.Error != nil {
		return nil, result.Error
	}
	return utxos, nil
}

// EncumberOutputs allocates the named outputs to an outbound transaction.
// Fails with ErrNotFound if any commitment is unknown or no longer spendable.
func (s *State) EncumberOutputs(txID uint64, commitments []string) error {
	s.utxoMu.Lock()
	err := s.dbm.GetOutputDB().Transaction(func(tx *gorm.DB) error {
		for _, commitment := range commitments {
			var utxo db.Utxo
			if err := tx.Where("commitment = ? AND status = ?", commitment, db.UTXO_STATUS_UNSPENT).
				First(&utxo).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return ErrNotFound
				}
				return err
			}
			utxo.Status = db.UTXO_STATUS_ENCUMBERED
			utxo.SpentByTxID = txID
			utxo.UpdatedAt = time.Now()
			if err := tx.Save(&utxo).Error; err != nil {
				return err
			}
		}
		return nil
	})
	s.utxoMu.Unlock()
	if err != nil {
		log.Errorf("State EncumberOutputs tx %d error: %v", txID, err)
		return err
	}

	s.publishBalance()
	return nil
}

// ReleaseEncumbered returns a cancelled transaction's inputs to the spendable
// set and drops the change output it would have produced.
func (s *State) ReleaseEncumbered(txID uint64) {
	s.utxoMu.Lock()
	err := s.dbm.GetOutputDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Utxo{}).
			Where("spent_by_tx_id = ? AND status = ?", txID, db.UTXO_STATUS_ENCUMBERED).
			Updates(map[string]interface{}{"status": db.UTXO_STATUS_UNSPENT, "spent_by_tx_id": 0, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		return tx.Where("received_tx_id = ? AND source = ? AND status = ?",
			txID, db.UTXO_SOURCE_CHANGE, db.UTXO_STATUS_UNSPENT).Delete(&db.Utxo{}).Error
	})
	s.utxoMu.Unlock()
	if err != nil {
		log.Errorf("State ReleaseEncumbered tx %d error: %v", txID, err)
		return
	}

	s.publishBalance()
}

// SpendEncumbered marks a mined transaction's inputs as spent.
func (s *State) SpendEncumbered(txID uint64) {
	s.utxoMu.Lock()
	err := s.dbm.GetOutputDB().Model(&db.Utxo{}).
		Where("spent_by_tx_id = ? AND status = ?", txID, db.UTXO_STATUS_ENCUMBERED).
		Updates(map[string]interface{}{"status": db.UTXO_STATUS_SPENT, "updated_at": time.Now()}).Error
	s.utxoMu.Unlock()
	if err != nil {
		log.Errorf("State SpendEncumbered tx %d error: %v", txID, err)
		return
	}

	s.publishBalance()
}

// UnspendEncumbered returns a re-orged transaction's inputs to the in-flight
// encumbered state. The transaction may still confirm again, but if it is
// rejected instead the inputs must be reclaimable by ReleaseEncumbered.
func (s *State) UnspendEncumbered(txID uint64) {
	s.utxoMu.Lock()
	err := s.dbm.GetOutputDB().Model(&db.Utxo{}).
		Where("spent_by_tx_id = ? AND status = ?", txID, db.UTXO_STATUS_SPENT).
		Updates(map[string]interface{}{"status": db.UTXO_STATUS_ENCUMBERED, "updated_at": time.Now()}).Error
	s.utxoMu.Unlock()
	if err != nil {
		log.Errorf("State UnspendEncumbered tx %d error: %v", txID, err)
		return
	}

	s.publishBalance()
}

// MarkOutputSpent records that the chain reports an output as spent outside
// any local transaction, it no longer counts toward any balance.
func (s *State) MarkOutputSpent(commitment string) {
	s.utxoMu.Lock()
	err := s.dbm.GetOutputDB().Model(&db.Utxo{}).
		Where("commitment = ? AND status <> ?", commitment, db.UTXO_STATUS_SPENT).
		Updates(map[string]interface{}{"status": db.UTXO_STATUS_SPENT, "updated_at": time.Now()}).Error
	s.utxoMu.Unlock()
	if err != nil {
		log.Errorf("State MarkOutputSpent %s error: %v", commitment, err)
		return
	}

	s.publishBalance()
}

// TotalSpendableValue sums every output not yet spent, including encumbered
// and immature ones. Used by the balance invariant checks.
func (s *State) TotalSpendableValue() (uint64, error) {
	s.utxoMu.RLock()
	defer s.utxoMu.RUnlock()

	var total uint64
	err := s.dbm.GetOutputDB().Model(&db.Utxo{}).
		Where("status IN (?)", []string{db.UTXO_STATUS_UNSPENT, db.UTXO_STATUS_ENCUMBERED}).
		Select("COALESCE(SUM(value), 0)").Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
