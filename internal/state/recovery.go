package state

import (
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetRecoveryProgress loads the persisted scan progress, ErrNotFound when no
// recovery has run yet.
func (s *State) GetRecoveryProgress() (*db.RecoveryProgress, error) {
	s.utxoMu.RLock()
	defer s.utxoMu.RUnlock()

	var progress db.RecoveryProgress
	err := s.dbm.GetOutputDB().First(&progress).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// SaveRecoveryProgress upserts the single scan progress record.
func (s *State) SaveRecoveryProgress(progress *db.RecoveryProgress) error {
	s.utxoMu.Lock()
	defer s.utxoMu.Unlock()

	progress.UpdatedAt = time.Now()
	var existing db.RecoveryProgress
	err := s.dbm.GetOutputDB().First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if result := s.dbm.GetOutputDB().Create(progress); result.Error != nil {
			log.Errorf("State SaveRecoveryProgress create error: %v", result.Error)
			return result.Error
		}
		return nil
	}
	if err != nil {
		return err
	}

	progress.ID = existing.ID
	if result := s.dbm.GetOutputDB().Save(progress); result.Error != nil {
		log.Errorf("State SaveRecoveryProgress save error: %v", result.Error)
		return result.Error
	}
	return nil
}

// ClearRecoveryProgress drops the persisted scan progress so the next
// recovery starts over.
func (s *State) ClearRecoveryProgress() error {
	s.utxoMu.Lock()
	defer s.utxoMu.Unlock()

	return s.dbm.GetOutputDB().Where("1 = 1").Delete(&db.RecoveryProgress{}).Error
}
