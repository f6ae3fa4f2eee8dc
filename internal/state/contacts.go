package state

import (
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UpsertContact creates or updates a contact keyed by alias.
func (s *State) UpsertContact(alias, publicKey string) error {
	s.contactMu.Lock()
	defer s.contactMu.Unlock()

	var contact db.Contact
	err := s.dbm.GetWalletDB().Where("alias = ?", alias).First(&contact).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == gorm.ErrRecordNotFound {
		contact = db.Contact{Alias: alias}
	}

	contact.PublicKey = publicKey
	contact.UpdatedAt = time.Now()
	if result := s.dbm.GetWalletDB().Save(&contact); result.Error != nil {
		log.Errorf("State UpsertContact error: %v", result.Error)
		return result.Error
	}
	return nil
}

// RemoveContact deletes a contact by alias.
func (s *State) RemoveContact(alias string) error {
	s.contactMu.Lock()
	defer s.contactMu.Unlock()

	result := s.dbm.GetWalletDB().Where("alias = ?", alias).Delete(&db.Contact{})
	if result.Error != nil {
		log.Errorf("State RemoveContact error: %v", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContacts returns a snapshot of all contacts.
func (s *State) ListContacts() ([]*db.Contact, error) {
	s.contactMu.RLock()
	defer s.contactMu.RUnlock()

	var contacts []*db.Contact
	result := s.dbm.GetWalletDB().Order("alias asc").Find(&contacts)
	if result.Error != nil {
		return nil, result.Error
	}
	return contacts, nil
}

// TouchContactLiveness records activity from a counterparty and notifies
// subscribers if the key belongs to a known contact.
func (s *State) TouchContactLiveness(publicKey string) {
	s.contactMu.Lock()

	var contact db.Contact
	err := s.dbm.GetWalletDB().Where("public_key = ?", publicKey).First(&contact).Error
	if err != nil {
		s.contactMu.Unlock()
		if err != gorm.ErrRecordNotFound {
			log.Errorf("State TouchContactLiveness error: %v", err)
		}
		return
	}

	contact.LastSeenAt = time.Now()
	contact.UpdatedAt = time.Now()
	if err := s.dbm.GetWalletDB().Save(&contact).Error; err != nil {
		log.Errorf("State TouchContactLiveness save error: %v", err)
		s.contactMu.Unlock()
		return
	}
	event := ContactLivenessEvent{
		Alias:      contact.Alias,
		PublicKey:  contact.PublicKey,
		LastSeenAt: contact.LastSeenAt,
		Online:     true,
	}
	s.contactMu.Unlock()

	s.EventBus.Publish(ContactLivenessUpdated, event)
}
