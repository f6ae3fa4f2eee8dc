package db

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Transaction model, exactly one collection contains a given tx_id at any time
type Transaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TxID         uint64    `gorm:"not null;uniqueIndex" json:"tx_id"`
	Collection   string    `gorm:"not null;index" json:"collection"` // "pending_inbound", "pending_outbound", "completed", "cancelled"
	Direction    string    `gorm:"not null" json:"direction"`        // "inbound", "outbound"
	Counterparty string    `gorm:"not null" json:"counterparty"`     // hex public key
	Amount       uint64    `gorm:"not null" json:"amount"`
	Fee          uint64    `gorm:"not null" json:"fee"`
	Message      string    `json:"message"`
	Timestamp    time.Time `gorm:"not null" json:"timestamp"`
	Status       string    `gorm:"not null" json:"status"`  // "pending", "broadcast", "mined_unconfirm", "mined_confirmed", "imported", "coinbase", "rejected", "cancelled"
	CancelReason string    `json:"cancel_reason"`           // set only when collection is "cancelled"
	Confirmation uint64    `gorm:"not null" json:"confirmation"`
	MinedHeight  uint64    `gorm:"not null" json:"mined_height"`
	KernelExcess []byte    `json:"kernel_excess"` // set once finalized
	KernelNonce  []byte    `json:"kernel_nonce"`
	KernelSig    []byte    `json:"kernel_sig"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// Utxo model (wallet output)
type Utxo struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Commitment     string    `gorm:"not null;uniqueIndex" json:"commitment"`
	Value          uint64    `gorm:"not null" json:"value"`
	MaturityHeight uint64    `gorm:"not null" json:"maturity_height"`
	Status         string    `gorm:"not null;index" json:"status"` // "unspent", "encumbered", "spent"
	Source         string    `gorm:"not null" json:"source"`       // "received", "change", "imported", "recovered", "coinbase"
	ReceivedTxID   uint64    `json:"received_tx_id"`
	SpentByTxID    uint64    `json:"spent_by_tx_id"` // encumbering or spending tx
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

// Contact model
type Contact struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Alias      string    `gorm:"not null;uniqueIndex" json:"alias"`
	PublicKey  string    `gorm:"not null" json:"public_key"`
	LastSeenAt time.Time `json:"last_seen_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

// RecoveryProgress model (only 1 record), survives daemon restart so an
// interrupted scan resumes from the last completed round
type RecoveryProgress struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BaseNodeKey    string    `gorm:"not null" json:"base_node_key"`
	LastHeight     uint64    `gorm:"not null" json:"last_height"`
	ScannedBitmap  []byte    `json:"scanned_bitmap"`
	UtxosRecovered uint64    `gorm:"not null" json:"utxos_recovered"`
	ValueRecovered uint64    `gorm:"not null" json:"value_recovered"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.walletDb.AutoMigrate(&Transaction{}, &Contact{}); err != nil {
		log.Fatalf("Failed to migrate wallet database: %v", err)
	}
	if err := dm.outputDb.AutoMigrate(&Utxo{}, &RecoveryProgress{}); err != nil {
		log.Fatalf("Failed to migrate output database: %v", err)
	}
}
