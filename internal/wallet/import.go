package wallet

import (
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	log "github.com/sirupsen/logrus"
)

// ImportExternalUtxo registers an output received outside the normal
// negotiation flow, creating exactly one Imported transaction for it. The
// output counts toward the available balance once matured.
func (w *WalletServer) ImportExternalUtxo(value uint64, commitment string, maturityHeight uint64, sourceKey, message string) (uint64, error) {
	if value == 0 {
		return 0, ErrInvalidAmount
	}
	if sourceKey != "" {
		if err := keys.ValidateAddress(sourceKey); err != nil {
			return 0, err
		}
	}

	txID := w.state.NextTxID()
	if commitment == "" {
		commitment = keys.OutputCommitment(txID, 0, value)
	}

	utxo := &db.Utxo{
		Commitment:     commitment,
		Value:          value,
		MaturityHeight: maturityHeight,
		Status:         db.UTXO_STATUS_UNSPENT,
		Source:         db.UTXO_SOURCE_IMPORTED,
		ReceivedTxID:   txID,
	}
	if err := w.state.AddOutput(utxo); err != nil {
		return 0, err
	}

	tx := &db.Transaction{
		TxID:         txID,
		Collection:   db.COLLECTION_COMPLETED,
		Direction:    db.TX_DIRECTION_INBOUND,
		Counterparty: sourceKey,
		Amount:       value,
		Message:      message,
		Timestamp:    time.Now(),
		Status:       db.TX_STATUS_IMPORTED,
	}
	if err := w.state.InsertTransaction(tx); err != nil {
		return 0, err
	}

	log.Infof("WalletServer ImportExternalUtxo tx %d, value %d, maturity %d", txID, value, maturityHeight)
	return txID, nil
}

// GetFeePerGramStats summarises fee rates over the most recent completed
// transactions, using the canonical one-kernel, one-input, two-output shape
// as the weight basis.
func (w *WalletServer) GetFeePerGramStats(count int) (FeePerGramStats, error) {
	txs, err := w.state.ListTransactions(db.COLLECTION_COMPLETED)
	if err != nil {
		return FeePerGramStats{}, err
	}
	if count > 0 && len(txs) > count {
		txs = txs[len(txs)-count:]
	}

	shapeWeight := uint64(WEIGHT_PER_KERNEL + WEIGHT_PER_INPUT + 2*WEIGHT_PER_OUTPUT)
	var stats FeePerGramStats
	var sum, n uint64
	for _, tx := range txs {
		if tx.Fee == 0 {
			continue
		}
		rate := tx.Fee / shapeWeight
		if rate == 0 {
			rate = 1
		}
		if stats.Min == 0 || rate < stats.Min {
			stats.Min = rate
		}
		if rate > stats.Max {
			stats.Max = rate
		}
		sum += rate
		n++
	}
	if n > 0 {
		stats.Avg = sum / n
	}
	return stats, nil
}
