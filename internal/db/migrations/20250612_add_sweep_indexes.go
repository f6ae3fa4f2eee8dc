package migrations

import (
	"gorm.io/gorm"
)

// AddTransactionSweepIndex indexes the columns the validation sweep filters
// on, collection scans dominate the wallet database workload.
func AddTransactionSweepIndex(tx *gorm.DB) error {
	if err := tx.Exec("CREATE INDEX IF NOT EXISTS transaction_collection_status_index ON transactions (collection, status)").Error; err != nil {
		return err
	}

	// rows cancelled before the reason column existed carry no reason
	return tx.Exec("UPDATE transactions SET cancel_reason = 'unknown' WHERE collection = 'cancelled' AND (cancel_reason IS NULL OR cancel_reason = '')").Error
}

// AddUtxoSpendableIndex indexes the columns the balance calculation filters
// on in the output database.
func AddUtxoSpendableIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS utxo_status_maturity_index ON utxos (status, maturity_height)").Error
}
