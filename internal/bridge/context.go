package bridge

import (
	"context"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/embernetwork/ember-wallet/internal/wallet"
)

// GetBalance returns the wallet balance snapshot.
func (wc *WalletContext) GetBalance() (state.Balance, uint64) {
	balance, err := wc.state.GetBalance()
	if err != nil {
		return state.Balance{}, CodeForError(err)
	}
	return balance, ERROR_NONE
}

// GetTransaction returns an owned copy of one transaction by id.
func (wc *WalletContext) GetTransaction(txID uint64) (db.Transaction, uint64) {
	tx, err := wc.state.GetTransaction(txID)
	if err != nil {
		return db.Transaction{}, CodeForError(err)
	}
	return *tx, ERROR_NONE
}

// GetTransactions returns an owned snapshot of one collection.
func (wc *WalletContext) GetTransactions(collection string) ([]db.Transaction, uint64) {
	txs, err := wc.state.ListTransactions(collection)
	if err != nil {
		return nil, CodeForError(err)
	}
	out := make([]db.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, *tx)
	}
	return out, ERROR_NONE
}

// GetContacts returns an owned snapshot of the contact book.
func (wc *WalletContext) GetContacts() ([]db.Contact, uint64) {
	contacts, err := wc.state.ListContacts()
	if err != nil {
		return nil, CodeForError(err)
	}
	out := make([]db.Contact, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, *contact)
	}
	return out, ERROR_NONE
}

// UpsertContact adds or updates a contact by alias.
func (wc *WalletContext) UpsertContact(alias, publicKey string) uint64 {
	return CodeForError(wc.state.UpsertContact(alias, publicKey))
}

// RemoveContact drops a contact by alias.
func (wc *WalletContext) RemoveContact(alias string) uint64 {
	return CodeForError(wc.state.RemoveContact(alias))
}

// SendTransaction originates an outbound transaction, returning its id.
func (wc *WalletContext) SendTransaction(ctx context.Context, destination string, amount, feePerGram uint64, message string, oneSided bool) (uint64, uint64) {
	txID, _, err := wc.wallet.Send(ctx, destination, amount, feePerGram, message, oneSided)
	if err != nil {
		return 0, CodeForError(err)
	}
	return txID, ERROR_NONE
}

// CancelPendingTransaction aborts a transaction that has not reached the
// chain.
func (wc *WalletContext) CancelPendingTransaction(txID uint64) uint64 {
	return CodeForError(wc.wallet.CancelTransaction(txID))
}

// StartTxoValidation issues a TXO validation sweep and returns its request
// key.
func (wc *WalletContext) StartTxoValidation() (uint64, uint64) {
	return wc.validator.StartTxoValidation(), ERROR_NONE
}

// StartTransactionValidation issues a transaction validation sweep and
// returns its request key.
func (wc *WalletContext) StartTransactionValidation() (uint64, uint64) {
	return wc.validator.StartTransactionValidation(), ERROR_NONE
}

// StartRecovery launches a chain scan against the given base node, progress
// arrives through OnRecoveryProgress.
func (wc *WalletContext) StartRecovery(ctx context.Context, baseNodeKey string) (bool, uint64) {
	callback := wc.callbacks.OnRecoveryProgress
	if callback == nil {
		callback = func(uint8, uint64, uint64) {}
	}
	started, err := wc.recoverer.StartRecovery(ctx, baseNodeKey, callback)
	if err != nil {
		return false, CodeForError(err)
	}
	return started, ERROR_NONE
}

// ImportUtxo registers an externally received output.
func (wc *WalletContext) ImportUtxo(value uint64, commitment string, maturityHeight uint64, sourceKey, message string) (uint64, uint64) {
	txID, err := wc.wallet.ImportExternalUtxo(value, commitment, maturityHeight, sourceKey, message)
	if err != nil {
		return 0, CodeForError(err)
	}
	return txID, ERROR_NONE
}

// CoinSplit spends the named commitments into splitCount equal outputs.
func (wc *WalletContext) CoinSplit(commitments []string, splitCount int, feePerGram uint64) (uint64, uint64) {
	txID, err := wc.wallet.CoinSplit(commitments, splitCount, feePerGram)
	if err != nil {
		return 0, CodeForError(err)
	}
	return txID, ERROR_NONE
}

// CoinJoin consolidates the named commitments into one output.
func (wc *WalletContext) CoinJoin(commitments []string, feePerGram uint64) (uint64, uint64) {
	txID, err := wc.wallet.CoinJoin(commitments, feePerGram)
	if err != nil {
		return 0, CodeForError(err)
	}
	return txID, ERROR_NONE
}

// GetFeePerGramStats summarises recent fee rates.
func (wc *WalletContext) GetFeePerGramStats(count int) (wallet.FeePerGramStats, uint64) {
	stats, err := wc.wallet.GetFeePerGramStats(count)
	if err != nil {
		return wallet.FeePerGramStats{}, CodeForError(err)
	}
	return stats, ERROR_NONE
}

// SignMessage signs a message with the wallet key.
func (wc *WalletContext) SignMessage(message string) (string, uint64) {
	signature, err := wc.wallet.Sign(message)
	if err != nil {
		return "", ERROR_INTERNAL
	}
	return signature, ERROR_NONE
}

// VerifyMessage checks a signature against a public key.
func (wc *WalletContext) VerifyMessage(message, signatureHex, publicKeyHex string) bool {
	return keys.VerifyMessage(message, signatureHex, publicKeyHex)
}

// PublicKey returns the wallet's own public key.
func (wc *WalletContext) PublicKey() string {
	return wc.wallet.PublicKey()
}

// GetConnectivity reports the last observed base node connectivity status.
func (wc *WalletContext) GetConnectivity() uint64 {
	return wc.state.GetConnectivity()
}
