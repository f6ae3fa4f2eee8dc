package wallet

import (
	"fmt"
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/state"
	log "github.com/sirupsen/logrus"
)

// CoinSplit spends the named commitments into splitCount outputs of equal
// value. Same allocate, construct, broadcast pipeline as Send, operating over
// explicitly named inputs.
func (w *WalletServer) CoinSplit(commitments []string, splitCount int, feePerGram uint64) (uint64, error) {
	if splitCount <= 0 {
		return 0, fmt.Errorf("split count must be greater than zero")
	}
	return w.coinOp(commitments, splitCount, feePerGram, "Coin split")
}

// CoinJoin spends the named commitments into a single consolidated output.
func (w *WalletServer) CoinJoin(commitments []string, feePerGram uint64) (uint64, error) {
	return w.coinOp(commitments, 1, feePerGram, "Coin join")
}

func (w *WalletServer) coinOp(commitments []string, outputCount int, feePerGram uint64, message string) (uint64, error) {
	if len(commitments) == 0 {
		return 0, fmt.Errorf("no input commitments named")
	}

	spendable, err := w.state.GetSpendableOutputs()
	if err != nil {
		return 0, err
	}
	byCommitment := make(map[string]*db.Utxo, len(spendable))
	for _, utxo := range spendable {
		byCommitment[utxo.Commitment] = utxo
	}

	var total uint64
	for _, commitment := range commitments {
		utxo, ok := byCommitment[commitment]
		if !ok {
			return 0, fmt.Errorf("commitment %s not spendable: %w", commitment, state.ErrNotFound)
		}
		total += utxo.Value
	}

	fee := EstimateFee(feePerGram, len(commitments), outputCount, 1)
	if total <= fee {
		return 0, fmt.Errorf("%w: inputs %d do not cover fee %d", ErrInsufficientFunds, total, fee)
	}

	txID := w.state.NextTxID()
	if err := w.state.EncumberOutputs(txID, commitments); err != nil {
		return 0, err
	}

	remaining := total - fee
	each := remaining / uint64(outputCount)
	for i := 0; i < outputCount; i++ {
		value := each
		if i == 0 {
			value += remaining % uint64(outputCount)
		}
		out := &db.Utxo{
			Commitment:   keys.OutputCommitment(txID, uint64(i+1), value),
			Value:        value,
			Status:       db.UTXO_STATUS_UNSPENT,
			Source:       db.UTXO_SOURCE_CHANGE,
			ReceivedTxID: txID,
		}
		if err := w.state.AddOutput(out); err != nil {
			w.state.ReleaseEncumbered(txID)
			return 0, err
		}
	}

	selfKey := w.key.PublicKeyHex()
	tx := &db.Transaction{
		TxID:         txID,
		Collection:   db.COLLECTION_PENDING_OUTBOUND,
		Direction:    db.TX_DIRECTION_OUTBOUND,
		Counterparty: selfKey,
		Amount:       remaining,
		Fee:          fee,
		Message:      message,
		Timestamp:    time.Now(),
		Status:       db.TX_STATUS_PENDING,
	}
	if err := w.state.InsertTransaction(tx); err != nil {
		w.state.ReleaseEncumbered(txID)
		return 0, err
	}

	// self-directed, no counterparty interaction
	excess, nonce, sig := keys.KernelDigest(txID, selfKey, remaining, fee)
	if err := w.state.SetTransactionKernel(txID, excess, nonce, sig); err != nil {
		return 0, err
	}

	log.Infof("WalletServer %s tx %d, %d inputs, %d outputs, fee %d", message, txID, len(commitments), outputCount, fee)
	return txID, nil
}
