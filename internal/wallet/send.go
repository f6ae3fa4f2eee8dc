package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Send originates an outbound transaction. For an interactive send the
// negotiation handshake may stay pending until the counterparty comes online,
// the returned queued flag reports that the request went to the
// store-and-forward queue instead of directly to the peer. One-sided sends
// complete locally and are immediately eligible for broadcast.
func (w *WalletServer) Send(ctx context.Context, destination string, amount, feePerGram uint64, message string, oneSided bool) (txID uint64, queued bool, err error) {
	if amount == 0 {
		return 0, false, ErrInvalidAmount
	}
	if err := keys.ValidateAddress(destination); err != nil {
		return 0, false, err
	}

	selected, fee, err := w.selectOutputs(amount, feePerGram)
	if err != nil {
		return 0, false, err
	}

	txID = w.state.NextTxID()
	commitments := make([]string, 0, len(selected))
	var total uint64
	for _, utxo := range selected {
		commitments = append(commitments, utxo.Commitment)
		total += utxo.Value
	}
	if err := w.state.EncumberOutputs(txID, commitments); err != nil {
		return 0, false, err
	}

	if change := total - amount - fee; change > 0 {
		changeOut := &db.Utxo{
			Commitment:   keys.OutputCommitment(txID, 1, change),
			Value:        change,
			Status:       db.UTXO_STATUS_UNSPENT,
			Source:       db.UTXO_SOURCE_CHANGE,
			ReceivedTxID: txID,
		}
		if err := w.state.AddOutput(changeOut); err != nil {
			w.state.ReleaseEncumbered(txID)
			return 0, false, err
		}
	}

	tx := &db.Transaction{
		TxID:         txID,
		Collection:   db.COLLECTION_PENDING_OUTBOUND,
		Direction:    db.TX_DIRECTION_OUTBOUND,
		Counterparty: destination,
		Amount:       amount,
		Fee:          fee,
		Message:      message,
		Timestamp:    time.Now(),
		Status:       db.TX_STATUS_PENDING,
	}
	if err := w.state.InsertTransaction(tx); err != nil {
		w.state.ReleaseEncumbered(txID)
		return 0, false, err
	}

	if oneSided {
		excess, nonce, sig := keys.KernelDigest(txID, destination, amount, fee)
		if err := w.state.SetTransactionKernel(txID, excess, nonce, sig); err != nil {
			return 0, false, err
		}
		w.state.EventBus.Publish(state.TransactionFinalized, state.TxEvent{
			TxID: txID, Collection: db.COLLECTION_PENDING_OUTBOUND, Status: db.TX_STATUS_PENDING,
		})
		log.Infof("WalletServer Send one-sided tx %d to %s, amount %d, fee %d", txID, destination, amount, fee)
		return txID, false, nil
	}

	request := PeerMessage{
		Kind:      PEER_MSG_TX_REQUEST,
		MessageID: uuid.New().String(),
		SenderKey: w.key.PublicKeyHex(),
		TxID:      txID,
		Amount:    amount,
		Fee:       fee,
		Message:   message,
	}
	if err := w.peer.Send(ctx, destination, request); err != nil {
		// store-and-forward, the transaction stays pending and the request
		// is retried until delivery or cancellation
		log.Warnf("WalletServer Send tx %d peer unreachable, queued for retry: %v", txID, err)
		w.queueMu.Lock()
		w.sendQueue = append(w.sendQueue, queuedMessage{destination: destination, msg: request})
		w.queueMu.Unlock()
		return txID, true, nil
	}

	log.Infof("WalletServer Send tx %d to %s, amount %d, fee %d", txID, destination, amount, fee)
	return txID, false, nil
}

// selectOutputs allocates matured outputs largest-first until they cover
// amount plus the shape-dependent fee.
func (w *WalletServer) selectOutputs(amount, feePerGram uint64) ([]*db.Utxo, uint64, error) {
	spendable, err := w.state.GetSpendableOutputs()
	if err != nil {
		return nil, 0, err
	}

	var selected []*db.Utxo
	var total uint64
	fee := EstimateFee(feePerGram, 1, 2, 1)
	for _, utxo := range spendable {
		selected = append(selected, utxo)
		total += utxo.Value
		fee = EstimateFee(feePerGram, len(selected), 2, 1)
		if total >= amount+fee {
			return selected, fee, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: need %d, spendable %d", ErrInsufficientFunds, amount+fee, total)
}

// CancelTransaction aborts a transaction that has not reached the chain and
// drops any queued negotiation messages for it. Cancelling an
// already-cancelled transaction succeeds without side effects.
func (w *WalletServer) CancelTransaction(txID uint64) error {
	w.queueMu.Lock()
	kept := w.sendQueue[:0]
	for _, queued := range w.sendQueue {
		if queued.msg.TxID != txID {
			kept = append(kept, queued)
		}
	}
	w.sendQueue = kept
	w.queueMu.Unlock()

	return w.state.CancelTransaction(txID, db.CANCEL_REASON_USER_CANCELLED)
}
