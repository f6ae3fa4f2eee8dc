package validation

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/lifecycle"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/state"
	log "github.com/sirupsen/logrus"
)

const (
	KIND_TXO         = "txo"
	KIND_TRANSACTION = "transaction"
)

// Validator issues asynchronous chain validation requests and applies their
// results to the store. Each issuance registers a request key and returns
// immediately, completion is reported through the event bus. A failed query
// discards the request without touching the store.
type Validator struct {
	state  *state.State
	client node.Client

	nextRequestKey atomic.Uint64

	mu       sync.Mutex
	ctx      context.Context
	inflight map[uint64]string // request key -> kind
}

func NewValidator(st *state.State, client node.Client) *Validator {
	v := &Validator{
		state:    st,
		client:   client,
		ctx:      context.Background(),
		inflight: make(map[uint64]string),
	}
	v.nextRequestKey.Store(1)
	return v
}

// Start runs periodic validation until the context is cancelled.
func (v *Validator) Start(ctx context.Context) {
	v.mu.Lock()
	v.ctx = ctx
	v.mu.Unlock()

	ticker := time.NewTicker(config.AppConfig.ValidationInterval)
	defer ticker.Stop()

	log.Info("Validator started.")
	for {
		select {
		case <-ctx.Done():
			log.Info("Validator stopped.")
			return
		case <-ticker.C:
			v.refreshTip()
			v.StartTransactionValidation()
			v.StartTxoValidation()
		}
	}
}

// StartTxoValidation issues a TXO status sweep. Non-blocking, the returned
// request key correlates the completion event.
func (v *Validator) StartTxoValidation() uint64 {
	key := v.issue(KIND_TXO)
	go v.runTxoValidation(key)
	return key
}

// StartTransactionValidation issues a transaction status sweep. Non-blocking,
// the returned request key correlates the completion event.
func (v *Validator) StartTransactionValidation() uint64 {
	key := v.issue(KIND_TRANSACTION)
	go v.runTransactionValidation(key)
	return key
}

func (v *Validator) issue(kind string) uint64 {
	key := v.nextRequestKey.Add(1) - 1
	v.mu.Lock()
	v.inflight[key] = kind
	v.mu.Unlock()
	log.Debugf("Validator issued %s validation request %d", kind, key)
	return key
}

func (v *Validator) complete(key uint64, success bool) {
	v.mu.Lock()
	kind, ok := v.inflight[key]
	delete(v.inflight, key)
	v.mu.Unlock()
	if !ok {
		return
	}

	event := state.ValidationEvent{RequestKey: key, Success: success}
	switch kind {
	case KIND_TXO:
		v.state.EventBus.Publish(state.TxoValidationComplete, event)
	case KIND_TRANSACTION:
		v.state.EventBus.Publish(state.TransactionValidationComplete, event)
	}
}

// InflightCount reports outstanding validation requests.
func (v *Validator) InflightCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.inflight)
}

// context returns the validation context, sweeps issued by the host run
// concurrently with Start.
func (v *Validator) context() context.Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctx
}

func (v *Validator) refreshTip() {
	height, err := v.client.GetTipHeight(v.context())
	if err != nil {
		v.state.SetConnectivity(state.CONNECTIVITY_OFFLINE)
		log.Warnf("Validator refreshTip error: %v", err)
		return
	}
	v.state.SetConnectivity(state.CONNECTIVITY_ONLINE)
	v.state.SetTipHeight(height)
}

// runTransactionValidation queries the chain for every tracked transaction
// and applies the results through the state machine. Results are applied only
// after the whole query succeeded, a transport failure leaves the wallet in
// its last-known-good state.
func (v *Validator) runTransactionValidation(key uint64) {
	txs, err := v.state.ListTransactions(db.COLLECTION_COMPLETED)
	if err != nil {
		log.Errorf("Validator runTransactionValidation list error: %v", err)
		v.complete(key, false)
		return
	}

	byExcess := make(map[string]*db.Transaction)
	var excesses []string
	for _, tx := range txs {
		if len(tx.KernelExcess) == 0 {
			continue
		}
		switch tx.Status {
		case db.TX_STATUS_BROADCAST, db.TX_STATUS_MINED_UNCONFIRM, db.TX_STATUS_MINED_CONFIRMED:
			excess := hex.EncodeToString(tx.KernelExcess)
			byExcess[excess] = tx
			excesses = append(excesses, excess)
		}
	}
	if len(excesses) == 0 {
		v.complete(key, true)
		return
	}

	statuses, err := v.client.QueryTransactions(v.context(), excesses)
	if err != nil {
		v.state.SetConnectivity(state.CONNECTIVITY_OFFLINE)
		log.Warnf("Validator runTransactionValidation request %d query error: %v", key, err)
		v.complete(key, false)
		return
	}
	v.state.SetConnectivity(state.CONNECTIVITY_ONLINE)

	for _, status := range statuses {
		tx, ok := byExcess[status.KernelExcess]
		if !ok {
			continue
		}
		v.applyTransactionStatus(tx.TxID, status)
	}
	v.complete(key, true)
}

func (v *Validator) applyTransactionStatus(txID uint64, status node.TxChainStatus) {
	switch {
	case status.Rejected:
		reason := status.RejectReason
		if reason == "" {
			reason = db.CANCEL_REASON_INVALID_TX
		}
		if err := v.state.RejectTransaction(txID, reason); err != nil {
			log.Errorf("Validator reject tx %d error: %v", txID, err)
		}
	case status.Mined:
		newStatus := lifecycle.StatusForDepth(status.Confirmations, config.AppConfig.Confirmations)
		if err := v.state.ApplyMinedUpdate(txID, newStatus, status.Confirmations, status.MinedHeight, status.Reorged, false); err != nil {
			log.Errorf("Validator apply mined tx %d error: %v", txID, err)
		}
	case status.Reorged:
		// previously confirming block invalidated, transaction is back in
		// the mempool
		if err := v.state.ApplyMinedUpdate(txID, db.TX_STATUS_MINED_UNCONFIRM, 0, 0, true, false); err != nil {
			log.Errorf("Validator apply reorg tx %d error: %v", txID, err)
		}
	}
}

// runTxoValidation queries the chain view of every live output. Spent
// outputs are removed from the balance, mined imported outputs drive the
// faux confirmation path of their Imported transaction.
func (v *Validator) runTxoValidation(key uint64) {
	unspent, err := v.state.ListOutputs(db.UTXO_STATUS_UNSPENT)
	if err != nil {
		log.Errorf("Validator runTxoValidation list error: %v", err)
		v.complete(key, false)
		return
	}
	encumbered, err := v.state.ListOutputs(db.UTXO_STATUS_ENCUMBERED)
	if err != nil {
		log.Errorf("Validator runTxoValidation list error: %v", err)
		v.complete(key, false)
		return
	}
	outputs := append(unspent, encumbered...)
	if len(outputs) == 0 {
		v.complete(key, true)
		return
	}

	byCommitment := make(map[string]*db.Utxo, len(outputs))
	commitments := make([]string, 0, len(outputs))
	for _, utxo := range outputs {
		byCommitment[utxo.Commitment] = utxo
		commitments = append(commitments, utxo.Commitment)
	}

	statuses, err := v.client.QueryTxos(v.context(), commitments)
	if err != nil {
		v.state.SetConnectivity(state.CONNECTIVITY_OFFLINE)
		log.Warnf("Validator runTxoValidation request %d query error: %v", key, err)
		v.complete(key, false)
		return
	}
	v.state.SetConnectivity(state.CONNECTIVITY_ONLINE)

	tip := v.state.GetTipHeight()
	for _, status := range statuses {
		utxo, ok := byCommitment[status.Commitment]
		if !ok {
			continue
		}
		if status.Spent {
			v.state.MarkOutputSpent(status.Commitment)
			continue
		}
		imported := utxo.Source == db.UTXO_SOURCE_IMPORTED || utxo.Source == db.UTXO_SOURCE_RECOVERED
		if status.Mined && imported && utxo.ReceivedTxID > 0 {
			var confirmations uint64
			if tip >= status.MinedHeight {
				confirmations = tip - status.MinedHeight + 1
			}
			newStatus := lifecycle.StatusForDepth(confirmations, config.AppConfig.Confirmations)
			if err := v.state.ApplyMinedUpdate(utxo.ReceivedTxID, newStatus, confirmations, status.MinedHeight, false, true); err != nil {
				log.Errorf("Validator apply faux tx %d error: %v", utxo.ReceivedTxID, err)
			}
		}
	}
	v.complete(key, true)
}
