package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/state"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
)

type queuedMessage struct {
	destination string
	msg         PeerMessage
}

// WalletServer originates outbound transactions and drives the negotiation
// handshake with counterparties. It never holds a transaction pointer across
// a suspension point, it re-fetches by id.
type WalletServer struct {
	state      *state.State
	peer       PeerClient
	nodeClient node.Client
	key        *keys.WalletKey
	once       sync.Once

	// store-and-forward queue for messages the transport could not deliver
	queueMu   sync.Mutex
	sendQueue []queuedMessage

	// negotiation message id -> recipient-local tx id
	inboundMu      sync.Mutex
	inboundByMsgID map[string]uint64
}

func NewWalletServer(st *state.State, peer PeerClient, nodeClient node.Client, key *keys.WalletKey) *WalletServer {
	return &WalletServer{
		state:          st,
		peer:           peer,
		nodeClient:     nodeClient,
		key:            key,
		inboundByMsgID: make(map[string]uint64),
	}
}

func (w *WalletServer) Start(ctx context.Context) {
	go w.negotiationLoop(ctx)
	go w.broadcastLoop(ctx)
	go w.timeoutLoop(ctx)

	log.Info("WalletServer started.")

	<-ctx.Done()
	w.Stop()

	log.Info("WalletServer stopped.")
}

func (w *WalletServer) Stop() {
	w.once.Do(func() {
		w.queueMu.Lock()
		w.sendQueue = nil
		w.queueMu.Unlock()
	})
}

// PublicKey returns the wallet's own address.
func (w *WalletServer) PublicKey() string {
	return w.key.PublicKeyHex()
}

// Sign signs an arbitrary message with the wallet key.
func (w *WalletServer) Sign(message string) (string, error) {
	return w.key.SignMessage(message)
}

func (w *WalletServer) negotiationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.peer.Incoming():
			w.handleIncoming(ctx, msg)
		}
	}
}

func (w *WalletServer) handleIncoming(ctx context.Context, msg PeerMessage) {
	switch msg.Kind {
	case PEER_MSG_TX_REQUEST:
		w.handleTransactionRequest(ctx, msg)
	case PEER_MSG_TX_REPLY:
		w.handleTransactionReply(ctx, msg)
	case PEER_MSG_TX_FINALIZED:
		w.handleTransactionFinalized(msg)
	default:
		log.Debugf("WalletServer negotiationLoop ignore unsupported message kind %s", msg.Kind)
	}
}

// handleTransactionRequest registers an inbound pending transaction and
// replies to the sender.
func (w *WalletServer) handleTransactionRequest(ctx context.Context, msg PeerMessage) {
	txID := w.state.NextTxID()
	tx := &db.Transaction{
		TxID:         txID,
		Collection:   db.COLLECTION_PENDING_INBOUND,
		Direction:    db.TX_DIRECTION_INBOUND,
		Counterparty: msg.SenderKey,
		Amount:       msg.Amount,
		Fee:          msg.Fee,
		Message:      msg.Message,
		Timestamp:    time.Now(),
		Status:       db.TX_STATUS_PENDING,
	}
	if err := w.state.InsertTransaction(tx); err != nil {
		log.Errorf("WalletServer handleTransactionRequest insert tx %d error: %v", txID, err)
		return
	}

	w.inboundMu.Lock()
	w.inboundByMsgID[msg.MessageID] = txID
	w.inboundMu.Unlock()

	w.state.TouchContactLiveness(msg.SenderKey)
	w.state.EventBus.Publish(state.TransactionReceived, state.TxEvent{
		TxID: txID, Collection: db.COLLECTION_PENDING_INBOUND, Status: db.TX_STATUS_PENDING,
	})

	reply := PeerMessage{
		Kind:      PEER_MSG_TX_REPLY,
		MessageID: msg.MessageID,
		SenderKey: w.key.PublicKeyHex(),
		TxID:      msg.TxID, // the sender's id, echoed back
	}
	w.sendOrQueue(ctx, msg.SenderKey, reply)
}

// handleTransactionReply finalizes the sender side of the handshake.
func (w *WalletServer) handleTransactionReply(ctx context.Context, msg PeerMessage) {
	tx, err := w.state.GetTransaction(msg.TxID)
	if err != nil {
		log.Warnf("WalletServer handleTransactionReply unknown tx %d: %v", msg.TxID, err)
		return
	}
	if tx.Direction != db.TX_DIRECTION_OUTBOUND || tx.Status != db.TX_STATUS_PENDING || len(tx.KernelExcess) > 0 {
		log.Debugf("WalletServer handleTransactionReply ignore tx %d, status %s", msg.TxID, tx.Status)
		return
	}

	excess, nonce, sig := keys.KernelDigest(tx.TxID, tx.Counterparty, tx.Amount, tx.Fee)
	if err := w.state.SetTransactionKernel(tx.TxID, excess, nonce, sig); err != nil {
		log.Errorf("WalletServer handleTransactionReply set kernel tx %d error: %v", tx.TxID, err)
		return
	}

	w.state.TouchContactLiveness(msg.SenderKey)
	w.state.EventBus.Publish(state.TransactionReplyReceived, state.TxEvent{
		TxID: tx.TxID, Collection: tx.Collection, Status: tx.Status,
	})

	finalized := PeerMessage{
		Kind:         PEER_MSG_TX_FINALIZED,
		MessageID:    msg.MessageID,
		SenderKey:    w.key.PublicKeyHex(),
		TxID:         msg.TxID,
		KernelExcess: excess,
		KernelNonce:  nonce,
		KernelSig:    sig,
	}
	w.sendOrQueue(ctx, tx.Counterparty, finalized)
}

// handleTransactionFinalized completes the recipient side, the transaction
// is now in the network's mempool.
func (w *WalletServer) handleTransactionFinalized(msg PeerMessage) {
	w.inboundMu.Lock()
	txID, ok := w.inboundByMsgID[msg.MessageID]
	if ok {
		delete(w.inboundByMsgID, msg.MessageID)
	}
	w.inboundMu.Unlock()
	if !ok {
		log.Warnf("WalletServer handleTransactionFinalized unknown negotiation %s", msg.MessageID)
		return
	}

	if err := w.state.SetTransactionKernel(txID, msg.KernelExcess, msg.KernelNonce, msg.KernelSig); err != nil {
		log.Errorf("WalletServer handleTransactionFinalized set kernel tx %d error: %v", txID, err)
		return
	}
	if err := w.state.MarkBroadcast(txID); err != nil {
		log.Errorf("WalletServer handleTransactionFinalized broadcast tx %d error: %v", txID, err)
		return
	}

	w.state.EventBus.Publish(state.TransactionFinalized, state.TxEvent{
		TxID: txID, Collection: db.COLLECTION_COMPLETED, Status: db.TX_STATUS_BROADCAST,
	})
}

// sendOrQueue delivers a negotiation message, falling back to the
// store-and-forward queue when the transport reports the peer unreachable.
func (w *WalletServer) sendOrQueue(ctx context.Context, destination string, msg PeerMessage) {
	if err := w.peer.Send(ctx, destination, msg); err != nil {
		log.Warnf("WalletServer send %s to %s failed, queued for retry: %v", msg.Kind, destination, err)
		w.queueMu.Lock()
		w.sendQueue = append(w.sendQueue, queuedMessage{destination: destination, msg: msg})
		w.queueMu.Unlock()
	}
}

// broadcastLoop retries queued negotiation messages and submits finalized
// outbound transactions to the base node.
func (w *WalletServer) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.BroadcastRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.retryQueuedSends(ctx)
			w.broadcastFinalized(ctx)
		}
	}
}

func (w *WalletServer) retryQueuedSends(ctx context.Context) {
	w.queueMu.Lock()
	queue := w.sendQueue
	w.sendQueue = nil
	w.queueMu.Unlock()

	for _, queued := range queue {
		// drop messages whose transaction was cancelled in the meantime
		if queued.msg.Kind == PEER_MSG_TX_REQUEST {
			tx, err := w.state.GetTransaction(queued.msg.TxID)
			if err != nil && !errors.Is(err, state.ErrNotFound) {
				// transient store failure, keep the message for the next sweep
				log.Warnf("WalletServer retryQueuedSends read tx %d failed, requeued: %v", queued.msg.TxID, err)
				w.requeue(queued)
				continue
			}
			if errors.Is(err, state.ErrNotFound) || tx.Status == db.TX_STATUS_CANCELLED {
				continue
			}
		}
		if err := w.peer.Send(ctx, queued.destination, queued.msg); err != nil {
			w.requeue(queued)
		}
	}
}

func (w *WalletServer) requeue(queued queuedMessage) {
	w.queueMu.Lock()
	w.sendQueue = append(w.sendQueue, queued)
	w.queueMu.Unlock()
}

// broadcastFinalized submits every finalized pending outbound transaction.
// Submission is idempotent on the node side, a redelivery is harmless.
func (w *WalletServer) broadcastFinalized(ctx context.Context) {
	txs, err := w.state.ListTransactions(db.COLLECTION_PENDING_OUTBOUND)
	if err != nil {
		log.Errorf("WalletServer broadcastFinalized list error: %v", err)
		return
	}

	for _, tx := range txs {
		if tx.Status != db.TX_STATUS_PENDING || len(tx.KernelExcess) == 0 {
			continue
		}
		if err := w.nodeClient.SubmitTransaction(ctx, hex.EncodeToString(tx.KernelExcess)); err != nil {
			if errors.Is(err, node.ErrNetworkUnavailable) {
				w.state.SetConnectivity(state.CONNECTIVITY_OFFLINE)
				log.Warnf("WalletServer broadcastFinalized tx %d base node unreachable, will retry", tx.TxID)
				return
			}
			log.Errorf("WalletServer broadcastFinalized tx %d error: %v", tx.TxID, err)
			continue
		}
		w.state.SetConnectivity(state.CONNECTIVITY_ONLINE)
		if err := w.state.MarkBroadcast(tx.TxID); err != nil {
			log.Errorf("WalletServer broadcastFinalized mark tx %d error: %v", tx.TxID, err)
		}
	}
}

// timeoutLoop cancels interactive sends whose counterparty never replied
// within the configured negotiation timeout.
func (w *WalletServer) timeoutLoop(ctx context.Context) {
	interval := config.AppConfig.NegotiationTimeout / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cancelTimedOut()
		}
	}
}

func (w *WalletServer) cancelTimedOut() {
	txs, err := w.state.ListTransactions(db.COLLECTION_PENDING_OUTBOUND)
	if err != nil {
		log.Errorf("WalletServer cancelTimedOut list error: %v", err)
		return
	}
	cutoff := time.Now().Add(-config.AppConfig.NegotiationTimeout)
	for _, tx := range txs {
		if tx.Status != db.TX_STATUS_PENDING || len(tx.KernelExcess) > 0 {
			continue
		}
		if tx.Timestamp.After(cutoff) {
			continue
		}
		log.Infof("WalletServer cancelTimedOut tx %d, no reply within %v", tx.TxID, config.AppConfig.NegotiationTimeout)
		if err := w.state.CancelTransaction(tx.TxID, db.CANCEL_REASON_TIMEOUT); err != nil {
			log.Errorf("WalletServer cancelTimedOut tx %d error: %v", tx.TxID, err)
		}
	}
}
