package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/lifecycle"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/stretchr/testify/assert"
)

func newTestWallet(t *testing.T) (*WalletServer, *state.State, *MemoryPeer, *node.MemoryClient) {
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	config.InitConfig()

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	peer := NewMemoryPeer()
	client := node.NewMemoryClient()
	key, err := keys.GenerateWalletKey()
	assert.NoError(t, err)
	return NewWalletServer(st, peer, client, key), st, peer, client
}

func seedOutput(t *testing.T, st *state.State, commitment string, value uint64) {
	assert.NoError(t, st.AddOutput(&db.Utxo{
		Commitment: commitment,
		Value:      value,
		Status:     db.UTXO_STATUS_UNSPENT,
		Source:     db.UTXO_SOURCE_RECEIVED,
	}))
}

func destinationKey(t *testing.T) string {
	key, err := keys.GenerateWalletKey()
	assert.NoError(t, err)
	return key.PublicKeyHex()
}

func TestSendOneSided(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)

	txID, queued, err := w.Send(context.Background(), destinationKey(t), 1000, 5, "coffee", true)
	assert.NoError(t, err)
	assert.False(t, queued)
	assert.NotZero(t, txID)

	tx, err := st.GetTransaction(txID)
	assert.NoError(t, err)
	assert.Equal(t, db.COLLECTION_PENDING_OUTBOUND, tx.Collection)
	assert.Equal(t, db.TX_STATUS_PENDING, tx.Status)
	assert.NotEmpty(t, tx.KernelExcess, "one-sided send finalizes locally")

	// available dropped by amount plus fee, the rest is change
	fee := EstimateFee(5, 1, 2, 1)
	balance, err := st.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, 5000-1000-fee, balance.Available)
	assert.Equal(t, 1000+fee, balance.PendingOutgoing)
}

func TestSendInsufficientFunds(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)

	before, err := st.GetBalance()
	assert.NoError(t, err)

	_, _, err = w.Send(context.Background(), destinationKey(t), 6000, 5, "", true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// nothing created, balance unchanged
	txs, err := st.ListTransactions(db.COLLECTION_PENDING_OUTBOUND)
	assert.NoError(t, err)
	assert.Empty(t, txs)
	after, err := st.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSendValidatesInput(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)

	_, _, err := w.Send(context.Background(), destinationKey(t), 0, 5, "", true)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = w.Send(context.Background(), "nothex", 100, 5, "", true)
	assert.ErrorIs(t, err, keys.ErrInvalidAddress)
}

func TestSendInteractiveEmitsRequest(t *testing.T) {
	w, st, peer, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)
	destination := destinationKey(t)

	txID, queued, err := w.Send(context.Background(), destination, 1000, 5, "hi", false)
	assert.NoError(t, err)
	assert.False(t, queued)

	sent := peer.Sent()
	assert.Len(t, sent, 1)
	assert.Equal(t, PEER_MSG_TX_REQUEST, sent[0].Kind)
	assert.Equal(t, txID, sent[0].TxID)
	assert.Equal(t, uint64(1000), sent[0].Amount)
	assert.NotEmpty(t, sent[0].MessageID)

	// no kernel until the counterparty replies
	tx, _ := st.GetTransaction(txID)
	assert.Empty(t, tx.KernelExcess)
}

func TestSendStoreAndForward(t *testing.T) {
	w, st, peer, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)
	peer.SetOffline(true)

	txID, queued, err := w.Send(context.Background(), destinationKey(t), 1000, 5, "", false)
	assert.NoError(t, err)
	assert.True(t, queued, "unreachable peer queues the request")

	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, db.TX_STATUS_PENDING, tx.Status)

	// peer comes back, retry delivers
	peer.SetOffline(false)
	w.retryQueuedSends(context.Background())
	sent := peer.Sent()
	assert.Len(t, sent, 1)
	assert.Equal(t, txID, sent[0].TxID)

	// queue is drained
	w.retryQueuedSends(context.Background())
	assert.Len(t, peer.Sent(), 1)
}

func TestCancelDropsQueuedRequest(t *testing.T) {
	w, st, peer, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)
	peer.SetOffline(true)

	txID, queued, err := w.Send(context.Background(), destinationKey(t), 1000, 5, "", false)
	assert.NoError(t, err)
	assert.True(t, queued)

	assert.NoError(t, w.CancelTransaction(txID))
	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, db.TX_STATUS_CANCELLED, tx.Status)

	peer.SetOffline(false)
	w.retryQueuedSends(context.Background())
	assert.Empty(t, peer.Sent(), "cancelled negotiation is never delivered")

	// inputs released
	balance, err := st.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, uint64(5000), balance.Available)
}

// a store read failure during the retry sweep keeps the queued message,
// only a cancelled or vanished transaction drops it
func TestRetryQueuedSendsKeepsMessageOnStoreError(t *testing.T) {
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	config.InitConfig()

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	peer := NewMemoryPeer()
	client := node.NewMemoryClient()
	key, err := keys.GenerateWalletKey()
	assert.NoError(t, err)
	w := NewWalletServer(st, peer, client, key)

	assert.NoError(t, st.InsertTransaction(&db.Transaction{
		TxID: 1, Collection: db.COLLECTION_PENDING_OUTBOUND, Direction: db.TX_DIRECTION_OUTBOUND,
		Counterparty: "02aa", Amount: 1000, Fee: 40, Timestamp: time.Now(), Status: db.TX_STATUS_PENDING,
	}))
	w.requeue(queuedMessage{destination: "02aa", msg: PeerMessage{Kind: PEER_MSG_TX_REQUEST, TxID: 1}})

	// the store becomes unreadable for the duration of the sweep
	sqlDB, err := dbm.GetWalletDB().DB()
	assert.NoError(t, err)
	assert.NoError(t, sqlDB.Close())

	w.retryQueuedSends(context.Background())

	w.queueMu.Lock()
	kept := len(w.sendQueue)
	w.queueMu.Unlock()
	assert.Equal(t, 1, kept, "message survives a transient store failure")
	assert.Empty(t, peer.Sent())
}

func TestCancelConfirmedFails(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	assert.NoError(t, st.InsertTransaction(&db.Transaction{
		TxID: 1, Collection: db.COLLECTION_COMPLETED, Direction: db.TX_DIRECTION_OUTBOUND,
		Counterparty: "02aa", Amount: 100, Status: db.TX_STATUS_MINED_CONFIRMED,
	}))
	assert.ErrorIs(t, w.CancelTransaction(1), lifecycle.ErrInvalidStateTransition)
}

// full interactive handshake between two wallets sharing a chain
func TestNegotiationHandshake(t *testing.T) {
	sender, senderState, senderPeer, _ := newTestWallet(t)

	// the receiver gets its own database files
	t.Setenv("DB_DIR", t.TempDir())
	config.InitConfig()
	receiverPeer := NewMemoryPeer()
	receiverKey, err := keys.GenerateWalletKey()
	assert.NoError(t, err)
	receiverState := state.InitializeState(db.NewDatabaseManager())
	receiver := NewWalletServer(receiverState, receiverPeer, node.NewMemoryClient(), receiverKey)

	seedOutput(t, senderState, "c1", 5000)
	ctx := context.Background()

	txID, queued, err := sender.Send(ctx, receiverKey.PublicKeyHex(), 1000, 5, "lunch", false)
	assert.NoError(t, err)
	assert.False(t, queued)

	// request reaches the receiver
	request := senderPeer.Sent()[0]
	receiver.handleTransactionRequest(ctx, request)

	inbound, err := receiverState.ListTransactions(db.COLLECTION_PENDING_INBOUND)
	assert.NoError(t, err)
	assert.Len(t, inbound, 1)
	assert.Equal(t, uint64(1000), inbound[0].Amount)

	// reply reaches the sender, which finalizes the kernel
	reply := receiverPeer.Sent()[0]
	assert.Equal(t, PEER_MSG_TX_REPLY, reply.Kind)
	sender.handleTransactionReply(ctx, reply)

	senderTx, _ := senderState.GetTransaction(txID)
	assert.NotEmpty(t, senderTx.KernelExcess)

	// finalized reaches the receiver, inbound tx moves to broadcast
	finalized := senderPeer.Sent()[1]
	assert.Equal(t, PEER_MSG_TX_FINALIZED, finalized.Kind)
	receiver.handleTransactionFinalized(finalized)

	receiverTx, err := receiverState.GetTransaction(inbound[0].TxID)
	assert.NoError(t, err)
	assert.Equal(t, db.TX_STATUS_BROADCAST, receiverTx.Status)
	assert.Equal(t, db.COLLECTION_COMPLETED, receiverTx.Collection)
	assert.Equal(t, senderTx.KernelExcess, receiverTx.KernelExcess)
}

func TestBroadcastFinalized(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)

	txID, _, err := w.Send(context.Background(), destinationKey(t), 1000, 5, "", true)
	assert.NoError(t, err)

	w.broadcastFinalized(context.Background())

	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, db.TX_STATUS_BROADCAST, tx.Status)
	assert.Equal(t, db.COLLECTION_COMPLETED, tx.Collection)
	assert.Equal(t, state.CONNECTIVITY_ONLINE, st.GetConnectivity())

	// node down: nothing changes, connectivity goes offline
	w2, st2, _, client2 := newTestWallet(t)
	seedOutput(t, st2, "c1", 5000)
	txID2, _, err := w2.Send(context.Background(), destinationKey(t), 1000, 5, "", true)
	assert.NoError(t, err)
	client2.SetOffline(true)
	w2.broadcastFinalized(context.Background())
	tx2, _ := st2.GetTransaction(txID2)
	assert.Equal(t, db.TX_STATUS_PENDING, tx2.Status)
	assert.Equal(t, state.CONNECTIVITY_OFFLINE, st2.GetConnectivity())
}

func TestCancelTimedOut(t *testing.T) {
	t.Setenv("NEGOTIATION_TIMEOUT", "0s")
	w, st, peer, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 5000)
	peer.SetOffline(true)

	txID, _, err := w.Send(context.Background(), destinationKey(t), 1000, 5, "", false)
	assert.NoError(t, err)

	w.cancelTimedOut()

	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, db.TX_STATUS_CANCELLED, tx.Status)
	assert.Equal(t, db.CANCEL_REASON_TIMEOUT, tx.CancelReason)
}

func TestImportExternalUtxoRoundTrip(t *testing.T) {
	w, st, _, _ := newTestWallet(t)

	txID, err := w.ImportExternalUtxo(2500, "", 0, "", "found it")
	assert.NoError(t, err)

	tx, err := st.GetTransaction(txID)
	assert.NoError(t, err)
	assert.Equal(t, db.COLLECTION_COMPLETED, tx.Collection)
	assert.Equal(t, db.TX_STATUS_IMPORTED, tx.Status)
	assert.Equal(t, db.TX_DIRECTION_INBOUND, tx.Direction)
	assert.Equal(t, uint64(2500), tx.Amount)

	// exactly one Imported transaction, available up by exactly the value
	txs, _ := st.ListTransactions(db.COLLECTION_COMPLETED)
	assert.Len(t, txs, 1)
	balance, err := st.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, uint64(2500), balance.Available)

	_, err = w.ImportExternalUtxo(0, "", 0, "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCoinSplit(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 10000)

	txID, err := w.CoinSplit([]string{"c1"}, 4, 1)
	assert.NoError(t, err)

	fee := EstimateFee(1, 1, 4, 1)
	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, db.TX_DIRECTION_OUTBOUND, tx.Direction)
	assert.Equal(t, w.PublicKey(), tx.Counterparty, "self directed")
	assert.Equal(t, 10000-fee, tx.Amount)
	assert.NotEmpty(t, tx.KernelExcess)

	outputs, err := st.ListOutputs(db.UTXO_STATUS_UNSPENT)
	assert.NoError(t, err)
	assert.Len(t, outputs, 4)
	var total uint64
	for _, output := range outputs {
		total += output.Value
	}
	assert.Equal(t, 10000-fee, total)
}

func TestCoinJoin(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 3000)
	seedOutput(t, st, "c2", 2000)

	txID, err := w.CoinJoin([]string{"c1", "c2"}, 1)
	assert.NoError(t, err)

	fee := EstimateFee(1, 2, 1, 1)
	tx, _ := st.GetTransaction(txID)
	assert.Equal(t, 5000-fee, tx.Amount)

	outputs, err := st.ListOutputs(db.UTXO_STATUS_UNSPENT)
	assert.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, 5000-fee, outputs[0].Value)
}

func TestCoinOpRejectsBadInputs(t *testing.T) {
	w, st, _, _ := newTestWallet(t)
	seedOutput(t, st, "c1", 100)

	_, err := w.CoinSplit([]string{"unknown"}, 2, 1)
	assert.ErrorIs(t, err, state.ErrNotFound)

	// inputs do not cover the fee
	_, err = w.CoinJoin([]string{"c1"}, 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestEstimateFee(t *testing.T) {
	assert.Equal(t, uint64(5*(WEIGHT_PER_KERNEL+WEIGHT_PER_INPUT+2*WEIGHT_PER_OUTPUT)), EstimateFee(5, 1, 2, 1))
	assert.Equal(t, uint64(0), EstimateFee(0, 1, 2, 1))
}

func TestGetFeePerGramStats(t *testing.T) {
	w, st, _, _ := newTestWallet(t)

	shape := uint64(WEIGHT_PER_KERNEL + WEIGHT_PER_INPUT + 2*WEIGHT_PER_OUTPUT)
	for i, fee := range []uint64{shape, 3 * shape, 5 * shape} {
		assert.NoError(t, st.InsertTransaction(&db.Transaction{
			TxID: uint64(i + 1), Collection: db.COLLECTION_COMPLETED, Direction: db.TX_DIRECTION_OUTBOUND,
			Counterparty: "02aa", Amount: 100, Fee: fee, Status: db.TX_STATUS_MINED_CONFIRMED,
		}))
	}

	stats, err := w.GetFeePerGramStats(10)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Min)
	assert.Equal(t, uint64(3), stats.Avg)
	assert.Equal(t, uint64(5), stats.Max)
}
