package state

import (
	"testing"
	"time"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/lifecycle"
	"github.com/stretchr/testify/assert"
)

func newTestState(t *testing.T) *State {
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	config.InitConfig()
	dbm := db.NewDatabaseManager()
	return InitializeState(dbm)
}

func newTestTx(txID uint64, collection, direction, status string) *db.Transaction {
	return &db.Transaction{
		TxID:         txID,
		Collection:   collection,
		Direction:    direction,
		Counterparty: "02aabb",
		Amount:       1000,
		Fee:          40,
		Timestamp:    time.Now(),
		Status:       status,
	}
}

// collectionsOf counts how many collections currently hold the given tx id.
func collectionsOf(t *testing.T, s *State, txID uint64) int {
	found := 0
	for _, collection := range []string{
		db.COLLECTION_PENDING_INBOUND, db.COLLECTION_PENDING_OUTBOUND,
		db.COLLECTION_COMPLETED, db.COLLECTION_CANCELLED,
	} {
		txs, err := s.ListTransactions(collection)
		assert.NoError(t, err)
		for _, tx := range txs {
			if tx.TxID == txID {
				found++
			}
		}
	}
	return found
}

func TestInsertAndGetTransaction(t *testing.T) {
	s := newTestState(t)

	tx := newTestTx(1, db.COLLECTION_PENDING_OUTBOUND, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_PENDING)
	assert.NoError(t, s.InsertTransaction(tx))

	got, err := s.GetTransaction(1)
	assert.NoError(t, err)
	assert.Equal(t, db.COLLECTION_PENDING_OUTBOUND, got.Collection)
	assert.Equal(t, uint64(1000), got.Amount)

	_, err = s.GetTransaction(99)
	assert.ErrorIs(t, err, ErrNotFound)

	// duplicate id in any collection is refused
	dup := newTestTx(1, db.COLLECTION_PENDING_INBOUND, db.TX_DIRECTION_INBOUND, db.TX_STATUS_PENDING)
	assert.ErrorIs(t, s.InsertTransaction(dup), ErrDuplicateID)
	assert.Equal(t, 1, collectionsOf(t, s, 1))
}

func TestCollectionsInvariant(t *testing.T) {
	s := newTestState(t)

	assert.NoError(t, s.InsertTransaction(newTestTx(1, db.COLLECTION_PENDING_OUTBOUND, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_PENDING)))
	assert.NoError(t, s.InsertTransaction(newTestTx(2, db.COLLECTION_PENDING_INBOUND, db.TX_DIRECTION_INBOUND, db.TX_STATUS_PENDING)))
	assert.NoError(t, s.InsertTransaction(newTestTx(3, db.COLLECTION_COMPLETED, db.TX_DIRECTION_INBOUND, db.TX_STATUS_IMPORTED)))

	// every id in exactly one collection after each mutation
	for _, txID := range []uint64{1, 2, 3} {
		assert.Equal(t, 1, collectionsOf(t, s, txID), "tx %d", txID)
	}

	assert.NoError(t, s.MarkBroadcast(1))
	assert.NoError(t, s.CancelTransaction(2, db.CANCEL_REASON_USER_CANCELLED))
	for _, txID := range []uint64{1, 2, 3} {
		assert.Equal(t, 1, collectionsOf(t, s, txID), "tx %d", txID)
	}
}

func TestMoveTransactionIdempotent(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.InsertTransaction(newTestTx(1, db.COLLECTION_PENDING_OUTBOUND, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_PENDING)))

	assert.NoError(t, s.MoveTransaction(1, db.COLLECTION_PENDING_OUTBOUND, db.COLLECTION_COMPLETED))
	// already in the target collection, no-op success
	assert.NoError(t, s.MoveTransaction(1, db.COLLECTION_PENDING_OUTBOUND, db.COLLECTION_COMPLETED))

	// wrong source collection
	assert.ErrorIs(t, s.MoveTransaction(1, db.COLLECTION_PENDING_INBOUND, db.COLLECTION_CANCELLED), ErrNotFound)
	assert.ErrorIs(t, s.MoveTransaction(42, db.COLLECTION_PENDING_OUTBOUND, db.COLLECTION_COMPLETED), ErrNotFound)
}

func TestMarkBroadcast(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.InsertTransaction(newTestTx(1, db.COLLECTION_PENDING_OUTBOUND, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_PENDING)))

	assert.NoError(t, s.MarkBroadcast(1))
	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.TX_STATUS_BROADCAST, got.Status)
	assert.Equal(t, db.COLLECTION_COMPLETED, got.Collection)

	// idempotent
	assert.NoError(t, s.MarkBroadcast(1))
}

func TestCancelIdempotence(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.InsertTransaction(newTestTx(1, db.COLLECTION_PENDING_OUTBOUND, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_PENDING)))
	assert.NoError(t, s.InsertTransaction(newTestTx(2, db.COLLECTION_PENDING_INBOUND, db.TX_DIRECTION_INBOUND, db.TX_STATUS_PENDING)))

	balanceBefore, err := s.GetBalance()
	assert.NoError(t, err)

	assert.NoError(t, s.CancelTransaction(1, db.CANCEL_REASON_USER_CANCELLED))
	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.TX_STATUS_CANCELLED, got.Status)
	assert.Equal(t, db.COLLECTION_CANCELLED, got.Collection)
	assert.Equal(t, db.CANCEL_REASON_USER_CANCELLED, got.CancelReason)

	balanceAfterFirst, err := s.GetBalance()
	assert.NoError(t, err)

	// cancelling again succeeds and changes nothing
	assert.NoError(t, s.CancelTransaction(1, db.CANCEL_REASON_TIMEOUT))
	got, _ = s.GetTransaction(1)
	assert.Equal(t, db.CANCEL_REASON_USER_CANCELLED, got.CancelReason)
	balanceAfterSecond, err := s.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, balanceAfterFirst, balanceAfterSecond)

	// the other transaction is untouched
	other, _ := s.GetTransaction(2)
	assert.Equal(t, db.TX_STATUS_PENDING, other.Status)
	assert.Equal(t, balanceBefore.PendingIncoming, balanceAfterSecond.PendingIncoming)
}

func TestCancelConfirmedFails(t *testing.T) {
	s := newTestState(t)
	tx := newTestTx(1, db.COLLECTION_COMPLETED, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_MINED_CONFIRMED)
	assert.NoError(t, s.InsertTransaction(tx))

	err := s.CancelTransaction(1, db.CANCEL_REASON_USER_CANCELLED)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidStateTransition)

	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.TX_STATUS_MINED_CONFIRMED, got.Status)
	assert.Equal(t, db.COLLECTION_COMPLETED, got.Collection)
}

func TestApplyMinedUpdateOrderingIndependence(t *testing.T) {
	apply := func(s *State, first, second bool) *db.Transaction {
		tx := newTestTx(1, db.COLLECTION_COMPLETED, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_BROADCAST)
		assert.NoError(t, s.InsertTransaction(tx))
		if first {
			assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_CONFIRMED, 3, 100, false, false))
		}
		if second {
			assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_UNCONFIRM, 1, 100, false, false))
		}
		if !first {
			assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_CONFIRMED, 3, 100, false, false))
		}
		got, err := s.GetTransaction(1)
		assert.NoError(t, err)
		return got
	}

	a := apply(newTestState(t), true, true)   // confirmed then stale unconfirmed
	b := apply(newTestState(t), false, true)  // unconfirmed then confirmed
	assert.Equal(t, db.TX_STATUS_MINED_CONFIRMED, a.Status)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Confirmation, b.Confirmation)
	assert.Equal(t, uint64(3), a.Confirmation)
}

func TestApplyMinedUpdateReorg(t *testing.T) {
	s := newTestState(t)
	tx := newTestTx(1, db.COLLECTION_COMPLETED, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_BROADCAST)
	assert.NoError(t, s.InsertTransaction(tx))
	assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_CONFIRMED, 5, 100, false, false))

	// only a re-org moves a confirmed transaction backwards
	assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_UNCONFIRM, 0, 0, true, false))
	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.TX_STATUS_MINED_UNCONFIRM, got.Status)
	assert.Equal(t, uint64(0), got.Confirmation)
}

func TestConfirmedInboundCreatesOutput(t *testing.T) {
	s := newTestState(t)
	tx := newTestTx(1, db.COLLECTION_PENDING_INBOUND, db.TX_DIRECTION_INBOUND, db.TX_STATUS_BROADCAST)
	assert.NoError(t, s.InsertTransaction(tx))

	assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_CONFIRMED, 3, 50, false, false))

	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.COLLECTION_COMPLETED, got.Collection)

	s.SetTipHeight(60)
	balance, err := s.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, uint64(1000), balance.Available)
}

func TestRejectReleasesInputs(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.AddOutput(&db.Utxo{
		Commitment: "c1", Value: 5000, Status: db.UTXO_STATUS_UNSPENT, Source: db.UTXO_SOURCE_RECEIVED,
	}))
	tx := newTestTx(1, db.COLLECTION_COMPLETED, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_BROADCAST)
	assert.NoError(t, s.InsertTransaction(tx))
	assert.NoError(t, s.EncumberOutputs(1, []string{"c1"}))

	assert.NoError(t, s.RejectTransaction(1, db.CANCEL_REASON_DOUBLE_SPEND))

	got, _ := s.GetTransaction(1)
	assert.Equal(t, db.TX_STATUS_REJECTED, got.Status)
	assert.Equal(t, db.COLLECTION_CANCELLED, got.Collection)

	outputs, err := s.ListOutputs(db.UTXO_STATUS_UNSPENT)
	assert.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, "c1", outputs[0].Commitment)
}

// a confirmed transaction whose block is re-orged away and that is then
// rejected must hand its inputs back, no value may be stranded in spent rows
func TestRejectAfterReorgRestoresInputs(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.AddOutput(&db.Utxo{
		Commitment: "c1", Value: 5000, Status: db.UTXO_STATUS_UNSPENT, Source: db.UTXO_SOURCE_RECEIVED,
	}))
	tx := newTestTx(1, db.COLLECTION_COMPLETED, db.TX_DIRECTION_OUTBOUND, db.TX_STATUS_BROADCAST)
	tx.Amount, tx.Fee = 1000, 40
	assert.NoError(t, s.InsertTransaction(tx))
	assert.NoError(t, s.EncumberOutputs(1, []string{"c1"}))
	assert.NoError(t, s.AddOutput(&db.Utxo{
		Commitment: "change1", Value: 3960, Status: db.UTXO_STATUS_UNSPENT, Source: db.UTXO_SOURCE_CHANGE, ReceivedTxID: 1,
	}))

	assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_CONFIRMED, 3, 100, false, false))
	spent, err := s.ListOutputs(db.UTXO_STATUS_SPENT)
	assert.NoError(t, err)
	assert.Len(t, spent, 1)

	// re-org pulls the confirming block, the inputs are in flight again
	assert.NoError(t, s.ApplyMinedUpdate(1, db.TX_STATUS_MINED_UNCONFIRM, 0, 0, true, false))
	encumbered, err := s.ListOutputs(db.UTXO_STATUS_ENCUMBERED)
	assert.NoError(t, err)
	assert.Len(t, encumbered, 1)
	assert.Equal(t, "c1", encumbered[0].Commitment)

	assert.NoError(t, s.RejectTransaction(1, db.CANCEL_REASON_DOUBLE_SPEND))

	// the input is spendable again and the change output is gone
	outputs, err := s.ListOutputs(db.UTXO_STATUS_UNSPENT)
	assert.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, "c1", outputs[0].Commitment)
	balance, err := s.GetBalance()
	assert.NoError(t, err)
	assert.Equal(t, uint64(5000), balance.Available)
	assert.Equal(t, uint64(0), balance.PendingOutgoing)
}

func TestRecoveryProgressRoundTrip(t *testing.T) {
	s := newTestState(t)

	_, err := s.GetRecoveryProgress()
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.SaveRecoveryProgress(&db.RecoveryProgress{
		BaseNodeKey: "02ff", LastHeight: 200, UtxosRecovered: 2, ValueRecovered: 900,
	}))
	progress, err := s.GetRecoveryProgress()
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), progress.LastHeight)

	// single record, save overwrites
	assert.NoError(t, s.SaveRecoveryProgress(&db.RecoveryProgress{
		BaseNodeKey: "02ff", LastHeight: 300, UtxosRecovered: 3, ValueRecovered: 1400,
	}))
	progress, err = s.GetRecoveryProgress()
	assert.NoError(t, err)
	assert.Equal(t, uint64(300), progress.LastHeight)

	assert.NoError(t, s.ClearRecoveryProgress())
	_, err = s.GetRecoveryProgress()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContacts(t *testing.T) {
	s := newTestState(t)

	assert.NoError(t, s.UpsertContact("alice", "02aa"))
	assert.NoError(t, s.UpsertContact("bob", "02bb"))
	assert.NoError(t, s.UpsertContact("alice", "02ac")) // update

	contacts, err := s.ListContacts()
	assert.NoError(t, err)
	assert.Len(t, contacts, 2)
	assert.Equal(t, "02ac", contacts[0].PublicKey)

	assert.NoError(t, s.RemoveContact("bob"))
	assert.ErrorIs(t, s.RemoveContact("bob"), ErrNotFound)
}

func TestTouchContactLiveness(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, s.UpsertContact("alice", "02aa"))

	ch := make(chan interface{}, 1)
	s.EventBus.Subscribe(ContactLivenessUpdated, ch)

	s.TouchContactLiveness("02aa")
	select {
	case data := <-ch:
		event := data.(ContactLivenessEvent)
		assert.Equal(t, "alice", event.Alias)
		assert.True(t, event.Online)
	case <-time.After(time.Second):
		t.Fatal("no liveness event delivered")
	}

	// unknown key publishes nothing
	s.TouchContactLiveness("02zz")
	select {
	case <-ch:
		t.Fatal("unexpected event for unknown key")
	default:
	}
}
