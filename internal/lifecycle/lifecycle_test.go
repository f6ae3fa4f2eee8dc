package lifecycle

import (
	"testing"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(db.TX_STATUS_PENDING, db.TX_STATUS_BROADCAST, false))
	assert.True(t, CanTransition(db.TX_STATUS_BROADCAST, db.TX_STATUS_MINED_UNCONFIRM, false))
	assert.True(t, CanTransition(db.TX_STATUS_MINED_UNCONFIRM, db.TX_STATUS_MINED_CONFIRMED, false))
	assert.True(t, CanTransition(db.TX_STATUS_IMPORTED, db.TX_STATUS_MINED_CONFIRMED, false))

	// confirmation refresh is a self transition
	assert.True(t, CanTransition(db.TX_STATUS_MINED_UNCONFIRM, db.TX_STATUS_MINED_UNCONFIRM, false))
	assert.True(t, CanTransition(db.TX_STATUS_MINED_CONFIRMED, db.TX_STATUS_MINED_CONFIRMED, false))

	// no backwards moves without a re-org
	assert.False(t, CanTransition(db.TX_STATUS_MINED_CONFIRMED, db.TX_STATUS_MINED_UNCONFIRM, false))
	assert.True(t, CanTransition(db.TX_STATUS_MINED_CONFIRMED, db.TX_STATUS_MINED_UNCONFIRM, true))
	assert.False(t, CanTransition(db.TX_STATUS_MINED_CONFIRMED, db.TX_STATUS_PENDING, true))

	// terminal states stay terminal
	assert.False(t, CanTransition(db.TX_STATUS_CANCELLED, db.TX_STATUS_PENDING, false))
	assert.False(t, CanTransition(db.TX_STATUS_REJECTED, db.TX_STATUS_BROADCAST, false))

	assert.False(t, CanTransition("bogus", db.TX_STATUS_BROADCAST, false))
}

func TestApply(t *testing.T) {
	tx := &db.Transaction{TxID: 7, Status: db.TX_STATUS_PENDING}

	err := Apply(tx, db.TX_STATUS_BROADCAST, false)
	assert.NoError(t, err)
	assert.Equal(t, db.TX_STATUS_BROADCAST, tx.Status)

	// illegal transition leaves the transaction untouched
	err = Apply(tx, db.TX_STATUS_PENDING, false)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, db.TX_STATUS_BROADCAST, tx.Status)
}

func TestCanCancel(t *testing.T) {
	assert.True(t, CanCancel(db.TX_STATUS_PENDING))
	assert.True(t, CanCancel(db.TX_STATUS_BROADCAST))
	assert.True(t, CanCancel(db.TX_STATUS_COINBASE))

	assert.False(t, CanCancel(db.TX_STATUS_MINED_UNCONFIRM))
	assert.False(t, CanCancel(db.TX_STATUS_MINED_CONFIRMED))
	assert.False(t, CanCancel(db.TX_STATUS_REJECTED))
}

func TestRankOrdering(t *testing.T) {
	assert.Less(t, Rank(db.TX_STATUS_PENDING), Rank(db.TX_STATUS_BROADCAST))
	assert.Less(t, Rank(db.TX_STATUS_BROADCAST), Rank(db.TX_STATUS_MINED_UNCONFIRM))
	assert.Less(t, Rank(db.TX_STATUS_MINED_UNCONFIRM), Rank(db.TX_STATUS_MINED_CONFIRMED))
	assert.Equal(t, -1, Rank("bogus"))
}

func TestStatusForDepth(t *testing.T) {
	assert.Equal(t, db.TX_STATUS_MINED_UNCONFIRM, StatusForDepth(0, 3))
	assert.Equal(t, db.TX_STATUS_MINED_UNCONFIRM, StatusForDepth(2, 3))
	assert.Equal(t, db.TX_STATUS_MINED_CONFIRMED, StatusForDepth(3, 3))
	assert.Equal(t, db.TX_STATUS_MINED_CONFIRMED, StatusForDepth(10, 3))
}
