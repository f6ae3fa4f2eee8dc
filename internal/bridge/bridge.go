package bridge

import (
	"sync"
	"time"

	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/recovery"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/embernetwork/ember-wallet/internal/validation"
	"github.com/embernetwork/ember-wallet/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// Callbacks is the host's notification surface. Every field is optional, a
// nil entry silently drops that event class. Arguments are value copies, the
// host owns them and never observes later store mutation through them.
type Callbacks struct {
	OnTransactionReceived           func(tx db.Transaction)
	OnTransactionReplyReceived      func(tx db.Transaction)
	OnTransactionFinalized          func(tx db.Transaction)
	OnTransactionBroadcast          func(tx db.Transaction)
	OnTransactionMined              func(tx db.Transaction)
	OnTransactionMinedUnconfirmed   func(tx db.Transaction, confirmations uint64)
	OnFauxTransactionConfirmed      func(tx db.Transaction)
	OnFauxTransactionUnconfirmed    func(tx db.Transaction, confirmations uint64)
	OnTransactionCancelled          func(tx db.Transaction, reason uint64)
	OnTxoValidationComplete         func(requestKey uint64, success bool)
	OnTransactionValidationComplete func(requestKey uint64, success bool)
	OnBalanceUpdated                func(balance state.Balance)
	OnRecoveryProgress              func(event uint8, first, second uint64)
	OnConnectivityChanged           func(status uint64)
	OnContactLivenessUpdated        func(publicKey string, lastSeenAt time.Time, online bool)
}

// WalletContext is one host-visible wallet instance. The host refers to it
// through an opaque integer handle and must destroy it explicitly.
type WalletContext struct {
	state     *state.State
	wallet    *wallet.WalletServer
	validator *validation.Validator
	recoverer *recovery.Recoverer
	callbacks Callbacks

	stop     chan struct{}
	wg       sync.WaitGroup
	channels map[state.EventType]chan interface{}
}

var (
	registryMu sync.Mutex
	registry   = make(map[uint64]*WalletContext)
	nextHandle uint64 = 1
)

var dispatchedEvents = []state.EventType{
	state.TransactionReceived,
	state.TransactionReplyReceived,
	state.TransactionFinalized,
	state.TransactionBroadcast,
	state.TransactionMined,
	state.TransactionMinedUnconfirmed,
	state.FauxTransactionConfirmed,
	state.FauxTransactionUnconfirmed,
	state.TransactionCancelled,
	state.TxoValidationComplete,
	state.TransactionValidationComplete,
	state.BalanceUpdated,
	state.ConnectivityChanged,
	state.ContactLivenessUpdated,
}

// CreateContext registers a wallet context and starts delivering events to
// the host callbacks. The returned handle identifies the context in every
// later call.
func CreateContext(st *state.State, walletServer *wallet.WalletServer, validator *validation.Validator, recoverer *recovery.Recoverer, callbacks Callbacks) uint64 {
	wc := &WalletContext{
		state:     st,
		wallet:    walletServer,
		validator: validator,
		recoverer: recoverer,
		callbacks: callbacks,
		stop:      make(chan struct{}),
		channels:  make(map[state.EventType]chan interface{}),
	}
	wc.startDispatch()

	registryMu.Lock()
	handle := nextHandle
	nextHandle++
	registry[handle] = wc
	registryMu.Unlock()

	log.Infof("Bridge created wallet context %d", handle)
	return handle
}

// GetContext resolves a handle, ERROR_INVALID_HANDLE when it is unknown or
// already destroyed.
func GetContext(handle uint64) (*WalletContext, uint64) {
	registryMu.Lock()
	defer registryMu.Unlock()
	wc, ok := registry[handle]
	if !ok {
		return nil, ERROR_INVALID_HANDLE
	}
	return wc, ERROR_NONE
}

// DestroyContext stops event delivery and invalidates the handle. Destroying
// an unknown handle fails, destroying a live one never does.
func DestroyContext(handle uint64) uint64 {
	registryMu.Lock()
	wc, ok := registry[handle]
	delete(registry, handle)
	registryMu.Unlock()
	if !ok {
		return ERROR_INVALID_HANDLE
	}

	wc.stopDispatch()
	log.Infof("Bridge destroyed wallet context %d", handle)
	return ERROR_NONE
}

func (wc *WalletContext) startDispatch() {
	for _, eventType := range dispatchedEvents {
		ch := make(chan interface{}, 64)
		wc.state.EventBus.Subscribe(eventType, ch)
		wc.channels[eventType] = ch

		wc.wg.Add(1)
		go func(eventType state.EventType, ch chan interface{}) {
			defer wc.wg.Done()
			for {
				select {
				case <-wc.stop:
					return
				case data := <-ch:
					wc.deliver(eventType, data)
				}
			}
		}(eventType, ch)
	}
}

func (wc *WalletContext) stopDispatch() {
	close(wc.stop)
	for eventType, ch := range wc.channels {
		wc.state.EventBus.Unsubscribe(eventType, ch)
	}
	wc.wg.Wait()
}

func (wc *WalletContext) deliver(eventType state.EventType, data interface{}) {
	switch eventType {
	case state.TxoValidationComplete:
		if event, ok := data.(state.ValidationEvent); ok && wc.callbacks.OnTxoValidationComplete != nil {
			wc.callbacks.OnTxoValidationComplete(event.RequestKey, event.Success)
		}
	case state.TransactionValidationComplete:
		if event, ok := data.(state.ValidationEvent); ok && wc.callbacks.OnTransactionValidationComplete != nil {
			wc.callbacks.OnTransactionValidationComplete(event.RequestKey, event.Success)
		}
	case state.BalanceUpdated:
		if balance, ok := data.(state.Balance); ok && wc.callbacks.OnBalanceUpdated != nil {
			wc.callbacks.OnBalanceUpdated(balance)
		}
	case state.ConnectivityChanged:
		if status, ok := data.(uint64); ok && wc.callbacks.OnConnectivityChanged != nil {
			wc.callbacks.OnConnectivityChanged(status)
		}
	case state.ContactLivenessUpdated:
		if event, ok := data.(state.ContactLivenessEvent); ok && wc.callbacks.OnContactLivenessUpdated != nil {
			wc.callbacks.OnContactLivenessUpdated(event.PublicKey, event.LastSeenAt, event.Online)
		}
	default:
		event, ok := data.(state.TxEvent)
		if !ok {
			log.Warnf("Bridge dropped %s event with unexpected payload %T", eventType, data)
			return
		}
		wc.deliverTxEvent(eventType, event)
	}
}

func (wc *WalletContext) deliverTxEvent(eventType state.EventType, event state.TxEvent) {
	tx := wc.ownedTransaction(event)
	switch eventType {
	case state.TransactionReceived:
		if wc.callbacks.OnTransactionReceived != nil {
			wc.callbacks.OnTransactionReceived(tx)
		}
	case state.TransactionReplyReceived:
		if wc.callbacks.OnTransactionReplyReceived != nil {
			wc.callbacks.OnTransactionReplyReceived(tx)
		}
	case state.TransactionFinalized:
		if wc.callbacks.OnTransactionFinalized != nil {
			wc.callbacks.OnTransactionFinalized(tx)
		}
	case state.TransactionBroadcast:
		if wc.callbacks.OnTransactionBroadcast != nil {
			wc.callbacks.OnTransactionBroadcast(tx)
		}
	case state.TransactionMined:
		if wc.callbacks.OnTransactionMined != nil {
			wc.callbacks.OnTransactionMined(tx)
		}
	case state.TransactionMinedUnconfirmed:
		if wc.callbacks.OnTransactionMinedUnconfirmed != nil {
			wc.callbacks.OnTransactionMinedUnconfirmed(tx, event.Confirmations)
		}
	case state.FauxTransactionConfirmed:
		if wc.callbacks.OnFauxTransactionConfirmed != nil {
			wc.callbacks.OnFauxTransactionConfirmed(tx)
		}
	case state.FauxTransactionUnconfirmed:
		if wc.callbacks.OnFauxTransactionUnconfirmed != nil {
			wc.callbacks.OnFauxTransactionUnconfirmed(tx, event.Confirmations)
		}
	case state.TransactionCancelled:
		if wc.callbacks.OnTransactionCancelled != nil {
			wc.callbacks.OnTransactionCancelled(tx, event.CancelReason)
		}
	}
}

// ownedTransaction materializes a host-owned copy of the transaction an event
// refers to. When the row is gone the event payload still carries enough to
// identify it.
func (wc *WalletContext) ownedTransaction(event state.TxEvent) db.Transaction {
	tx, err := wc.state.GetTransaction(event.TxID)
	if err != nil {
		return db.Transaction{
			TxID:       event.TxID,
			Collection: event.Collection,
			Status:     event.Status,
		}
	}
	return *tx
}

// RestoreKey derives a wallet key from a mnemonic seed phrase.
func RestoreKey(seedWords, passphrase string) (*keys.WalletKey, uint64) {
	key, err := keys.WalletKeyFromSeedWords(seedWords, passphrase)
	if err != nil {
		return nil, ERROR_INVALID_ARGUMENT
	}
	return key, ERROR_NONE
}
