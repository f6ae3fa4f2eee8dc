package state

import (
	"sync"
)

type EventType int

const (
	EVENT_CHAN_LENGTH = 16
)

const (
	EventUnknown EventType = iota
	TransactionReceived
	TransactionReplyReceived
	TransactionFinalized
	TransactionBroadcast
	TransactionMined
	TransactionMinedUnconfirmed
	FauxTransactionConfirmed
	FauxTransactionUnconfirmed
	TransactionCancelled
	TxoValidationComplete
	TransactionValidationComplete
	BalanceUpdated
	ConnectivityChanged
	ContactLivenessUpdated
)

func (e EventType) String() string {
	return [...]string{
		"EventUnknown", "TransactionReceived", "TransactionReplyReceived", "TransactionFinalized",
		"TransactionBroadcast", "TransactionMined", "TransactionMinedUnconfirmed",
		"FauxTransactionConfirmed", "FauxTransactionUnconfirmed", "TransactionCancelled",
		"TxoValidationComplete", "TransactionValidationComplete", "BalanceUpdated",
		"ConnectivityChanged", "ContactLivenessUpdated",
	}[e]
}

type EventBus struct {
	subscribers map[EventType][]chan interface{}
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan interface{}),
	}
}

func (eb *EventBus) Subscribe(eventType EventType, ch chan interface{}) {
	if ch == nil {
		panic("channel == nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
}

// Publish delivers without blocking, a subscriber that cannot keep up is
// dropped rather than stalling store mutations.
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	eb.mu.RLock()
	subscribers, ok := eb.subscribers[eventType]
	if !ok {
		eb.mu.RUnlock()
		return
	}
	originLen := len(subscribers)
	removeIndexes := make(map[int]bool)
	for i := 0; i < originLen; i++ {
		ch := subscribers[i]
		select {
		case ch <- data:
			// Success
		default:
			// If cannot receive or closed, remove the subscriber
			removeIndexes[i] = true
		}
	}
	eb.mu.RUnlock()

	if len(removeIndexes) > 0 {
		eb.mu.Lock()
		if originLen == len(eb.subscribers[eventType]) {
			var newSubscribers []chan interface{}
			for index, ch := range eb.subscribers[eventType] {
				if _, is := removeIndexes[index]; !is {
					newSubscribers = append(newSubscribers, ch)
				}
			}
			eb.subscribers[eventType] = newSubscribers
		}
		eb.mu.Unlock()
	}
}

func (eb *EventBus) Unsubscribe(eventType EventType, ch chan interface{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers, ok := eb.subscribers[eventType]
	if !ok {
		return
	}

	for i, subscriber := range subscribers {
		if subscriber == ch {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			break
		}
	}
	if len(eb.subscribers[eventType]) == 0 {
		delete(eb.subscribers, eventType)
	}
}
