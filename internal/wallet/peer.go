package wallet

import (
	"context"
	"sync"

	"github.com/embernetwork/ember-wallet/internal/node"
)

const (
	PEER_MSG_TX_REQUEST   = "tx_request"
	PEER_MSG_TX_REPLY     = "tx_reply"
	PEER_MSG_TX_FINALIZED = "tx_finalized"
)

// PeerMessage is one negotiation message exchanged with a counterparty.
// MessageID correlates a reply or finalize with the request that started the
// handshake.
type PeerMessage struct {
	Kind         string
	MessageID    string
	SenderKey    string
	TxID         uint64 // sender-local id, echoed back in replies
	Amount       uint64
	Fee          uint64
	Message      string
	KernelExcess []byte
	KernelNonce  []byte
	KernelSig    []byte
}

// PeerClient carries negotiation messages to counterparties. The concrete
// transport (and its store-and-forward infrastructure) sits behind this
// interface.
type PeerClient interface {
	// Send delivers a negotiation message to the destination public key.
	// Returns node.ErrNetworkUnavailable when the peer is unreachable and the
	// message should be queued for retry.
	Send(ctx context.Context, destination string, msg PeerMessage) error

	// Incoming yields negotiation messages from counterparties.
	Incoming() <-chan PeerMessage
}

// MemoryPeer is an in-process peer transport for local networks and tests.
type MemoryPeer struct {
	mu       sync.Mutex
	incoming chan PeerMessage
	sent     []PeerMessage
	offline  bool
}

var _ PeerClient = (*MemoryPeer)(nil)

func NewMemoryPeer() *MemoryPeer {
	return &MemoryPeer{
		incoming: make(chan PeerMessage, 32),
	}
}

func (p *MemoryPeer) Send(ctx context.Context, destination string, msg PeerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return node.ErrNetworkUnavailable
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *MemoryPeer) Incoming() <-chan PeerMessage {
	return p.incoming
}

// Deliver injects a counterparty message, as if it arrived off the wire.
func (p *MemoryPeer) Deliver(msg PeerMessage) {
	p.incoming <- msg
}

// Sent returns a copy of every message handed to Send.
func (p *MemoryPeer) Sent() []PeerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PeerMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

// SetOffline toggles simulated loss of peer connectivity.
func (p *MemoryPeer) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}
