package netsync

import (
	"fmt"
	"sync"
	"time"
)

// PeerSyncState tracks where a peer is in the synchronization
// lifecycle.
type PeerSyncState int

const (
	// StateIdle is a freshly connected peer, nothing exchanged yet.
	StateIdle PeerSyncState = iota

	// StateHandshaking means version negotiation is underway.
	StateHandshaking

	// StateHeaderSync means we're walking the peer's chain with
	// locators to learn what it has.
	StateHeaderSync

	// StateBlockDownload means block bodies are being fetched.
	StateBlockDownload

	// StateSynced means nothing is outstanding with this peer.
	StateSynced

	// StateDisconnected is terminal; the peer is gone.
	StateDisconnected
)

func (s PeerSyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateHeaderSync:
		return "headersync"
	case StateBlockDownload:
		return "blockdownload"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// validTransitions is the forward edge set of the peer lifecycle.
// Disconnected is reachable from every state and handled separately.
var validTransitions = map[PeerSyncState][]PeerSyncState{
	StateIdle:          {StateHandshaking},
	StateHandshaking:   {StateHeaderSync},
	StateHeaderSync:    {StateBlockDownload, StateSynced},
	StateBlockDownload: {StateSynced},
	StateSynced:        {StateBlockDownload},
}

// Peer is one remote node the manager is syncing with.
type Peer struct {
	id   uint64
	conn MsgConn

	// inbound is true when the remote side dialed us; it decides who
	// sends the first version message.
	inbound bool

	mtx sync.Mutex

	state       PeerSyncState
	banScore    uint32
	startHeight int32

	// versionSent/verackReceived gate handshake completion: the
	// handshake is done once our version went out and was acked and
	// the remote version arrived.
	versionSent     bool
	versionReceived bool
	verackReceived  bool

	lastRecv time.Time
}

// ID returns the manager-assigned peer id.
func (p *Peer) ID() uint64 {
	return p.id
}

// Addr returns the remote address for logging.
func (p *Peer) Addr() string {
	return p.conn.RemoteAddr()
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerSyncState {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state
}

// StartHeight returns the chain height the peer announced at handshake.
func (p *Peer) StartHeight() int32 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.startHeight
}

// BanScore returns the peer's accumulated misbehavior score.
func (p *Peer) BanScore() uint32 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.banScore
}

// transition moves the peer to a new state.  Disconnected is always
// allowed; anything else must follow the lifecycle edges.  A peer that
// already disconnected stays that way.
func (p *Peer) transition(to PeerSyncState) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == StateDisconnected {
		return fmt.Errorf("peer %s is disconnected", p.conn.RemoteAddr())
	}
	if to == StateDisconnected {
		p.state = StateDisconnected
		return nil
	}
	if p.state == to {
		return nil
	}
	for _, next := range validTransitions[p.state] {
		if next == to {
			log.Tracef("peer %s: %v -> %v", p.conn.RemoteAddr(), p.state, to)
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("peer %s: no transition %v -> %v",
		p.conn.RemoteAddr(), p.state, to)
}

// addBanScore bumps the misbehavior score and reports whether it
// crossed the threshold.
func (p *Peer) addBanScore(points, threshold uint32) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.banScore += points
	log.Debugf("peer %s ban score now %d (+%d)",
		p.conn.RemoteAddr(), p.banScore, points)
	return p.banScore >= threshold
}

// touch records message arrival time.
func (p *Peer) touch() {
	p.mtx.Lock()
	p.lastRecv = time.Now()
	p.mtx.Unlock()
}

// handshakeDone reports whether both directions of the version
// exchange completed.
func (p *Peer) handshakeDone() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.versionSent && p.versionReceived && p.verackReceived
}
