package netsync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/btpcsuite/btpcd/chain"
	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/utxoset"
	"github.com/btpcsuite/btpcd/wire"
)

const (
	// defaultRequestTimeout bounds how long a requested block may stay
	// in flight before it is handed to another peer.
	defaultRequestTimeout = 30 * time.Second

	// defaultBanThreshold is the misbehavior score at which a peer is
	// disconnected.
	defaultBanThreshold = 100

	// maxInflightPerPeer caps concurrent block requests per peer.
	maxInflightPerPeer = 16

	// maxBlocksPerInv caps how many block hashes a getblocks response
	// announces at once.
	maxBlocksPerInv = 500

	// maxKnownAddrs caps the gossiped address book.
	maxKnownAddrs = 2048
)

// misbehavior scores
const (
	banMalformed    = 10
	banUnknownInv   = 20
	banBadLocator   = 20
	banTimeout      = 25
	banInvalidBlock = 50
	banInvalidTx    = 10
)

// Config bundles everything a SyncManager needs.  Chain and UtxoStore
// are required; the rest has usable defaults.
type Config struct {
	// Chain is the shared header index for this node.
	Chain *chain.HeaderIndex

	// Params and InitialDifficulty seed the consensus manager.  The
	// manager owns consensus state so it can rebuild it when adopting
	// a heavier side chain.
	Params            consensus.Params
	InitialDifficulty uint64

	// UtxoStore backs the ledger derived from the active chain.
	UtxoStore utxoset.UtxoStore

	// Mempool receives transactions learned from inventory.  May be
	// nil, in which case tx inventory is ignored.
	Mempool TxPool

	// RequestTimeout is how long a block request may stay unanswered.
	RequestTimeout time.Duration

	// BanThreshold disconnects a peer whose misbehavior score reaches
	// it.
	BanThreshold uint32

	// UserAgent is sent in the version handshake.
	UserAgent string
}

// expiredReq is an in-flight block request whose timer ran out.
type expiredReq struct {
	hash   chainhash.Hash
	peerID uint64
}

// SyncManager drives chain synchronization across all connected peers:
// it deduplicates inventory, schedules block downloads with per-request
// expiry, validates and connects downloaded blocks, and switches the
// active chain when a competing branch accumulates more work.
type SyncManager struct {
	cfg Config

	// consMtx guards the cons pointer only; the consensus manager is
	// replaced wholesale during a reorganization.
	consMtx sync.RWMutex
	cons    *consensus.Manager

	utxos *utxoset.UtxoSet

	mtx        sync.Mutex
	peers      map[uint64]*Peer
	nextPeerID uint64
	started    bool
	stopped    bool

	// pending is the FIFO of block hashes waiting for download;
	// pendingSet mirrors it for O(1) dedup.
	pending    []chainhash.Hash
	pendingSet map[chainhash.Hash]struct{}

	// blocks holds downloaded block bodies by hash.  Bodies are kept
	// so side chains can be replayed during a reorganization.
	blocks map[chainhash.Hash]*wire.MsgBlock

	// activeTip is the header whose chain the ledger currently
	// reflects.  It trails the index's best tip until bodies arrive.
	activeTip *chain.HeaderNode

	knownAddrs []*wire.NetAddress

	// inflight maps requested block hash to the id of the peer asked.
	// Entries expire after RequestTimeout; expiry requeues the hash.
	inflight  *ttlcache.Cache[chainhash.Hash, uint64]
	expiredCh chan expiredReq

	nonce uint64

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a sync manager.  Start must be called before peers are
// attached.
func New(cfg *Config) (*SyncManager, error) {
	if cfg.Chain == nil {
		return nil, errors.New("netsync: nil header index")
	}
	if cfg.UtxoStore == nil {
		return nil, errors.New("netsync: nil utxo store")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = defaultBanThreshold
	}

	sm := &SyncManager{
		cfg:        *cfg,
		peers:      make(map[uint64]*Peer),
		pendingSet: make(map[chainhash.Hash]struct{}),
		blocks:     make(map[chainhash.Hash]*wire.MsgBlock),
		expiredCh:  make(chan expiredReq, 256),
		nonce:      rand.Uint64(),
	}
	sm.cons = consensus.NewManager(cfg.Params, cfg.InitialDifficulty)
	sm.utxos = utxoset.New(cfg.UtxoStore, sm)

	// the ledger always starts at the genesis; bodies beyond it are
	// re-downloaded and replayed after a restart
	sm.activeTip = cfg.Chain.BestTip().Ancestor(0)

	sm.inflight = ttlcache.New[chainhash.Hash, uint64](
		ttlcache.WithTTL[chainhash.Hash, uint64](cfg.RequestTimeout),
		ttlcache.WithDisableTouchOnHit[chainhash.Hash, uint64](),
	)
	// eviction runs on the cache goroutine with its lock held, so only
	// hand the event off here; expiryLoop does the real work
	sm.inflight.OnEviction(func(_ context.Context,
		reason ttlcache.EvictionReason,
		item *ttlcache.Item[chainhash.Hash, uint64]) {

		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		select {
		case sm.expiredCh <- expiredReq{hash: item.Key(), peerID: item.Value()}:
		default:
			log.Warnf("expiry queue full, dropping timeout for %s", item.Key())
		}
	})
	return sm, nil
}

// Height returns the height of the active chain.  Implements the
// ledger's HeightSource.
func (sm *SyncManager) Height() int32 {
	sm.consMtx.RLock()
	defer sm.consMtx.RUnlock()
	return sm.cons.Height()
}

// CurrentDifficulty returns the difficulty in force on the active
// chain.
func (sm *SyncManager) CurrentDifficulty() uint64 {
	sm.consMtx.RLock()
	defer sm.consMtx.RUnlock()
	return sm.cons.CurrentDifficulty()
}

// Utxos returns the ledger derived from the active chain.
func (sm *SyncManager) Utxos() *utxoset.UtxoSet {
	return sm.utxos
}

// ActiveTip returns the header node the ledger currently reflects.
func (sm *SyncManager) ActiveTip() *chain.HeaderNode {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	return sm.activeTip
}

// PendingBlocks returns how many block hashes await download.
func (sm *SyncManager) PendingBlocks() int {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	return len(sm.pending)
}

// Peers returns a snapshot of the connected peers.
func (sm *SyncManager) Peers() []*Peer {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	peers := make([]*Peer, 0, len(sm.peers))
	for _, p := range sm.peers {
		peers = append(peers, p)
	}
	return peers
}

// KnownAddresses returns addresses gossiped by peers.
func (sm *SyncManager) KnownAddresses() []*wire.NetAddress {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	return append([]*wire.NetAddress(nil), sm.knownAddrs...)
}

// Start launches the manager's background work.  The context bounds
// the lifetime of every peer goroutine.
func (sm *SyncManager) Start(ctx context.Context) error {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	if sm.started {
		return errors.New("netsync: already started")
	}
	sm.started = true

	sm.ctx, sm.cancel = context.WithCancel(ctx)
	sm.group, _ = errgroup.WithContext(sm.ctx)

	sm.group.Go(func() error {
		sm.inflight.Start()
		return nil
	})
	sm.group.Go(sm.expiryLoop)
	log.Infof("sync manager started, active tip height %d",
		sm.activeTip.Height)
	return nil
}

// Stop tears everything down and waits for the peer goroutines.
func (sm *SyncManager) Stop() error {
	sm.mtx.Lock()
	if !sm.started || sm.stopped {
		sm.mtx.Unlock()
		return ErrManagerStopped
	}
	sm.stopped = true
	peers := make([]*Peer, 0, len(sm.peers))
	for _, p := range sm.peers {
		peers = append(peers, p)
	}
	sm.mtx.Unlock()

	sm.cancel()
	for _, p := range peers {
		_ = p.transition(StateDisconnected)
		p.conn.Close()
	}
	sm.inflight.Stop()
	err := sm.group.Wait()
	log.Infof("sync manager stopped")
	return err
}

// ConnectPeer registers a peer connection and starts its message loop.
// For outbound connections this side opens the version handshake.
func (sm *SyncManager) ConnectPeer(conn MsgConn, inbound bool) (*Peer, error) {
	sm.mtx.Lock()
	if !sm.started || sm.stopped {
		sm.mtx.Unlock()
		return nil, ErrManagerStopped
	}
	sm.nextPeerID++
	p := &Peer{
		id:      sm.nextPeerID,
		conn:    conn,
		inbound: inbound,
		state:   StateIdle,
	}
	sm.peers[p.id] = p
	sm.mtx.Unlock()

	log.Infof("peer %s connected (id %d, inbound %v)", p.Addr(), p.id, inbound)

	if !inbound {
		if err := p.transition(StateHandshaking); err != nil {
			return nil, err
		}
		if err := sm.sendVersion(p); err != nil {
			sm.disconnectPeer(p)
			return nil, err
		}
	}

	sm.group.Go(func() error {
		return sm.peerLoop(p)
	})
	return p, nil
}

// peerLoop reads and dispatches one peer's messages until the
// connection drops or the peer is banned.  Malformed messages penalize
// the peer but never take the node down.
func (sm *SyncManager) peerLoop(p *Peer) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-sm.ctx.Done():
			p.conn.Close()
		case <-done:
		}
	}()
	defer close(done)
	defer sm.disconnectPeer(p)

	for {
		msg, err := p.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, wire.ErrChecksumMismatch) ||
				errors.Is(err, wire.ErrUnknownCommand) {

				log.Debugf("peer %s sent malformed message: %v", p.Addr(), err)
				if sm.penalize(p, banMalformed) {
					return nil
				}
				continue
			}
			if sm.ctx.Err() == nil && p.State() != StateDisconnected {
				log.Debugf("peer %s read error: %v", p.Addr(), err)
			}
			return nil
		}
		p.touch()
		sm.handleMessage(p, msg)
		if p.State() == StateDisconnected {
			return nil
		}
	}
}

func (sm *SyncManager) handleMessage(p *Peer, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		sm.handleVersion(p, m)
	case *wire.MsgVerack:
		sm.handleVerack(p)
	case *wire.MsgPing:
		_ = p.conn.WriteMessage(&wire.MsgPong{Nonce: m.Nonce})
	case *wire.MsgPong:
		// touch already recorded it
	case *wire.MsgInv:
		sm.handleInv(p, m)
	case *wire.MsgGetData:
		sm.handleGetData(p, m)
	case *wire.MsgGetBlocks:
		sm.handleGetBlocks(p, m)
	case *wire.MsgAddr:
		sm.handleAddr(m)
	case *wire.MsgBlock:
		sm.handleBlock(p, m)
	case *wire.MsgTx:
		sm.handleTx(p, m)
	default:
		log.Debugf("peer %s sent unhandled %q", p.Addr(), msg.Command())
		sm.penalize(p, banMalformed)
	}
}

func (sm *SyncManager) sendVersion(p *Peer) error {
	p.mtx.Lock()
	p.versionSent = true
	p.mtx.Unlock()

	msg := &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        wire.SFNodeNetwork,
		Timestamp:       uint64(time.Now().Unix()),
		Nonce:           sm.nonce,
		UserAgent:       sm.cfg.UserAgent,
		StartHeight:     uint32(sm.cfg.Chain.BestTip().Height),
	}
	return p.conn.WriteMessage(msg)
}

func (sm *SyncManager) handleVersion(p *Peer, m *wire.MsgVersion) {
	if m.Nonce == sm.nonce {
		log.Debugf("disconnecting self-connection from %s", p.Addr())
		sm.disconnectPeer(p)
		return
	}

	p.mtx.Lock()
	p.versionReceived = true
	p.startHeight = int32(m.StartHeight)
	p.mtx.Unlock()

	if p.State() == StateIdle {
		// inbound peer spoke first; answer with our version
		_ = p.transition(StateHandshaking)
		if err := sm.sendVersion(p); err != nil {
			sm.disconnectPeer(p)
			return
		}
	}
	if err := p.conn.WriteMessage(&wire.MsgVerack{}); err != nil {
		sm.disconnectPeer(p)
		return
	}
	sm.maybeFinishHandshake(p)
}

func (sm *SyncManager) handleVerack(p *Peer) {
	p.mtx.Lock()
	p.verackReceived = true
	p.mtx.Unlock()
	sm.maybeFinishHandshake(p)
}

// maybeFinishHandshake moves a fully negotiated peer into header sync
// and asks for its view of the chain.
func (sm *SyncManager) maybeFinishHandshake(p *Peer) {
	if !p.handshakeDone() {
		return
	}
	if err := p.transition(StateHeaderSync); err != nil {
		return
	}
	log.Debugf("peer %s handshake complete, start height %d",
		p.Addr(), p.StartHeight())
	sm.backfillBodies()
	sm.sendGetBlocks(p)
	// a peer with nothing we lack is synced right away
	sm.requestBlocks(p)
}

// sendGetBlocks asks a peer which blocks it has past this node's view.
func (sm *SyncManager) sendGetBlocks(p *Peer) {
	msg := wire.NewMsgGetBlocks(&chainhash.ZeroHash)
	for _, hash := range sm.cfg.Chain.LatestBlockLocator() {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			break
		}
	}
	if err := p.conn.WriteMessage(msg); err != nil {
		sm.disconnectPeer(p)
	}
}

// handleInv registers announced inventory.  A block hash enters the
// download queue at most once no matter how many peers announce it.
func (sm *SyncManager) handleInv(p *Peer, m *wire.MsgInv) {
	var wantTx []*wire.InvVect
	queued := 0

	for _, iv := range m.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			if sm.enqueueBlock(iv.Hash) {
				queued++
			}
		case wire.InvTypeTx:
			if sm.cfg.Mempool == nil {
				continue
			}
			hash := iv.Hash
			if !sm.cfg.Mempool.HaveTransaction(&hash) {
				wantTx = append(wantTx, wire.NewInvVect(wire.InvTypeTx, &hash))
			}
		default:
			log.Debugf("peer %s sent unknown inv type %d", p.Addr(), iv.Type)
			if sm.penalize(p, banUnknownInv) {
				return
			}
		}
	}

	if len(wantTx) > 0 {
		gd := wire.NewMsgGetData()
		for _, iv := range wantTx {
			_ = gd.AddInvVect(iv)
		}
		_ = p.conn.WriteMessage(gd)
	}
	if queued > 0 {
		log.Debugf("peer %s announced %d new blocks", p.Addr(), queued)
	}
	sm.requestBlocks(p)
}

// enqueueBlock adds a block hash to the download queue unless its body
// is already present, queued, in flight, or connected on the active
// chain.  Reports whether it was queued.
func (sm *SyncManager) enqueueBlock(hash chainhash.Hash) bool {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	return sm.enqueueBlockLocked(hash)
}

// requestBlocks hands queued hashes to a peer, filling its pipeline up
// to the per-peer cap, and marks the peer synced once nothing remains.
func (sm *SyncManager) requestBlocks(p *Peer) {
	if !p.handshakeDone() || p.State() == StateDisconnected {
		return
	}

	sm.mtx.Lock()
	inUse := 0
	for _, item := range sm.inflight.Items() {
		if item.Value() == p.id {
			inUse++
		}
	}
	var req []chainhash.Hash
	for inUse+len(req) < maxInflightPerPeer && len(sm.pending) > 0 {
		hash := sm.pending[0]
		sm.pending = sm.pending[1:]
		delete(sm.pendingSet, hash)
		if _, ok := sm.blocks[hash]; ok {
			continue
		}
		sm.inflight.Set(hash, p.id, ttlcache.DefaultTTL)
		req = append(req, hash)
	}
	idle := len(sm.pending) == 0 && sm.inflight.Len() == 0
	sm.mtx.Unlock()

	if len(req) > 0 {
		_ = p.transition(StateBlockDownload)
		gd := wire.NewMsgGetData()
		for i := range req {
			_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &req[i]))
		}
		if err := p.conn.WriteMessage(gd); err != nil {
			sm.disconnectPeer(p)
		}
		return
	}

	if idle && sm.cfg.Chain.BestTip().Height >= p.StartHeight() {
		_ = p.transition(StateSynced)
	}
}

// handleGetBlocks answers a peer's locator with inventory for the
// blocks it is missing on the best chain.
func (sm *SyncManager) handleGetBlocks(p *Peer, m *wire.MsgGetBlocks) {
	if len(m.BlockLocatorHashes) == 0 {
		log.Debugf("%v", errInvalidLocator(p.Addr(), 0))
		sm.penalize(p, banBadLocator)
		return
	}

	start := sm.cfg.Chain.FindLocatorAncestor(m.BlockLocatorHashes)
	if start == nil {
		// nothing in common; walk them up from our genesis
		start = sm.cfg.Chain.BestTip().Ancestor(0)
		if start == nil {
			return
		}
	}

	best := sm.cfg.Chain.BestTip()
	inv := wire.NewMsgInv()
	count := 0
	for h := start.Height + 1; h <= best.Height && count < maxBlocksPerInv; h++ {
		node := best.Ancestor(h)
		if node == nil {
			break
		}
		hash := node.Hash
		_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
		count++
		if !m.HashStop.IsZero() && hash.IsEqual(&m.HashStop) {
			break
		}
	}
	if count == 0 {
		return
	}
	log.Debugf("peer %s gets inventory for %d blocks from height %d",
		p.Addr(), count, start.Height+1)
	if err := p.conn.WriteMessage(inv); err != nil {
		sm.disconnectPeer(p)
	}
}

// handleGetData serves block bodies this node has.
func (sm *SyncManager) handleGetData(p *Peer, m *wire.MsgGetData) {
	for _, iv := range m.InvList {
		if iv.Type != wire.InvTypeBlock {
			continue
		}
		sm.mtx.Lock()
		block := sm.blocks[iv.Hash]
		sm.mtx.Unlock()
		if block == nil {
			continue
		}
		if err := p.conn.WriteMessage(block); err != nil {
			sm.disconnectPeer(p)
			return
		}
	}
}

func (sm *SyncManager) handleAddr(m *wire.MsgAddr) {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	for _, na := range m.AddrList {
		if len(sm.knownAddrs) >= maxKnownAddrs {
			break
		}
		sm.knownAddrs = append(sm.knownAddrs, na)
	}
}

func (sm *SyncManager) handleTx(p *Peer, m *wire.MsgTx) {
	if sm.cfg.Mempool == nil {
		return
	}
	if err := sm.cfg.Mempool.ProcessTransaction(m); err != nil {
		log.Debugf("peer %s sent bad tx: %v", p.Addr(), err)
		sm.penalize(p, banInvalidTx)
	}
}

// handleBlock validates and connects a downloaded block, then keeps
// the peer's download pipeline full.
func (sm *SyncManager) handleBlock(p *Peer, m *wire.MsgBlock) {
	hash := m.Header.BlockHash()
	sm.inflight.Delete(hash)

	if err := sm.acceptBlock(p, m, hash); err != nil {
		log.Warnf("peer %s sent invalid block %s: %v", p.Addr(), hash, err)
		if sm.penalize(p, banInvalidBlock) {
			return
		}
	}
	sm.requestBlocks(p)
}

// acceptBlock runs context-free checks, indexes the header, stores the
// body, and advances the active chain as far as bodies allow.
func (sm *SyncManager) acceptBlock(p *Peer, block *wire.MsgBlock,
	hash chainhash.Hash) error {

	sm.consMtx.RLock()
	cons := sm.cons
	sm.consMtx.RUnlock()

	if err := cons.ValidateBlockSize(uint64(block.SerializeSize())); err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		if err := cons.ValidateTxSize(uint64(tx.SerializeSize())); err != nil {
			return err
		}
	}
	if err := block.CheckMerkleRoot(); err != nil {
		return err
	}
	target := consensus.BitsToTarget(block.Header.Bits)
	if !consensus.MeetsTarget(&hash, target) {
		return consensus.ErrInvalidProofOfWork
	}

	if !sm.cfg.Chain.HaveBlock(&hash) {
		_, err := sm.cfg.Chain.AddHeader(&block.Header)
		if errors.Is(err, chain.ErrOrphanHeader) {
			// missing ancestry; stash the body and ask the peer to
			// fill the gap
			sm.mtx.Lock()
			sm.blocks[hash] = block
			sm.mtx.Unlock()
			log.Debugf("orphan block %s from %s, requesting ancestry",
				hash, p.Addr())
			sm.sendGetBlocks(p)
			return nil
		}
		if err != nil && !errors.Is(err, chain.ErrDuplicateHeader) {
			return err
		}
	}

	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	delete(sm.pendingSet, hash)
	sm.blocks[hash] = block
	return sm.tryAdvance()
}

// tryAdvance moves the active chain toward the index's best tip,
// connecting stored bodies in height order.  A best tip on a different
// branch triggers a reorganization.
func (sm *SyncManager) tryAdvance() error {
	best := sm.cfg.Chain.BestTip()
	if best == sm.activeTip {
		return nil
	}

	fork := sm.cfg.Chain.FindFork(sm.activeTip, best)
	if fork != sm.activeTip {
		return sm.reorg(best)
	}

	for h := sm.activeTip.Height + 1; h <= best.Height; h++ {
		node := best.Ancestor(h)
		if node == nil {
			break
		}
		body := sm.blocks[node.Hash]
		if body == nil {
			// still downloading
			break
		}
		if err := sm.connectBlock(node, body); err != nil {
			return err
		}
		sm.activeTip = node
	}
	return nil
}

// connectBlock applies one block on top of the active chain: timestamp
// sanity, consensus height/difficulty bookkeeping, then the ledger
// mutation.
func (sm *SyncManager) connectBlock(node *chain.HeaderNode,
	body *wire.MsgBlock) error {

	sm.consMtx.RLock()
	cons := sm.cons
	sm.consMtx.RUnlock()

	maxTime := uint64(time.Now().Unix()) + cons.Params().MaxFutureBlockTime
	if uint64(node.Header.Timestamp) > maxTime {
		return fmt.Errorf("block %s timestamp %d too far ahead",
			node.Hash, node.Header.Timestamp)
	}

	_, err := cons.ProcessBlock(solveTime(node), node.Height)
	if err != nil {
		if errors.Is(err, consensus.ErrNonConsecutiveHeight) {
			return err
		}
		// a failed retarget doesn't invalidate the block itself
		log.Warnf("retarget after block %s: %v", node.Hash, err)
	}

	spends, creations := ledgerDelta(body, node.Height)
	if err := sm.utxos.ApplyBlock(spends, creations); err != nil {
		return err
	}
	if sm.cfg.Mempool != nil {
		sm.cfg.Mempool.BlockConnected(body)
	}
	log.Debugf("connected block %s at height %d (%d txs)",
		node.Hash, node.Height, len(body.Transactions))
	return nil
}

// solveTime is the seconds a block took relative to its parent, floored
// at zero for out-of-order timestamps.
func solveTime(node *chain.HeaderNode) uint64 {
	parent := node.Parent()
	if parent == nil || node.Header.Timestamp <= parent.Header.Timestamp {
		return 0
	}
	return uint64(node.Header.Timestamp - parent.Header.Timestamp)
}

// reorg adopts a heavier branch.  The replacement consensus state and
// ledger are derived on the side first; the live state is only touched
// once the whole branch validated, so a bad branch changes nothing.
func (sm *SyncManager) reorg(target *chain.HeaderNode) error {
	fork := sm.cfg.Chain.FindFork(sm.activeTip, target)
	if fork == nil {
		return errors.New("no common ancestor with new best chain")
	}
	log.Infof("reorganizing: tip %s height %d -> %s height %d, fork at %d",
		sm.activeTip.Hash, sm.activeTip.Height,
		target.Hash, target.Height, fork.Height)

	path := make([]*chain.HeaderNode, target.Height+1)
	for n := target; n != nil; n = n.Parent() {
		path[n.Height] = n
	}
	for h := int32(1); h <= target.Height; h++ {
		if sm.blocks[path[h].Hash] == nil {
			sm.enqueueBlockLocked(path[h].Hash)
			return errMissingBlockBody(path[h].Hash, h)
		}
	}

	newCons := consensus.NewManager(sm.cfg.Params, sm.cfg.InitialDifficulty)
	scratchStore := utxoset.NewMemStore()
	scratch := utxoset.New(scratchStore, newCons)

	for h := int32(1); h <= target.Height; h++ {
		node := path[h]
		body := sm.blocks[node.Hash]
		if _, err := newCons.ProcessBlock(solveTime(node), h); err != nil {
			if errors.Is(err, consensus.ErrNonConsecutiveHeight) {
				return err
			}
			log.Warnf("retarget during reorg at height %d: %v", h, err)
		}
		spends, creations := ledgerDelta(body, h)
		if err := scratch.ApplyBlock(spends, creations); err != nil {
			return fmt.Errorf("replay of %s at height %d: %w",
				node.Hash, h, err)
		}
	}

	// branch is good; swap the live state
	if err := sm.utxos.ReplaceAll(scratchStore); err != nil {
		return err
	}
	sm.consMtx.Lock()
	sm.cons = newCons
	sm.consMtx.Unlock()
	sm.activeTip = target

	if sm.cfg.Mempool != nil {
		for h := int32(1); h <= target.Height; h++ {
			sm.cfg.Mempool.BlockConnected(sm.blocks[path[h].Hash])
		}
	}
	log.Infof("reorganization complete, active tip now %s height %d",
		target.Hash, target.Height)
	return nil
}

// enqueueBlockLocked is enqueueBlock for callers already holding the
// manager mutex.  A known header alone never skips the download: the
// header index survives a restart but block bodies do not.
func (sm *SyncManager) enqueueBlockLocked(hash chainhash.Hash) bool {
	if node := sm.cfg.Chain.LookupNode(&hash); node != nil &&
		node.Height <= sm.activeTip.Height &&
		sm.activeTip.Ancestor(node.Height) == node {
		// already connected to the ledger
		return false
	}
	if _, ok := sm.pendingSet[hash]; ok {
		return false
	}
	if _, ok := sm.blocks[hash]; ok {
		return false
	}
	if sm.inflight.Get(hash) != nil {
		return false
	}
	sm.pending = append(sm.pending, hash)
	sm.pendingSet[hash] = struct{}{}
	return true
}

// backfillBodies queues downloads for headers the index already has
// ahead of the active chain.  After a restart the index is reloaded
// from disk while bodies are not, and peers won't re-announce old
// blocks, so the gap has to be filled from our own index.
func (sm *SyncManager) backfillBodies() {
	best := sm.cfg.Chain.BestTip()

	sm.mtx.Lock()
	queued := 0
	for h := sm.activeTip.Height + 1; h <= best.Height; h++ {
		node := best.Ancestor(h)
		if node == nil {
			break
		}
		if sm.enqueueBlockLocked(node.Hash) {
			queued++
		}
	}
	sm.mtx.Unlock()

	if queued > 0 {
		log.Infof("missing %d block bodies up to height %d, redownloading",
			queued, best.Height)
	}
}

// ledgerDelta translates a block body into ledger spends and creations.
func ledgerDelta(block *wire.MsgBlock,
	height int32) ([]utxoset.SpentOutPoint, []utxoset.NewOutput) {

	var spends []utxoset.SpentOutPoint
	var creations []utxoset.NewOutput
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		coinbase := isCoinbase(tx)
		if !coinbase {
			for _, in := range tx.TxIn {
				spends = append(spends, utxoset.SpentOutPoint{
					OutPoint: in.PreviousOutPoint,
					SpentBy:  txHash,
				})
			}
		}
		for i, out := range tx.TxOut {
			creations = append(creations, utxoset.NewOutput{
				OutPoint: wire.OutPoint{Hash: txHash, Index: uint32(i)},
				Output:   *out,
				Height:   height,
				Coinbase: coinbase,
			})
		}
	}
	return spends, creations
}

// isCoinbase reports whether a transaction mints rather than spends: no
// inputs, or a single input referencing the zero outpoint.
func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) == 0 {
		return true
	}
	return len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.Hash.IsZero()
}

// penalize bumps a peer's ban score and disconnects it past the
// threshold.  Reports whether the peer was disconnected.
func (sm *SyncManager) penalize(p *Peer, points uint32) bool {
	if p.addBanScore(points, sm.cfg.BanThreshold) {
		log.Warnf("%v", errPeerBanned(p.Addr(), p.BanScore()))
		sm.disconnectPeer(p)
		return true
	}
	return false
}

// disconnectPeer drops a peer and puts its in-flight requests back in
// the queue for someone else.
func (sm *SyncManager) disconnectPeer(p *Peer) {
	if err := p.transition(StateDisconnected); err != nil {
		return
	}
	p.conn.Close()

	sm.mtx.Lock()
	delete(sm.peers, p.id)
	var orphaned []chainhash.Hash
	for hash, item := range sm.inflight.Items() {
		if item.Value() == p.id {
			orphaned = append(orphaned, hash)
		}
	}
	for _, hash := range orphaned {
		sm.inflight.Delete(hash)
		sm.enqueueBlockLocked(hash)
	}
	sm.mtx.Unlock()

	log.Infof("peer %s disconnected, %d requests requeued",
		p.Addr(), len(orphaned))
	if len(orphaned) > 0 {
		sm.redistribute()
	}
}

// expiryLoop turns request timeouts into penalties and requeues, off
// the cache's goroutine.
func (sm *SyncManager) expiryLoop() error {
	for {
		select {
		case <-sm.ctx.Done():
			return nil
		case exp := <-sm.expiredCh:
			sm.handleExpiry(exp)
		}
	}
}

func (sm *SyncManager) handleExpiry(exp expiredReq) {
	sm.mtx.Lock()
	p := sm.peers[exp.peerID]
	if _, have := sm.blocks[exp.hash]; !have {
		sm.enqueueBlockLocked(exp.hash)
	}
	sm.mtx.Unlock()

	if p != nil {
		log.Warnf("%v", errPeerTimeout(p.Addr(), exp.hash))
		sm.penalize(p, banTimeout)
	}
	sm.redistribute()
}

// redistribute offers queued work to every usable peer.
func (sm *SyncManager) redistribute() {
	for _, p := range sm.Peers() {
		if sm.PendingBlocks() == 0 {
			return
		}
		sm.requestBlocks(p)
	}
}
