package netsync

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btpcsuite/btpcd/chain"
	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/utxoset"
	"github.com/btpcsuite/btpcd/wire"
)

// testBits is an easy compact target so test blocks mine in a handful
// of nonce attempts.
const testBits = 0x4100ffff

const peerNonce = 0xfeedbeef

// pipeConn is an in-memory MsgConn so tests can play the remote peer.
type pipeConn struct {
	addr string

	in      chan wire.Message
	out     chan wire.Message
	readErr chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipeConn(addr string) *pipeConn {
	return &pipeConn{
		addr:    addr,
		in:      make(chan wire.Message, 64),
		out:     make(chan wire.Message, 64),
		readErr: make(chan error, 8),
		closed:  make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() (wire.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(msg wire.Message) error {
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return io.EOF
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return c.addr
}

// recv pulls the next message the manager wrote, failing the test if
// none arrives in time.
func recv(t *testing.T, c *pipeConn) wire.Message {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message from manager")
		return nil
	}
}

// expectNothing asserts the manager stays quiet on this connection.
func expectNothing(t *testing.T, c *pipeConn) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("unexpected %q message", msg.Command())
	case <-time.After(100 * time.Millisecond):
	}
}

func testGenesis() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   1,
		Timestamp: uint32(time.Now().Unix()) - 7200,
		Bits:      testBits,
	}
}

// mineBlock builds a valid block with one coinbase on top of the given
// parent.  The seed keeps coinbase hashes distinct across blocks.
func mineBlock(t *testing.T, parent *wire.BlockHeader, seed byte) *wire.MsgBlock {
	t.Helper()

	cb := wire.NewMsgTx()
	cb.AddTxOut(&wire.TxOut{Value: 50, PkScript: []byte{seed}})

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: parent.BlockHash(),
			Timestamp: parent.Timestamp + 600,
			Bits:      testBits,
		},
	}
	block.Transactions = append(block.Transactions, cb)
	root, err := block.ComputeMerkleRoot()
	require.NoError(t, err)
	block.Header.MerkleRoot = root

	target := consensus.BitsToTarget(testBits)
	for {
		hash := block.Header.BlockHash()
		if consensus.MeetsTarget(&hash, target) {
			return block
		}
		block.Header.Nonce++
	}
}

// mineChain builds n blocks on top of the genesis, seeds offset apart
// so competing chains stay distinct.
func mineChain(t *testing.T, genesis *wire.BlockHeader, n int, seed byte) []*wire.MsgBlock {
	t.Helper()
	var blocks []*wire.MsgBlock
	parent := genesis
	for i := 0; i < n; i++ {
		block := mineBlock(t, parent, seed+byte(i))
		blocks = append(blocks, block)
		parent = &block.Header
	}
	return blocks
}

type testHarness struct {
	sm      *SyncManager
	genesis *wire.BlockHeader
}

func newTestHarness(t *testing.T, timeout time.Duration) *testHarness {
	t.Helper()

	genesis := testGenesis()
	idx, err := chain.NewHeaderIndex(genesis, nil)
	require.NoError(t, err)
	return newTestHarnessWithIndex(t, timeout, genesis, idx)
}

// newTestHarnessWithIndex is newTestHarness over an existing header
// index, for scenarios that begin with headers already indexed.
func newTestHarnessWithIndex(t *testing.T, timeout time.Duration,
	genesis *wire.BlockHeader, idx *chain.HeaderIndex) *testHarness {

	t.Helper()

	sm, err := New(&Config{
		Chain:             idx,
		Params:            consensus.RegTestParams,
		InitialDifficulty: 1,
		UtxoStore:         utxoset.NewMemStore(),
		RequestTimeout:    timeout,
		UserAgent:         "/test:0.1/",
	})
	require.NoError(t, err)
	require.NoError(t, sm.Start(context.Background()))
	t.Cleanup(func() { _ = sm.Stop() })

	return &testHarness{sm: sm, genesis: genesis}
}

// connectPeer attaches an outbound peer and walks it through the
// version handshake, leaving it in header sync or already downloading.
func (h *testHarness) connectPeer(t *testing.T, addr string, startHeight uint32) (*Peer, *pipeConn) {
	t.Helper()

	conn := newPipeConn(addr)
	p, err := h.sm.ConnectPeer(conn, false)
	require.NoError(t, err)

	ver := recv(t, conn)
	require.IsType(t, &wire.MsgVersion{}, ver)

	conn.in <- &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Nonce:           peerNonce,
		StartHeight:     startHeight,
	}
	conn.in <- &wire.MsgVerack{}

	require.IsType(t, &wire.MsgVerack{}, recv(t, conn))
	require.IsType(t, &wire.MsgGetBlocks{}, recv(t, conn))

	require.Eventually(t, func() bool {
		switch p.State() {
		case StateHeaderSync, StateBlockDownload, StateSynced:
			return true
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	return p, conn
}

// announce sends a block inv from the peer.
func announce(conn *pipeConn, blocks ...*wire.MsgBlock) {
	inv := wire.NewMsgInv()
	for _, block := range blocks {
		hash := block.Header.BlockHash()
		inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
	}
	conn.in <- inv
}

// serve answers the next getdata with the matching block bodies.
func serve(t *testing.T, conn *pipeConn, blocks []*wire.MsgBlock) {
	t.Helper()
	gd, ok := recv(t, conn).(*wire.MsgGetData)
	require.True(t, ok, "expected getdata")

	byHash := make(map[chainhash.Hash]*wire.MsgBlock)
	for _, block := range blocks {
		byHash[block.Header.BlockHash()] = block
	}
	for _, iv := range gd.InvList {
		block := byHash[iv.Hash]
		require.NotNil(t, block, "manager requested unknown block")
		conn.in <- block
	}
}

func TestHandshakeLifecycle(t *testing.T) {
	h := newTestHarness(t, 0)
	p, _ := h.connectPeer(t, "peer1", 0)

	// nothing to download from a peer at our height
	require.Eventually(t, func() bool {
		return p.State() == StateSynced
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSelfConnectionDropped(t *testing.T) {
	h := newTestHarness(t, 0)

	conn := newPipeConn("self")
	p, err := h.sm.ConnectPeer(conn, false)
	require.NoError(t, err)

	ver := recv(t, conn).(*wire.MsgVersion)

	// reflect our own nonce back
	conn.in <- &wire.MsgVersion{ProtocolVersion: 1, Nonce: ver.Nonce}

	require.Eventually(t, func() bool {
		return p.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBlockDownloadAndConnect(t *testing.T) {
	h := newTestHarness(t, 0)
	blocks := mineChain(t, h.genesis, 3, 1)

	p, conn := h.connectPeer(t, "peer1", 3)
	announce(conn, blocks...)
	serve(t, conn, blocks)

	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 3
	}, 3*time.Second, 10*time.Millisecond)

	// ledger holds the three coinbase outputs
	stats, err := h.sm.Utxos().GetStats()
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.UnspentOutputs)
	require.Equal(t, uint64(150), stats.UnspentValue)
	require.Equal(t, int32(3), h.sm.Height())

	require.Eventually(t, func() bool {
		return p.State() == StateSynced
	}, 3*time.Second, 10*time.Millisecond)
}

func TestIndexedHeadersRedownloadBodies(t *testing.T) {
	genesis := testGenesis()
	blocks := mineChain(t, genesis, 3, 1)

	// headers survive a restart in the index; bodies and the ledger
	// start over empty
	idx, err := chain.NewHeaderIndex(genesis, nil)
	require.NoError(t, err)
	for _, block := range blocks {
		_, err := idx.AddHeader(&block.Header)
		require.NoError(t, err)
	}

	h := newTestHarnessWithIndex(t, 0, genesis, idx)
	require.Equal(t, int32(3), idx.BestTip().Height)
	require.Equal(t, int32(0), h.sm.ActiveTip().Height)

	// the peer won't announce blocks it considers old, so the manager
	// has to request the missing bodies on its own
	p, conn := h.connectPeer(t, "peer1", 3)
	serve(t, conn, blocks)

	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 3
	}, 3*time.Second, 10*time.Millisecond)

	stats, err := h.sm.Utxos().GetStats()
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.UnspentOutputs)
	require.Equal(t, int32(3), h.sm.Height())

	require.Eventually(t, func() bool {
		return p.State() == StateSynced
	}, 3*time.Second, 10*time.Millisecond)
}

func TestInventoryDeduplicated(t *testing.T) {
	h := newTestHarness(t, 0)
	blocks := mineChain(t, h.genesis, 1, 1)

	_, conn1 := h.connectPeer(t, "peer1", 1)
	_, conn2 := h.connectPeer(t, "peer2", 1)

	// both peers announce the same block
	announce(conn1, blocks[0])
	gd := recv(t, conn1).(*wire.MsgGetData)
	require.Len(t, gd.InvList, 1)

	announce(conn2, blocks[0])

	// the request is already in flight, so the second announcement
	// must not produce another one
	expectNothing(t, conn2)
	require.Equal(t, 0, h.sm.PendingBlocks())

	// and once the body arrived, re-announcing does nothing either
	conn1.in <- blocks[0]
	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 1
	}, 3*time.Second, 10*time.Millisecond)

	announce(conn2, blocks[0])
	expectNothing(t, conn2)
}

func TestMalformedMessagesPenalize(t *testing.T) {
	h := newTestHarness(t, 0)
	p, conn := h.connectPeer(t, "peer1", 0)

	// checksum garbage is survivable until the score crosses the
	// threshold
	strikes := int(defaultBanThreshold / banMalformed)
	for i := 0; i < strikes; i++ {
		conn.readErr <- wire.ErrChecksumMismatch
	}

	require.Eventually(t, func() bool {
		return p.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, p.BanScore(), uint32(defaultBanThreshold))

	// the manager itself is still alive and serving other peers
	p2, _ := h.connectPeer(t, "peer2", 0)
	require.Eventually(t, func() bool {
		return p2.State() == StateSynced
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRequestTimeoutRequeues(t *testing.T) {
	h := newTestHarness(t, 150*time.Millisecond)
	blocks := mineChain(t, h.genesis, 1, 1)

	p, conn := h.connectPeer(t, "peer1", 1)
	announce(conn, blocks[0])

	gd := recv(t, conn).(*wire.MsgGetData)
	require.Len(t, gd.InvList, 1)

	// never serve it; the request expires and comes back around
	gd2, ok := recv(t, conn).(*wire.MsgGetData)
	require.True(t, ok, "expected re-request after timeout")
	require.Equal(t, gd.InvList[0].Hash, gd2.InvList[0].Hash)
	require.GreaterOrEqual(t, p.BanScore(), uint32(banTimeout))
}

func TestDisconnectRequeuesToOtherPeer(t *testing.T) {
	h := newTestHarness(t, time.Minute)
	blocks := mineChain(t, h.genesis, 1, 1)

	p1, conn1 := h.connectPeer(t, "peer1", 1)
	_, conn2 := h.connectPeer(t, "peer2", 1)

	announce(conn1, blocks[0])
	recv(t, conn1) // getdata to peer1

	// peer1 dies with the request outstanding
	conn1.Close()
	require.Eventually(t, func() bool {
		return p1.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	// the block lands via peer2 instead
	serve(t, conn2, blocks)
	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReorgToHeavierChain(t *testing.T) {
	h := newTestHarness(t, 0)
	chainA := mineChain(t, h.genesis, 2, 1)
	chainB := mineChain(t, h.genesis, 3, 100)

	_, conn := h.connectPeer(t, "peer1", 3)

	// chain A connects first and is the active chain
	announce(conn, chainA...)
	serve(t, conn, chainA)
	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 2
	}, 3*time.Second, 10*time.Millisecond)
	tipA := h.sm.ActiveTip().Hash

	// chain B has more cumulative work; once its bodies arrive the
	// ledger must be rebuilt onto it
	announce(conn, chainB...)
	serve(t, conn, chainB)

	require.Eventually(t, func() bool {
		tip := h.sm.ActiveTip()
		return tip.Height == 3 && tip.Hash != tipA
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, chainB[2].Header.BlockHash(), h.sm.ActiveTip().Hash)
	require.Equal(t, int32(3), h.sm.Height())

	// the ledger reflects chain B's coinbases only
	stats, err := h.sm.Utxos().GetStats()
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.UnspentOutputs)

	for _, block := range chainB {
		cb := block.Transactions[0]
		_, err := h.sm.Utxos().GetOutput(wire.OutPoint{Hash: cb.TxHash()})
		require.NoError(t, err)
	}
	for _, block := range chainA {
		cb := block.Transactions[0]
		_, err := h.sm.Utxos().GetOutput(wire.OutPoint{Hash: cb.TxHash()})
		require.ErrorIs(t, err, utxoset.ErrNotFound)
	}
}

func TestEqualWorkKeepsFirstChain(t *testing.T) {
	h := newTestHarness(t, 0)
	chainA := mineChain(t, h.genesis, 2, 1)
	chainB := mineChain(t, h.genesis, 2, 100)

	_, conn := h.connectPeer(t, "peer1", 2)

	announce(conn, chainA...)
	serve(t, conn, chainA)
	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 2
	}, 3*time.Second, 10*time.Millisecond)
	tipA := h.sm.ActiveTip().Hash

	// same height, same work: the incumbent stays
	announce(conn, chainB...)
	serve(t, conn, chainB)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, tipA, h.sm.ActiveTip().Hash)
}

func TestServeGetBlocks(t *testing.T) {
	h := newTestHarness(t, 0)
	blocks := mineChain(t, h.genesis, 3, 1)

	_, conn1 := h.connectPeer(t, "peer1", 3)
	announce(conn1, blocks...)
	serve(t, conn1, blocks)
	require.Eventually(t, func() bool {
		return h.sm.ActiveTip().Height == 3
	}, 3*time.Second, 10*time.Millisecond)

	// a fresh peer asks what we have past the genesis
	_, conn2 := h.connectPeer(t, "peer2", 0)
	genesisHash := h.genesis.BlockHash()
	gb := wire.NewMsgGetBlocks(&chainhash.ZeroHash)
	require.NoError(t, gb.AddBlockLocatorHash(&genesisHash))
	conn2.in <- gb

	inv, ok := recv(t, conn2).(*wire.MsgInv)
	require.True(t, ok, "expected inv")
	require.Len(t, inv.InvList, 3)
	for i, iv := range inv.InvList {
		require.Equal(t, wire.InvTypeBlock, iv.Type)
		require.Equal(t, blocks[i].Header.BlockHash(), iv.Hash)
	}

	// and can fetch the bodies
	gd := wire.NewMsgGetData()
	hash := blocks[1].Header.BlockHash()
	require.NoError(t, gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash)))
	conn2.in <- gd

	got, ok := recv(t, conn2).(*wire.MsgBlock)
	require.True(t, ok, "expected block")
	require.Equal(t, hash, got.Header.BlockHash())
}

func TestEmptyLocatorPenalized(t *testing.T) {
	h := newTestHarness(t, 0)
	p, conn := h.connectPeer(t, "peer1", 0)

	conn.in <- wire.NewMsgGetBlocks(&chainhash.ZeroHash)

	require.Eventually(t, func() bool {
		return p.BanScore() >= banBadLocator
	}, 3*time.Second, 10*time.Millisecond)
}

type fakePool struct {
	mtx  sync.Mutex
	have map[chainhash.Hash]bool
	got  []*wire.MsgTx
}

func (f *fakePool) HaveTransaction(hash *chainhash.Hash) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.have[*hash]
}

func (f *fakePool) ProcessTransaction(tx *wire.MsgTx) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.got = append(f.got, tx)
	f.have[tx.TxHash()] = true
	return nil
}

func (f *fakePool) BlockConnected(block *wire.MsgBlock) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, tx := range block.Transactions {
		delete(f.have, tx.TxHash())
	}
}

func TestTxInventoryForwarded(t *testing.T) {
	genesis := testGenesis()
	idx, err := chain.NewHeaderIndex(genesis, nil)
	require.NoError(t, err)

	pool := &fakePool{have: make(map[chainhash.Hash]bool)}
	sm, err := New(&Config{
		Chain:             idx,
		Params:            consensus.RegTestParams,
		InitialDifficulty: 1,
		UtxoStore:         utxoset.NewMemStore(),
		Mempool:           pool,
	})
	require.NoError(t, err)
	require.NoError(t, sm.Start(context.Background()))
	t.Cleanup(func() { _ = sm.Stop() })

	h := &testHarness{sm: sm, genesis: genesis}
	_, conn := h.connectPeer(t, "peer1", 0)

	tx := wire.NewMsgTx()
	tx.AddTxOut(&wire.TxOut{Value: 9, PkScript: []byte{0x51}})
	txHash := tx.TxHash()

	inv := wire.NewMsgInv()
	require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &txHash)))
	conn.in <- inv

	gd, ok := recv(t, conn).(*wire.MsgGetData)
	require.True(t, ok, "expected getdata for the tx")
	require.Len(t, gd.InvList, 1)
	require.Equal(t, wire.InvTypeTx, gd.InvList[0].Type)

	conn.in <- tx
	require.Eventually(t, func() bool {
		return pool.HaveTransaction(&txHash)
	}, 3*time.Second, 10*time.Millisecond)

	// known txs aren't requested again
	conn.in <- inv
	expectNothing(t, conn)
}
