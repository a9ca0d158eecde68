package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

// easyBits is a very easy compact target so CalcWork stays small.
const easyBits = 0x2100ffff

func testGenesis() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   1,
		Timestamp: 1700000000,
		Bits:      easyBits,
	}
}

// extend builds a child header on top of the given parent hash.
func extend(parent chainhash.Hash, nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   1,
		PrevBlock: parent,
		Timestamp: 1700000000,
		Bits:      easyBits,
		Nonce:     nonce,
	}
}

func TestAddHeaderChain(t *testing.T) {
	idx, err := NewHeaderIndex(testGenesis(), nil)
	require.NoError(t, err)

	tip := idx.BestTip()
	require.Equal(t, int32(0), tip.Height)

	var last chainhash.Hash = tip.Hash
	for i := uint32(1); i <= 5; i++ {
		node, err := idx.AddHeader(extend(last, i))
		require.NoError(t, err)
		require.Equal(t, int32(i), node.Height)
		last = node.Hash
	}
	require.Equal(t, int32(5), idx.BestTip().Height)
	require.True(t, idx.HaveBlock(&last))

	// orphans and duplicates rejected
	var unknown chainhash.Hash
	unknown[0] = 0xaa
	_, err = idx.AddHeader(extend(unknown, 99))
	require.ErrorIs(t, err, ErrOrphanHeader)

	_, err = idx.AddHeader(extend(idx.BestTip().Parent().Hash, 5))
	require.ErrorIs(t, err, ErrDuplicateHeader)
}

func TestBestTipMostWork(t *testing.T) {
	idx, err := NewHeaderIndex(testGenesis(), nil)
	require.NoError(t, err)
	genesis := idx.BestTip()

	// branch a: two blocks
	a1, err := idx.AddHeader(extend(genesis.Hash, 1))
	require.NoError(t, err)
	a2, err := idx.AddHeader(extend(a1.Hash, 2))
	require.NoError(t, err)

	// branch b: one block, less work, tip stays on a
	b1, err := idx.AddHeader(extend(genesis.Hash, 3))
	require.NoError(t, err)
	require.Equal(t, a2, idx.BestTip())

	// same-height competitor: equal work ties break to first seen
	b2, err := idx.AddHeader(extend(b1.Hash, 4))
	require.NoError(t, err)
	require.Equal(t, 0, b2.CumWork.Cmp(a2.CumWork))
	require.Equal(t, a2, idx.BestTip())

	// extending b past a moves the tip
	b3, err := idx.AddHeader(extend(b2.Hash, 5))
	require.NoError(t, err)
	require.Equal(t, b3, idx.BestTip())

	// fork point between the branches is the genesis
	require.Equal(t, genesis, idx.FindFork(a2, b3))
}

func TestLocatorShape(t *testing.T) {
	idx, err := NewHeaderIndex(testGenesis(), nil)
	require.NoError(t, err)

	last := idx.BestTip().Hash
	nodes := []chainhash.Hash{last}
	for i := uint32(1); i <= 64; i++ {
		node, err := idx.AddHeader(extend(last, i))
		require.NoError(t, err)
		last = node.Hash
		nodes = append(nodes, last)
	}

	locator := idx.LatestBlockLocator()
	require.NotEmpty(t, locator)

	// starts at the tip, ends at the genesis
	require.Equal(t, last, *locator[0])
	require.Equal(t, nodes[0], *locator[len(locator)-1])

	// far fewer entries than blocks
	require.Less(t, len(locator), 25)

	// a peer that knows the whole chain finds the tip immediately
	found := idx.FindLocatorAncestor(locator)
	require.NotNil(t, found)
	require.Equal(t, last, found.Hash)

	// a locator of garbage finds nothing
	var junk chainhash.Hash
	junk[0] = 0x77
	require.Nil(t, idx.FindLocatorAncestor(BlockLocator{&junk}))
}

func TestHeaderPersistence(t *testing.T) {
	dir := t.TempDir()
	lvdb, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)

	genesis := testGenesis()
	idx, err := NewHeaderIndex(genesis, lvdb)
	require.NoError(t, err)

	last := idx.BestTip().Hash
	for i := uint32(1); i <= 3; i++ {
		node, err := idx.AddHeader(extend(last, i))
		require.NoError(t, err)
		last = node.Hash
	}
	require.NoError(t, lvdb.Close())

	// reopen and make sure the index reconnects everything
	lvdb, err = leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	defer lvdb.Close()

	idx2, err := NewHeaderIndex(genesis, lvdb)
	require.NoError(t, err)
	require.Equal(t, int32(3), idx2.BestTip().Height)
	require.Equal(t, last, idx2.BestTip().Hash)
}

func TestAncestorWalk(t *testing.T) {
	idx, err := NewHeaderIndex(testGenesis(), nil)
	require.NoError(t, err)

	last := idx.BestTip().Hash
	for i := uint32(1); i <= 10; i++ {
		node, err := idx.AddHeader(extend(last, i))
		require.NoError(t, err)
		last = node.Hash
	}

	tip := idx.BestTip()
	require.Equal(t, int32(4), tip.Ancestor(4).Height)
	require.Equal(t, tip, tip.Ancestor(10))
	require.Nil(t, tip.Ancestor(11))
	require.Nil(t, tip.Ancestor(-1))
}
