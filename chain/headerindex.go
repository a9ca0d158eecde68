package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/wire"
)

var (
	// ErrOrphanHeader means a header's parent isn't in the index.
	ErrOrphanHeader = errors.New("header's parent is unknown")

	// ErrDuplicateHeader means the header is already indexed.
	ErrDuplicateHeader = errors.New("header already known")
)

// oneLsh512 is 1 << 512, used to convert targets to expected work.
var oneLsh512 = new(big.Int).Lsh(big.NewInt(1), 512)

// CalcWork computes the expected number of hashes to find a block at
// the given compact difficulty bits: 2^512 / (target + 1).
func CalcWork(bits uint32) *big.Int {
	target := consensus.BitsToTarget(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh512, denom)
}

// HeaderNode is one indexed header together with the chain state
// derived from it.
type HeaderNode struct {
	Header wire.BlockHeader
	Hash   chainhash.Hash
	Height int32

	// CumWork is the total work of the chain ending in this header.
	CumWork *big.Int

	// FirstSeen is when this node learned of the header; it breaks
	// cumulative-work ties in favor of the earlier block.
	FirstSeen time.Time

	parent *HeaderNode
}

// Parent returns the node's parent, nil for the genesis node.
func (n *HeaderNode) Parent() *HeaderNode {
	return n.parent
}

// Ancestor walks back to the ancestor at the given height.  Returns nil
// if height is out of range.
func (n *HeaderNode) Ancestor(height int32) *HeaderNode {
	if height < 0 || height > n.Height {
		return nil
	}
	walk := n
	for walk != nil && walk.Height != height {
		walk = walk.parent
	}
	return walk
}

// HeaderIndex tracks every header this node has seen, which chain tip
// carries the most cumulative work, and optionally persists headers to
// leveldb keyed by their hash.
type HeaderIndex struct {
	mtx sync.RWMutex

	nodes map[chainhash.Hash]*HeaderNode
	tip   *HeaderNode

	// lvdb may be nil for a purely in-memory index.
	lvdb *leveldb.DB
}

// NewHeaderIndex builds an index seeded with the given genesis header.
// Pass a nil db to skip persistence.
func NewHeaderIndex(genesis *wire.BlockHeader, lvdb *leveldb.DB) (*HeaderIndex, error) {
	idx := &HeaderIndex{
		nodes: make(map[chainhash.Hash]*HeaderNode),
		lvdb:  lvdb,
	}

	genesisNode := &HeaderNode{
		Header:    *genesis,
		Hash:      genesis.BlockHash(),
		Height:    0,
		CumWork:   CalcWork(genesis.Bits),
		FirstSeen: time.Now(),
	}
	idx.nodes[genesisNode.Hash] = genesisNode
	idx.tip = genesisNode

	if lvdb != nil {
		err := idx.loadHeaders()
		if err != nil {
			return nil, err
		}
		err = idx.putHeader(genesisNode)
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// AddHeader connects a new header to the index.  The parent must
// already be known.  Returns the new node, which becomes the best tip
// if it carries more cumulative work than the current one.
func (idx *HeaderIndex) AddHeader(header *wire.BlockHeader) (*HeaderNode, error) {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()
	return idx.addHeader(header, time.Now(), true)
}

func (idx *HeaderIndex) addHeader(header *wire.BlockHeader,
	firstSeen time.Time, persist bool) (*HeaderNode, error) {

	hash := header.BlockHash()
	if _, ok := idx.nodes[hash]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateHeader, hash)
	}
	parent, ok := idx.nodes[header.PrevBlock]
	if !ok {
		return nil, fmt.Errorf("%w: block %s wants parent %s",
			ErrOrphanHeader, hash, header.PrevBlock)
	}

	node := &HeaderNode{
		Header:    *header,
		Hash:      hash,
		Height:    parent.Height + 1,
		CumWork:   new(big.Int).Add(parent.CumWork, CalcWork(header.Bits)),
		FirstSeen: firstSeen,
		parent:    parent,
	}
	idx.nodes[hash] = node

	// more work wins; on a tie the first-seen block keeps the tip
	if node.CumWork.Cmp(idx.tip.CumWork) > 0 {
		log.Debugf("new best tip %s height %d work %s",
			hash, node.Height, node.CumWork)
		idx.tip = node
	}

	if persist && idx.lvdb != nil {
		err := idx.putHeader(node)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// HaveBlock reports whether the hash is already indexed.
func (idx *HeaderIndex) HaveBlock(hash *chainhash.Hash) bool {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	_, ok := idx.nodes[*hash]
	return ok
}

// LookupNode fetches the node for a block hash, nil if unknown.
func (idx *HeaderIndex) LookupNode(hash *chainhash.Hash) *HeaderNode {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	return idx.nodes[*hash]
}

// BestTip returns the tip of the most-work chain.
func (idx *HeaderIndex) BestTip() *HeaderNode {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	return idx.tip
}

// FindFork returns the most recent common ancestor of two nodes, nil if
// they share none (different genesis).
func (idx *HeaderIndex) FindFork(a, b *HeaderNode) *HeaderNode {
	if a == nil || b == nil {
		return nil
	}
	for a.Height > b.Height {
		a = a.parent
	}
	for b.Height > a.Height {
		b = b.parent
	}
	for a != nil && b != nil && a != b {
		a = a.parent
		b = b.parent
	}
	return a
}

// headerDbKey prefixes header rows so they can share a db with other
// state.
func headerDbKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = 'h'
	copy(key[1:], hash[:])
	return key
}

func (idx *HeaderIndex) putHeader(node *HeaderNode) error {
	var buf bytes.Buffer
	err := node.Header.Serialize(&buf)
	if err != nil {
		return err
	}
	err = binary.Write(&buf, binary.BigEndian, node.Height)
	if err != nil {
		return err
	}
	err = binary.Write(&buf, binary.BigEndian, node.FirstSeen.Unix())
	if err != nil {
		return err
	}
	return idx.lvdb.Put(headerDbKey(&node.Hash), buf.Bytes(), nil)
}

// loadHeaders reconnects persisted headers on startup.  Headers are
// connected lowest height first so parents always land before children.
func (idx *HeaderIndex) loadHeaders() error {
	type stored struct {
		header    wire.BlockHeader
		height    int32
		firstSeen int64
	}
	var rows []stored

	iter := idx.lvdb.NewIterator(nil, nil)
	for iter.Next() {
		if len(iter.Key()) == 0 || iter.Key()[0] != 'h' {
			continue
		}
		var row stored
		r := bytes.NewReader(iter.Value())
		err := row.header.Deserialize(r)
		if err != nil {
			iter.Release()
			return err
		}
		err = binary.Read(r, binary.BigEndian, &row.height)
		if err != nil {
			iter.Release()
			return err
		}
		err = binary.Read(r, binary.BigEndian, &row.firstSeen)
		if err != nil {
			iter.Release()
			return err
		}
		rows = append(rows, row)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	// connect in height order; skip rows already present (genesis) and
	// orphans from a partially written db
	for connected := true; connected; {
		connected = false
		for _, row := range rows {
			hash := row.header.BlockHash()
			if _, ok := idx.nodes[hash]; ok {
				continue
			}
			if _, ok := idx.nodes[row.header.PrevBlock]; !ok {
				continue
			}
			_, err := idx.addHeader(&row.header, time.Unix(row.firstSeen, 0), false)
			if err != nil {
				return err
			}
			connected = true
		}
	}
	log.Infof("header index loaded, tip height %d", idx.tip.Height)
	return nil
}
