package chain

import (
	"github.com/btpcsuite/btpcd/chainhash"
)

// BlockLocator describes a chain view for synchronization: the tip
// hash, then hashes with exponentially increasing gaps back toward the
// genesis, then the genesis itself.  A remote peer scans it front to
// back; the first hash it recognizes is near the most recent common
// ancestor, so finding the fork point takes O(log n) entries.
type BlockLocator []*chainhash.Hash

// LatestBlockLocator builds a locator for the current best tip.
func (idx *HeaderIndex) LatestBlockLocator() BlockLocator {
	return idx.BlockLocatorFromNode(idx.BestTip())
}

// BlockLocatorFromNode builds a locator describing the chain ending at
// the given node: offsets 0,1,2,4,8,... back from it, always ending at
// the genesis.
func (idx *HeaderIndex) BlockLocatorFromNode(node *HeaderNode) BlockLocator {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	if node == nil {
		return nil
	}

	var locator BlockLocator
	step := int32(1)
	for node != nil {
		hash := node.Hash
		locator = append(locator, &hash)
		if node.Height == 0 {
			break
		}

		// after the first 10 entries the gap doubles each time
		next := node.Height - step
		if next < 0 {
			next = 0
		}
		node = node.Ancestor(next)
		if len(locator) > 10 {
			step *= 2
		}
	}
	return locator
}

// FindLocatorAncestor scans a peer-supplied locator and returns the
// first hash this index knows, which is the best common ancestor
// candidate.  Returns nil when nothing matches (the caller falls back
// to the genesis).
func (idx *HeaderIndex) FindLocatorAncestor(locator BlockLocator) *HeaderNode {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	for _, hash := range locator {
		if node, ok := idx.nodes[*hash]; ok {
			return node
		}
	}
	return nil
}
