package merkle

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/btpcsuite/btpcd/chainhash"
)

var (
	// ErrEmptyTree is returned when Build is called with no leaves.
	// Callers must special-case the empty transaction list and use the
	// all-zero hash as the root instead of calling Build.
	ErrEmptyTree = errors.New("cannot build merkle tree from empty data")

	// ErrInvalidIndex is returned when a proof is requested for a leaf
	// index the tree doesn't have.
	ErrInvalidIndex = errors.New("invalid leaf index for proof generation")
)

func errInvalidIndex(index, leaves int) error {
	return fmt.Errorf("%w: index %d, tree has %d leaves", ErrInvalidIndex, index, leaves)
}

// leafTag and nodeTag domain-separate leaf hashes from interior node
// hashes so a 128-byte leaf can't be reinterpreted as a node pair.
var (
	leafTag = []byte("leaf:")
	nodeTag = []byte("node:")
)

// Tree is a merkle tree over an ordered list of transaction hashes.
// It keeps every reduction level so membership proofs can be generated
// after the fact.  Building a tree has no side effects; the same leaves
// always produce the same root, and the root is order-sensitive.
type Tree struct {
	levels [][]chainhash.Hash
}

// HashLeaf hashes raw leaf data into a leaf hash.
func HashLeaf(data []byte) chainhash.Hash {
	h := sha512.New()
	h.Write(leafTag)
	h.Write(data)
	var out chainhash.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashNodes computes the parent of two child hashes.
func hashNodes(left, right chainhash.Hash) chainhash.Hash {
	h := sha512.New()
	h.Write(nodeTag)
	h.Write(left[:])
	h.Write(right[:])
	var out chainhash.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Build constructs a merkle tree from the given leaf hashes.  Each level
// is reduced to half its size by hashing adjacent pairs.  A lone hash at
// the end of an odd level is hashed with itself (duplicated, bitcoin
// style) rather than promoted unchanged.
func Build(leaves []chainhash.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	t := new(Tree)

	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashNodes(level[i], level[i+1]))
			} else {
				// odd count: duplicate the last node
				next = append(next, hashNodes(level[i], level[i]))
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}

	return t, nil
}

// Root returns the single remaining hash after full reduction.
func (t *Tree) Root() chainhash.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// NumLeaves returns how many leaves the tree was built over.
func (t *Tree) NumLeaves() int {
	return len(t.levels[0])
}
