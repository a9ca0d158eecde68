package merkle

import (
	"github.com/btpcsuite/btpcd/chainhash"
)

// Proof is a membership proof for one leaf.  Siblings are ordered from
// the leaf level up; Lefts[i] is true when Siblings[i] sits on the left
// of the running hash at that level.
type Proof struct {
	LeafHash chainhash.Hash
	Siblings []chainhash.Hash
	Lefts    []bool
}

// GenerateProof builds a membership proof for the leaf at the given
// index.  Where a level has an odd count and the leaf is the lone last
// node, the sibling is the node itself, matching the duplication rule
// used by Build.
func (t *Tree) GenerateProof(index int) (*Proof, error) {
	numLeaves := len(t.levels[0])
	if index < 0 || index >= numLeaves {
		return nil, errInvalidIndex(index, numLeaves)
	}

	p := &Proof{LeafHash: t.levels[0][index]}

	cur := index
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		if cur%2 == 0 {
			if cur+1 < len(level) {
				p.Siblings = append(p.Siblings, level[cur+1])
			} else {
				// lone node at the end, sibling is itself
				p.Siblings = append(p.Siblings, level[cur])
			}
			p.Lefts = append(p.Lefts, false)
		} else {
			p.Siblings = append(p.Siblings, level[cur-1])
			p.Lefts = append(p.Lefts, true)
		}
		cur /= 2
	}

	return p, nil
}

// VerifyProof checks a membership proof against an expected root.
func VerifyProof(p *Proof, root chainhash.Hash) bool {
	cur := p.LeafHash
	for i, sib := range p.Siblings {
		if p.Lefts[i] {
			cur = hashNodes(sib, cur)
		} else {
			cur = hashNodes(cur, sib)
		}
	}
	return cur == root
}

// VerifyLeaf checks that the leaf at index hashes up to the tree's own
// root.
func (t *Tree) VerifyLeaf(index int) bool {
	p, err := t.GenerateProof(index)
	if err != nil {
		return false
	}
	return VerifyProof(p, t.Root())
}
