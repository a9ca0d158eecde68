package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/merkle"
)

// maxTxPerBlock bounds the transaction count of a single block message.
const maxTxPerBlock = 20000

// MsgBlock implements the Message interface and represents a block: a
// header plus an ordered transaction list.
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

// AddTransaction appends a transaction to the block.
func (msg *MsgBlock) AddTransaction(tx *MsgTx) {
	msg.Transactions = append(msg.Transactions, tx)
}

// BlockHash computes the block identifier hash for this block.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// TxHashes returns the ordered transaction hashes for the block.
func (msg *MsgBlock) TxHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(msg.Transactions))
	for i, tx := range msg.Transactions {
		hashes[i] = tx.TxHash()
	}
	return hashes
}

// ComputeMerkleRoot rebuilds the commitment over the block's transaction
// hashes.  A block with no transactions commits to the all-zero hash;
// the merkle engine itself rejects empty input.
func (msg *MsgBlock) ComputeMerkleRoot() (chainhash.Hash, error) {
	if len(msg.Transactions) == 0 {
		return chainhash.ZeroHash, nil
	}
	tree, err := merkle.Build(msg.TxHashes())
	if err != nil {
		return chainhash.ZeroHash, err
	}
	return tree.Root(), nil
}

// CheckMerkleRoot recomputes the commitment and verifies the header
// matches.  Blocks violating this are rejected outright.
func (msg *MsgBlock) CheckMerkleRoot() error {
	root, err := msg.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	if root != msg.Header.MerkleRoot {
		return fmt.Errorf("block %s merkle root mismatch: header %x computed %x",
			msg.BlockHash(), msg.Header.MerkleRoot.Prefix(), root.Prefix())
	}
	return nil
}

// Serialize encodes the block to w.
func (msg *MsgBlock) Serialize(w io.Writer) error {
	err := msg.Header.Serialize(w)
	if err != nil {
		return err
	}
	err = writeCount(w, uint32(len(msg.Transactions)))
	if err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		err = tx.Serialize(w)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a block from r.
func (msg *MsgBlock) Deserialize(r io.Reader) error {
	err := msg.Header.Deserialize(r)
	if err != nil {
		return err
	}
	count, err := readCount(r, maxTxPerBlock, "block tx")
	if err != nil {
		return err
	}
	msg.Transactions = make([]*MsgTx, count)
	for i := range msg.Transactions {
		tx := new(MsgTx)
		err = tx.Deserialize(r)
		if err != nil {
			return err
		}
		msg.Transactions[i] = tx
	}
	return nil
}

// SerializeSize returns the number of bytes it takes to serialize the
// block.  Block size validation uses this.
func (msg *MsgBlock) SerializeSize() int {
	n := msg.Header.SerializeSize() + 4
	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

// Bytes serializes the block into a fresh byte slice.
func (msg *MsgBlock) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSize())
	err := msg.Serialize(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Command returns the protocol command string for the message.
func (msg *MsgBlock) Command() string {
	return CmdBlock
}

// NewMsgBlock returns a new block message using the provided header.
func NewMsgBlock(header *BlockHeader) *MsgBlock {
	return &MsgBlock{Header: *header}
}
