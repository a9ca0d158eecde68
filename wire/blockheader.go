package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/btpcsuite/btpcd/chainhash"
)

// blockHeaderLen is the number of bytes a serialized header takes up.
// 4 version + 64 prev + 64 merkle + 4 time + 4 bits + 4 nonce.
const blockHeaderLen = 144

// BlockHeader defines information about a block.
type BlockHeader struct {
	// Version of the block.
	Version uint32

	// Hash of the previous block header in the chain.
	PrevBlock chainhash.Hash

	// Merkle root over the block's transaction hashes.  The all-zero
	// hash for a block with no transactions.
	MerkleRoot chainhash.Hash

	// Time the block was created, unix seconds.
	Timestamp uint32

	// Difficulty target for the block, compact form.
	Bits uint32

	// Nonce used to generate the block's proof of work.
	Nonce uint32
}

// BlockHash computes the block identifier hash for this header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(blockHeaderLen)
	_ = h.Serialize(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize encodes the header to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, h.Version)
	if err != nil {
		return err
	}
	err = writeHash(w, &h.PrevBlock)
	if err != nil {
		return err
	}
	err = writeHash(w, &h.MerkleRoot)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, h.Timestamp)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, h.Bits)
	if err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, h.Nonce)
}

// Deserialize decodes a header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &h.Version)
	if err != nil {
		return err
	}
	err = readHash(r, &h.PrevBlock)
	if err != nil {
		return err
	}
	err = readHash(r, &h.MerkleRoot)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &h.Timestamp)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &h.Bits)
	if err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &h.Nonce)
}

// SerializeSize returns the number of bytes it takes to serialize the
// header.
func (h *BlockHeader) SerializeSize() int {
	return blockHeaderLen
}

// NewBlockHeader returns a new BlockHeader with the timestamp set to now.
func NewBlockHeader(prev, merkleRoot *chainhash.Hash,
	bits, nonce uint32) *BlockHeader {

	return &BlockHeader{
		Version:    ProtocolVersion,
		PrevBlock:  *prev,
		MerkleRoot: *merkleRoot,
		Timestamp:  uint32(time.Now().Unix()),
		Bits:       bits,
		Nonce:      nonce,
	}
}
