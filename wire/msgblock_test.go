package wire

import (
	"bytes"
	"testing"

	"github.com/btpcsuite/btpcd/chainhash"
)

func testTx(seed byte) *MsgTx {
	tx := NewMsgTx()
	prev := chainhash.HashH([]byte{seed})
	tx.AddTxIn(&TxIn{PreviousOutPoint: OutPoint{Hash: prev, Index: 0}})
	tx.AddTxOut(&TxOut{Value: uint64(seed) * 10, PkScript: []byte{0x51}})
	return tx
}

func TestBlockMerkleRoot(t *testing.T) {
	block := NewMsgBlock(&BlockHeader{Version: 1, Timestamp: 1700000000})
	block.AddTransaction(testTx(1))
	block.AddTransaction(testTx(2))
	block.AddTransaction(testTx(3))

	root, err := block.ComputeMerkleRoot()
	if err != nil {
		t.Fatal(err)
	}
	if root.IsZero() {
		t.Fatal("3-tx block got a zero merkle root")
	}

	// header without the root must fail the check
	if err := block.CheckMerkleRoot(); err == nil {
		t.Fatal("mismatched merkle root accepted")
	}

	block.Header.MerkleRoot = root
	if err := block.CheckMerkleRoot(); err != nil {
		t.Fatalf("valid merkle root rejected: %v", err)
	}
}

func TestEmptyBlockMerkleRoot(t *testing.T) {
	block := NewMsgBlock(&BlockHeader{Version: 1})

	root, err := block.ComputeMerkleRoot()
	if err != nil {
		t.Fatal(err)
	}
	// empty tx list commits to the zero hash, never calls the engine
	if !root.IsZero() {
		t.Fatalf("empty block root should be zero, got %x", root.Prefix())
	}
	if err := block.CheckMerkleRoot(); err != nil {
		t.Fatalf("empty block with zero root rejected: %v", err)
	}
}

func TestBlockRoundTrip(t *testing.T) {
	block := NewMsgBlock(&BlockHeader{
		Version:   1,
		Timestamp: 1700000000,
		Bits:      0x207fffff,
		Nonce:     99,
	})
	block.AddTransaction(testTx(7))
	root, _ := block.ComputeMerkleRoot()
	block.Header.MerkleRoot = root

	var buf bytes.Buffer
	err := block.Serialize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != block.SerializeSize() {
		t.Fatalf("SerializeSize %d but wrote %d bytes",
			block.SerializeSize(), buf.Len())
	}

	var got MsgBlock
	err = got.Deserialize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.BlockHash() != block.BlockHash() {
		t.Fatal("block hash changed across serialization")
	}
	if len(got.Transactions) != 1 {
		t.Fatalf("got %d txs, want 1", len(got.Transactions))
	}
	if got.Transactions[0].TxHash() != block.Transactions[0].TxHash() {
		t.Fatal("tx hash changed across serialization")
	}
}

func TestBlockHashDeterministic(t *testing.T) {
	hdr := BlockHeader{Version: 1, Timestamp: 1, Bits: 2, Nonce: 3}
	if hdr.BlockHash() != hdr.BlockHash() {
		t.Fatal("header hash not deterministic")
	}
	hdr2 := hdr
	hdr2.Nonce = 4
	if hdr.BlockHash() == hdr2.BlockHash() {
		t.Fatal("different nonce gave the same header hash")
	}
}
