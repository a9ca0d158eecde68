package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/btpcsuite/btpcd/chainhash"
)

// maxTxInPerMessage and maxTxOutPerMessage bound tx vector counts to
// what could conceivably fit in a max-size transaction.
const (
	maxTxInPerMessage  = 10000
	maxTxOutPerMessage = 10000
)

// OutPoint uniquely identifies a spendable output: the hash of the
// transaction that created it plus the output's index within that
// transaction.  Immutable once created.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new OutPoint with the provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	buf := make([]byte, 2*chainhash.HashSize+1, 2*chainhash.HashSize+1+10)
	copy(buf, o.Hash.String())
	buf[2*chainhash.HashSize] = ':'
	buf = strconv.AppendUint(buf, uint64(o.Index), 10)
	return string(buf)
}

// TxIn defines a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint

	// Signature over the transaction, opaque to this layer.
	Signature []byte
}

// TxOut defines a transaction output.
type TxOut struct {
	// Value in base units.  Never negative.
	Value uint64

	// PkScript is the spending condition, opaque bytes.
	PkScript []byte
}

// MsgTx implements the Message interface and represents a transaction.
type MsgTx struct {
	TxIn  []*TxIn
	TxOut []*TxOut
}

// TxHash generates the hash for the transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSize())
	_ = msg.Serialize(&buf)
	return chainhash.HashH(buf.Bytes())
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// Serialize encodes the transaction to w.
func (msg *MsgTx) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, uint32(len(msg.TxIn)))
	if err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		err = writeHash(w, &ti.PreviousOutPoint.Hash)
		if err != nil {
			return err
		}
		err = binary.Write(w, binary.BigEndian, ti.PreviousOutPoint.Index)
		if err != nil {
			return err
		}
		err = writeVarBytes(w, ti.Signature)
		if err != nil {
			return err
		}
	}

	err = binary.Write(w, binary.BigEndian, uint32(len(msg.TxOut)))
	if err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		err = binary.Write(w, binary.BigEndian, to.Value)
		if err != nil {
			return err
		}
		err = writeVarBytes(w, to.PkScript)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a transaction from r.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	count, err := readCount(r, maxTxInPerMessage, "txin")
	if err != nil {
		return err
	}
	msg.TxIn = make([]*TxIn, count)
	for i := range msg.TxIn {
		ti := new(TxIn)
		err = readHash(r, &ti.PreviousOutPoint.Hash)
		if err != nil {
			return err
		}
		err = binary.Read(r, binary.BigEndian, &ti.PreviousOutPoint.Index)
		if err != nil {
			return err
		}
		ti.Signature, err = readVarBytes(r, MaxVarBytesLen, "signature")
		if err != nil {
			return err
		}
		msg.TxIn[i] = ti
	}

	count, err = readCount(r, maxTxOutPerMessage, "txout")
	if err != nil {
		return err
	}
	msg.TxOut = make([]*TxOut, count)
	for i := range msg.TxOut {
		to := new(TxOut)
		err = binary.Read(r, binary.BigEndian, &to.Value)
		if err != nil {
			return err
		}
		to.PkScript, err = readVarBytes(r, MaxVarBytesLen, "pkscript")
		if err != nil {
			return err
		}
		msg.TxOut[i] = to
	}
	return nil
}

// SerializeSize returns the number of bytes it takes to serialize the
// transaction.
func (msg *MsgTx) SerializeSize() int {
	n := 8 // txin count + txout count
	for _, ti := range msg.TxIn {
		n += chainhash.HashSize + 4 + 4 + len(ti.Signature)
	}
	for _, to := range msg.TxOut {
		n += 8 + 4 + len(to.PkScript)
	}
	return n
}

// Command returns the protocol command string for the message.
func (msg *MsgTx) Command() string {
	return CmdTx
}

// NewMsgTx returns a new tx message with empty input and output lists.
func NewMsgTx() *MsgTx {
	return &MsgTx{}
}
