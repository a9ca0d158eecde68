package utxoset

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

// maxPkScriptLen bounds the spending condition bytes when reading
// records back from storage.
const maxPkScriptLen = 10000

// UtxoRecord is one entry in the ledger.  A record is created when a
// transaction output is accepted, mutated exactly once when spent
// (SpentBy set), and never physically deleted outside of Clear.
type UtxoRecord struct {
	OutPoint wire.OutPoint
	Output   wire.TxOut
	Height   int32
	Coinbase bool

	// SpentBy is the hash of the spending transaction, nil while the
	// output is unspent.
	SpentBy *chainhash.Hash
}

// IsSpent returns whether the record has been consumed.
func (u *UtxoRecord) IsSpent() bool {
	return u.SpentBy != nil
}

// Serialize puts a UtxoRecord onto a writer.
func (u *UtxoRecord) Serialize(w io.Writer) (err error) {
	// height gets shifted left 1 with the coinbase bit packed into the
	// low bit, same trick the leveldb undo data uses
	hcb := u.Height << 1
	if u.Coinbase {
		hcb |= 1
	}

	_, err = w.Write(u.OutPoint.Hash[:])
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, u.OutPoint.Index)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, u.Output.Value)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, uint32(hcb))
	if err != nil {
		return err
	}

	if len(u.Output.PkScript) > maxPkScriptLen {
		return fmt.Errorf("pkscript %d bytes too long", len(u.Output.PkScript))
	}
	err = binary.Write(w, binary.BigEndian, uint16(len(u.Output.PkScript)))
	if err != nil {
		return err
	}
	_, err = w.Write(u.Output.PkScript)
	if err != nil {
		return err
	}

	spent := uint8(0)
	if u.SpentBy != nil {
		spent = 1
	}
	err = binary.Write(w, binary.BigEndian, spent)
	if err != nil {
		return err
	}
	if u.SpentBy != nil {
		_, err = w.Write(u.SpentBy[:])
	}
	return err
}

// Deserialize fills in a UtxoRecord from a reader.
func (u *UtxoRecord) Deserialize(r io.Reader) (err error) {
	_, err = io.ReadFull(r, u.OutPoint.Hash[:])
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &u.OutPoint.Index)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &u.Output.Value)
	if err != nil {
		return err
	}
	var hcb uint32
	err = binary.Read(r, binary.BigEndian, &hcb)
	if err != nil {
		return err
	}
	u.Height = int32(hcb >> 1)
	u.Coinbase = hcb&1 == 1

	var pkLen uint16
	err = binary.Read(r, binary.BigEndian, &pkLen)
	if err != nil {
		return err
	}
	if pkLen > maxPkScriptLen {
		return fmt.Errorf("pkscript %d bytes too long", pkLen)
	}
	u.Output.PkScript = make([]byte, pkLen)
	_, err = io.ReadFull(r, u.Output.PkScript)
	if err != nil {
		return err
	}

	var spent uint8
	err = binary.Read(r, binary.BigEndian, &spent)
	if err != nil {
		return err
	}
	if spent == 1 {
		u.SpentBy = new(chainhash.Hash)
		_, err = io.ReadFull(r, u.SpentBy[:])
	} else {
		u.SpentBy = nil
	}
	return err
}

// Stats is the summary the ledger computes over its full record set.
type Stats struct {
	TotalOutputs   uint64
	TotalValue     uint64
	UnspentOutputs uint64
	UnspentValue   uint64
}

// UtxoStore is the storage capability the ledger sits on: get/put/
// iterate over records keyed by outpoint.  Implementations don't do any
// spend accounting themselves; the UtxoSet facade owns the semantics.
type UtxoStore interface {
	// Get fetches the record for an outpoint.  Returns nil (and no
	// error) when the outpoint is unknown.
	Get(op wire.OutPoint) (*UtxoRecord, error)

	// Put writes the record, overwriting any previous one for the same
	// outpoint.
	Put(rec *UtxoRecord) error

	// ForEach calls fn for every record.  Iteration stops on the first
	// error, which is returned.
	ForEach(fn func(*UtxoRecord) error) error

	// Clear drops every record.  Test/reset utility only.
	Clear() error

	// Close releases any resources held by the store.
	Close() error
}
