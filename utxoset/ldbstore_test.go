package utxoset

import (
	"bytes"
	"testing"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

func TestRecordSerializeRoundTrip(t *testing.T) {
	spender := chainhash.HashH([]byte("spender"))
	recs := []UtxoRecord{
		{
			OutPoint: testOutPoint(1, 3),
			Output:   wire.TxOut{Value: 1000, PkScript: []byte{0x51, 0x52}},
			Height:   77,
			Coinbase: true,
		},
		{
			OutPoint: testOutPoint(2, 0),
			Output:   wire.TxOut{Value: 5},
			Height:   1,
			SpentBy:  &spender,
		},
	}

	for i, rec := range recs {
		var buf bytes.Buffer
		if err := rec.Serialize(&buf); err != nil {
			t.Fatalf("rec %d: %v", i, err)
		}
		var got UtxoRecord
		if err := got.Deserialize(&buf); err != nil {
			t.Fatalf("rec %d: %v", i, err)
		}
		if got.OutPoint != rec.OutPoint || got.Output.Value != rec.Output.Value ||
			got.Height != rec.Height || got.Coinbase != rec.Coinbase {
			t.Fatalf("rec %d mangled: %+v vs %+v", i, got, rec)
		}
		if !bytes.Equal(got.Output.PkScript, rec.Output.PkScript) {
			t.Fatalf("rec %d pkscript mangled", i)
		}
		if (got.SpentBy == nil) != (rec.SpentBy == nil) {
			t.Fatalf("rec %d spent flag mangled", i)
		}
		if got.SpentBy != nil && *got.SpentBy != *rec.SpentBy {
			t.Fatalf("rec %d spender mangled", i)
		}
	}
}

func TestLevelDbStore(t *testing.T) {
	store, err := NewLevelDbStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	op := testOutPoint(1, 0)
	rec := &UtxoRecord{
		OutPoint: op,
		Output:   wire.TxOut{Value: 99, PkScript: []byte{0x51}},
		Height:   10,
	}
	if err := store.Put(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(op)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Output.Value != 99 || got.Height != 10 {
		t.Fatalf("bad record back from db: %+v", got)
	}

	// unknown outpoint is nil, not an error
	got, err = store.Get(testOutPoint(9, 9))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown outpoint")
	}

	// spend survives the overwrite
	spender := chainhash.HashH([]byte("s"))
	rec.SpentBy = &spender
	if err := store.Put(rec); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(op)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsSpent() {
		t.Fatal("spend flag lost across Put/Get")
	}

	var count int
	err = store.ForEach(func(*UtxoRecord) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("ForEach saw %d records, want 1", count)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(op)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("record survived Clear")
	}
}

// The facade should behave identically over the leveldb store.
func TestUtxoSetOnLevelDb(t *testing.T) {
	store, err := NewLevelDbStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := New(store, nil)
	defer s.Close()

	op := testOutPoint(4, 1)
	if err := s.AddOutput(op, wire.TxOut{Value: 12}, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SpendOutput(op, chainhash.ZeroHash); err != nil {
		t.Fatal(err)
	}
	err = s.SpendOutput(op, chainhash.ZeroHash)
	if err == nil {
		t.Fatal("double spend accepted on leveldb store")
	}
}
