package utxoset

import (
	"bytes"
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

// outPointKeySize is hash + 4 byte index.
const outPointKeySize = chainhash.HashSize + 4

// LevelDbStore is a UtxoStore backed by goleveldb.  Records are keyed
// by outpoint bytes so lookups are O(1) and iteration walks the whole
// set.
type LevelDbStore struct {
	lvdb *leveldb.DB
}

// NewLevelDbStore opens (or creates) the utxo database at the given
// path.
func NewLevelDbStore(path string) (*LevelDbStore, error) {
	o := opt.Options{CompactionTableSizeMultiplier: 8}
	lvdb, err := leveldb.OpenFile(path, &o)
	if err != nil {
		return nil, err
	}
	return &LevelDbStore{lvdb: lvdb}, nil
}

func outPointKey(op wire.OutPoint) []byte {
	key := make([]byte, outPointKeySize)
	copy(key, op.Hash[:])
	binary.BigEndian.PutUint32(key[chainhash.HashSize:], op.Index)
	return key
}

// Get fetches the record for an outpoint, nil if unknown.
func (l *LevelDbStore) Get(op wire.OutPoint) (*UtxoRecord, error) {
	val, err := l.lvdb.Get(outPointKey(op), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := new(UtxoRecord)
	err = rec.Deserialize(bytes.NewReader(val))
	if err != nil {
		return nil, errSerialization(err)
	}
	return rec, nil
}

// Put writes the record.
func (l *LevelDbStore) Put(rec *UtxoRecord) error {
	var buf bytes.Buffer
	err := rec.Serialize(&buf)
	if err != nil {
		return errSerialization(err)
	}
	return l.lvdb.Put(outPointKey(rec.OutPoint), buf.Bytes(), nil)
}

// ForEach calls fn for every record in the database.
func (l *LevelDbStore) ForEach(fn func(*UtxoRecord) error) error {
	iter := l.lvdb.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		rec := new(UtxoRecord)
		err := rec.Deserialize(bytes.NewReader(iter.Value()))
		if err != nil {
			return errSerialization(err)
		}
		err = fn(rec)
		if err != nil {
			return err
		}
	}
	return iter.Error()
}

// Clear drops every record.  Done as one batch delete.
func (l *LevelDbStore) Clear() error {
	iter := l.lvdb.NewIterator(nil, nil)
	var batch leveldb.Batch
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return l.lvdb.Write(&batch, nil)
}

// Close closes the underlying database.
func (l *LevelDbStore) Close() error {
	return l.lvdb.Close()
}
