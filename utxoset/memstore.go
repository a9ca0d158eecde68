package utxoset

import (
	"github.com/btpcsuite/btpcd/wire"
)

// MemStore is a simple in-memory UtxoStore, useful for tests and for
// running without a datadir.
type MemStore struct {
	records map[wire.OutPoint]*UtxoRecord
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[wire.OutPoint]*UtxoRecord)}
}

// Get fetches the record for an outpoint, nil if unknown.
func (m *MemStore) Get(op wire.OutPoint) (*UtxoRecord, error) {
	rec, ok := m.records[op]
	if !ok {
		return nil, nil
	}
	// hand out a copy so callers can't mutate the store behind its back
	cp := *rec
	return &cp, nil
}

// Put writes the record.
func (m *MemStore) Put(rec *UtxoRecord) error {
	cp := *rec
	m.records[rec.OutPoint] = &cp
	return nil
}

// ForEach calls fn for every record.
func (m *MemStore) ForEach(fn func(*UtxoRecord) error) error {
	for _, rec := range m.records {
		cp := *rec
		err := fn(&cp)
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every record.
func (m *MemStore) Clear() error {
	m.records = make(map[wire.OutPoint]*UtxoRecord)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
