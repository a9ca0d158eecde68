package utxoset

import (
	"sync"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

// CoinbaseMaturity is how many blocks deep a coinbase output has to be
// before it can be spent.
const CoinbaseMaturity = 100

// HeightSource answers the current chain height.  The consensus manager
// implements this; the ledger consults it for coinbase maturity.
type HeightSource interface {
	Height() int32
}

// SpentOutPoint names an outpoint a block consumes together with the
// transaction that spends it.
type SpentOutPoint struct {
	OutPoint wire.OutPoint
	SpentBy  chainhash.Hash
}

// NewOutput names an output a block creates.
type NewOutput struct {
	OutPoint wire.OutPoint
	Output   wire.TxOut
	Height   int32
	Coinbase bool
}

// UtxoSet is the ledger: it tracks every output ever created and
// enforces at-most-once spends.  Multiple concurrent readers are fine;
// all mutation takes the write lock, so ApplyBlock's validate-then-
// mutate sequence can't be interleaved by another writer.
type UtxoSet struct {
	mtx    sync.RWMutex
	store  UtxoStore
	height HeightSource
}

// New returns a UtxoSet over the given store.  heightSource may be nil,
// in which case coinbase maturity is not enforced (tests).
func New(store UtxoStore, heightSource HeightSource) *UtxoSet {
	return &UtxoSet{store: store, height: heightSource}
}

// AddOutput records a newly created output.  Inserting the same
// outpoint twice is a logic error and fails with ErrInvalidInput.
func (s *UtxoSet) AddOutput(op wire.OutPoint, out wire.TxOut,
	height int32, coinbase bool) error {

	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.addOutput(op, out, height, coinbase)
}

func (s *UtxoSet) addOutput(op wire.OutPoint, out wire.TxOut,
	height int32, coinbase bool) error {

	existing, err := s.store.Get(op)
	if err != nil {
		return err
	}
	if existing != nil {
		return errDuplicateOutPoint(op)
	}
	log.Tracef("add utxo %s value %d height %d cb %v",
		op, out.Value, height, coinbase)
	return s.store.Put(&UtxoRecord{
		OutPoint: op,
		Output:   out,
		Height:   height,
		Coinbase: coinbase,
	})
}

// SpendOutput consumes an output.  The first call for an outpoint
// succeeds and sets SpentBy; every later call fails with
// ErrAlreadySpent.  Coinbase outputs additionally have to be mature at
// the current chain height.
func (s *UtxoSet) SpendOutput(op wire.OutPoint, spendingTx chainhash.Hash) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	rec, err := s.checkSpendable(op)
	if err != nil {
		return err
	}
	return s.markSpent(rec, spendingTx)
}

// checkSpendable validates that an outpoint could be spent right now
// without mutating anything.  Callers hold the write lock.
func (s *UtxoSet) checkSpendable(op wire.OutPoint) (*UtxoRecord, error) {
	rec, err := s.store.Get(op)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotFound(op)
	}
	if rec.IsSpent() {
		return nil, errAlreadySpent(op)
	}
	if rec.Coinbase && s.height != nil {
		cur := s.height.Height()
		if cur < rec.Height+CoinbaseMaturity {
			return nil, errImmature(op, rec.Height, cur)
		}
	}
	return rec, nil
}

func (s *UtxoSet) markSpent(rec *UtxoRecord, spendingTx chainhash.Hash) error {
	spender := spendingTx
	rec.SpentBy = &spender
	log.Tracef("spend utxo %s by tx %x", rec.OutPoint, spender.Prefix())
	return s.store.Put(rec)
}

// GetOutput fetches the record for an outpoint, ErrNotFound if unknown.
func (s *UtxoSet) GetOutput(op wire.OutPoint) (*UtxoRecord, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	rec, err := s.store.Get(op)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotFound(op)
	}
	return rec, nil
}

// UnspentOutputs returns every record that hasn't been consumed yet.
func (s *UtxoSet) UnspentOutputs() ([]*UtxoRecord, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var recs []*UtxoRecord
	err := s.store.ForEach(func(rec *UtxoRecord) error {
		if !rec.IsSpent() {
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// GetStats sums over the full record set, spent records included in the
// totals.
func (s *UtxoSet) GetStats() (Stats, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var stats Stats
	err := s.store.ForEach(func(rec *UtxoRecord) error {
		stats.TotalOutputs++
		stats.TotalValue += rec.Output.Value
		if !rec.IsSpent() {
			stats.UnspentOutputs++
			stats.UnspentValue += rec.Output.Value
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// ApplyBlock atomically applies a block's spends and creations.  New
// outputs are staged in memory first so a spend may consume an output
// created earlier in the same block; every spend is then validated
// against the store plus the staged set.  Nothing is written until the
// whole block checks out, so a bad block leaves the ledger unchanged.
func (s *UtxoSet) ApplyBlock(spends []SpentOutPoint, creations []NewOutput) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	staged := make(map[wire.OutPoint]*UtxoRecord, len(creations)+len(spends))
	for _, c := range creations {
		if _, ok := staged[c.OutPoint]; ok {
			return errDuplicateOutPoint(c.OutPoint)
		}
		existing, err := s.store.Get(c.OutPoint)
		if err != nil {
			return err
		}
		if existing != nil {
			return errDuplicateOutPoint(c.OutPoint)
		}
		staged[c.OutPoint] = &UtxoRecord{
			OutPoint: c.OutPoint,
			Output:   c.Output,
			Height:   c.Height,
			Coinbase: c.Coinbase,
		}
	}

	for _, sp := range spends {
		if err := s.stageSpend(staged, sp); err != nil {
			log.Debugf("block application rejected: %v", err)
			return err
		}
	}

	for _, rec := range staged {
		if err := s.store.Put(rec); err != nil {
			return err
		}
	}
	log.Debugf("applied block: %d spends, %d creations",
		len(spends), len(creations))
	return nil
}

// stageSpend validates one spend against the store plus the records
// already staged for this block and marks it there.  Callers hold the
// write lock; the store is not touched.
func (s *UtxoSet) stageSpend(staged map[wire.OutPoint]*UtxoRecord,
	sp SpentOutPoint) error {

	rec := staged[sp.OutPoint]
	if rec == nil {
		var err error
		rec, err = s.store.Get(sp.OutPoint)
		if err != nil {
			return err
		}
		if rec == nil {
			return errNotFound(sp.OutPoint)
		}
		staged[sp.OutPoint] = rec
	}
	if rec.IsSpent() {
		return errAlreadySpent(sp.OutPoint)
	}
	if rec.Coinbase && s.height != nil {
		cur := s.height.Height()
		if cur < rec.Height+CoinbaseMaturity {
			return errImmature(sp.OutPoint, rec.Height, cur)
		}
	}
	spender := sp.SpentBy
	rec.SpentBy = &spender
	return nil
}

// ReplaceAll swaps the ledger's contents for the records in src.  The
// write lock is held across the clear and the copy, so readers never
// observe a partially copied ledger.
func (s *UtxoSet) ReplaceAll(src UtxoStore) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.store.Clear(); err != nil {
		return err
	}
	return src.ForEach(func(rec *UtxoRecord) error {
		return s.store.Put(rec)
	})
}

// Clear resets the ledger to empty.  Test/reset utility only.
func (s *UtxoSet) Clear() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.store.Clear()
}

// Close closes the underlying store.
func (s *UtxoSet) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.store.Close()
}
