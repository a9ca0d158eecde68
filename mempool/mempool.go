// Package mempool holds transactions waiting for a block, validating
// them on the way in and evicting them as blocks confirm or conflict.
package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btpcsuite/btpcd/blockcrypto"
	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/wire"
)

var (
	// ErrDuplicateTx means the pool already holds the transaction.
	ErrDuplicateTx = errors.New("transaction already in pool")

	// ErrNoOutputs rejects transactions that create nothing.
	ErrNoOutputs = errors.New("transaction has no outputs")

	// ErrDoubleSpend means an input is already spent by another pooled
	// transaction.
	ErrDoubleSpend = errors.New("input already spent in pool")

	// ErrCoinbase rejects coinbase transactions, which only exist
	// inside blocks.
	ErrCoinbase = errors.New("coinbase not allowed in pool")
)

// Config holds the policy knobs for the pool.
type Config struct {
	// Params supplies the transaction size limit.
	Params consensus.Params

	// VerifySignatures turns on per-input signature checks.
	VerifySignatures bool
}

// Mempool is a concurrency-safe pool of unconfirmed transactions.
type Mempool struct {
	mtx sync.RWMutex
	cfg Config

	pool map[chainhash.Hash]*wire.MsgTx

	// outpoints maps every input spent by a pooled transaction to the
	// transaction spending it, for conflict detection.
	outpoints map[wire.OutPoint]chainhash.Hash
}

// New returns an empty pool.
func New(cfg *Config) *Mempool {
	return &Mempool{
		cfg:       *cfg,
		pool:      make(map[chainhash.Hash]*wire.MsgTx),
		outpoints: make(map[wire.OutPoint]chainhash.Hash),
	}
}

// HaveTransaction reports whether the pool holds the transaction.
func (mp *Mempool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	_, ok := mp.pool[*hash]
	return ok
}

// FetchTransaction returns a pooled transaction, nil if absent.
func (mp *Mempool) FetchTransaction(hash *chainhash.Hash) *wire.MsgTx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.pool[*hash]
}

// Count returns the number of pooled transactions.
func (mp *Mempool) Count() int {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return len(mp.pool)
}

// TxHashes returns the hashes of every pooled transaction.
func (mp *Mempool) TxHashes() []chainhash.Hash {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	hashes := make([]chainhash.Hash, 0, len(mp.pool))
	for hash := range mp.pool {
		hashes = append(hashes, hash)
	}
	return hashes
}

// ProcessTransaction validates a transaction and admits it to the
// pool.
func (mp *Mempool) ProcessTransaction(tx *wire.MsgTx) error {
	if len(tx.TxOut) == 0 {
		return ErrNoOutputs
	}
	if len(tx.TxIn) == 0 ||
		(len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.Hash.IsZero()) {
		return ErrCoinbase
	}
	if err := validateSize(tx, mp.cfg.Params.MaxTxSize); err != nil {
		return err
	}
	if mp.cfg.VerifySignatures {
		if err := blockcrypto.VerifyTx(tx); err != nil {
			return err
		}
	}

	hash := tx.TxHash()

	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	if _, ok := mp.pool[hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, hash)
	}
	for _, in := range tx.TxIn {
		if spender, ok := mp.outpoints[in.PreviousOutPoint]; ok {
			return fmt.Errorf("%w: %s spent by %s",
				ErrDoubleSpend, in.PreviousOutPoint, spender)
		}
	}
	mp.pool[hash] = tx
	for _, in := range tx.TxIn {
		mp.outpoints[in.PreviousOutPoint] = hash
	}
	log.Debugf("accepted tx %s (%d in pool)", hash, len(mp.pool))
	return nil
}

// BlockConnected evicts transactions a new block confirmed, plus any
// pooled transaction a block input conflicted with.
func (mp *Mempool) BlockConnected(block *wire.MsgBlock) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	removed := 0
	for _, tx := range block.Transactions {
		hash := tx.TxHash()
		if _, ok := mp.pool[hash]; ok {
			mp.removeTx(hash)
			removed++
			continue
		}
		// a confirmed spend invalidates any pooled conflict
		for _, in := range tx.TxIn {
			if spender, ok := mp.outpoints[in.PreviousOutPoint]; ok {
				mp.removeTx(spender)
				removed++
			}
		}
	}
	if removed > 0 {
		log.Debugf("block evicted %d txs (%d left)", removed, len(mp.pool))
	}
}

// removeTx deletes a transaction and its outpoint claims.  Caller
// holds the lock.
func (mp *Mempool) removeTx(hash chainhash.Hash) {
	tx, ok := mp.pool[hash]
	if !ok {
		return
	}
	for _, in := range tx.TxIn {
		delete(mp.outpoints, in.PreviousOutPoint)
	}
	delete(mp.pool, hash)
}

func validateSize(tx *wire.MsgTx, max uint64) error {
	size := uint64(tx.SerializeSize())
	if size > max {
		return fmt.Errorf("transaction of %d bytes exceeds max of %d",
			size, max)
	}
	return nil
}
