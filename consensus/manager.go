package consensus

import (
	"math/big"
	"sync"
)

// Manager coordinates height, difficulty, and validation rules.  It is
// the sole writer of height/difficulty state: ProcessBlock is serialized
// by an internal mutex since height must advance by exactly one.  There
// is no rollback path here; adopting a deeper competing chain means the
// caller re-derives state from a checkpoint.
type Manager struct {
	mtx sync.Mutex

	params        Params
	difficulty    *DifficultyManager
	currentHeight int32

	// blockTimes holds per-block solve times since the last retarget;
	// only the most recent interval is retained afterward.
	blockTimes []uint64
}

// NewManager returns a consensus manager starting at height 0 with the
// given initial difficulty.
func NewManager(params Params, initialDifficulty uint64) *Manager {
	return &Manager{
		params:     params,
		difficulty: NewDifficultyManager(params, initialDifficulty),
	}
}

// Params returns the consensus parameters.
func (m *Manager) Params() Params {
	return m.params
}

// Height returns the current chain height.  Implements the ledger's
// HeightSource.
func (m *Manager) Height() int32 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.currentHeight
}

// CurrentDifficulty returns the difficulty blocks must currently meet.
func (m *Manager) CurrentDifficulty() uint64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.difficulty.Difficulty()
}

// CurrentTarget returns the target blocks must currently hash under.
func (m *Manager) CurrentTarget() *big.Int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.difficulty.Target()
}

// ProcessBlock advances the chain by one block.  Strictly monotonic: a
// height other than current+1 fails with ErrNonConsecutiveHeight and
// leaves height and difficulty untouched.  Returns the difficulty in
// force after the block (a new one at retarget boundaries).
func (m *Manager) ProcessBlock(blockTime uint64, blockHeight int32) (uint64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if blockHeight != m.currentHeight+1 {
		return 0, errNonConsecutiveHeight(blockHeight, m.currentHeight+1)
	}

	m.blockTimes = append(m.blockTimes, blockTime)
	m.currentHeight = blockHeight

	interval := m.params.AdjustmentInterval
	if uint64(m.currentHeight)%interval != 0 {
		return m.difficulty.Difficulty(), nil
	}

	newDifficulty, err := m.difficulty.Adjust(m.currentHeight, m.blockTimes)
	if err != nil {
		// the retarget failing doesn't undo the height advance; the
		// block itself was fine
		log.Warnf("retarget at height %d failed: %v", m.currentHeight, err)
		return m.difficulty.Difficulty(), err
	}

	// keep only the most recent interval of solve times
	if uint64(len(m.blockTimes)) > interval {
		m.blockTimes = append(
			m.blockTimes[:0:0],
			m.blockTimes[uint64(len(m.blockTimes))-interval:]...)
	}
	return newDifficulty, nil
}

// ValidatePoW checks a solution against a target: the hash must
// recompute from the header bytes, meet the target, and carry a
// timestamp no further ahead than the configured bound.
func (m *Manager) ValidatePoW(sol *Solution, headerBytes []byte, target *big.Int) error {
	if !sol.Valid(headerBytes, target) {
		return ErrInvalidProofOfWork
	}
	return sol.CheckTimestamp(m.params.MaxFutureBlockTime)
}

// ValidateBlockSize rejects blocks over the configured maximum.
func (m *Manager) ValidateBlockSize(size uint64) error {
	if size > m.params.MaxBlockSize {
		return errBlockTooLarge(size, m.params.MaxBlockSize)
	}
	return nil
}

// ValidateTxSize rejects transactions over the configured maximum.
func (m *Manager) ValidateTxSize(size uint64) error {
	if size > m.params.MaxTxSize {
		return errTxTooLarge(size, m.params.MaxTxSize)
	}
	return nil
}

// IsMature reports whether a coinbase created at txHeight can be spent
// at the current height.
func (m *Manager) IsMature(txHeight int32) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.currentHeight >= txHeight+m.params.CoinbaseMaturity
}
