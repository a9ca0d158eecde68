package consensus

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/btpcsuite/btpcd/chainhash"
)

// maxTarget is the easiest possible target: 2^512 - 1, every hash
// meets it.
var maxTarget = new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1))

// HashToBig converts a chainhash.Hash into a big.Int for target
// comparison.  Hashes here are big-endian, no byte reversal needed.
func HashToBig(hash *chainhash.Hash) *big.Int {
	return new(big.Int).SetBytes(hash[:])
}

// DifficultyToTarget converts a difficulty into the threshold a PoW
// hash has to stay under.  Difficulty 1 is the easiest target.
func DifficultyToTarget(difficulty uint64) *big.Int {
	if difficulty == 0 {
		return new(big.Int).Set(maxTarget)
	}
	return new(big.Int).Div(maxTarget, new(big.Int).SetUint64(difficulty))
}

// TargetToDifficulty is the inverse of DifficultyToTarget.
func TargetToDifficulty(target *big.Int) uint64 {
	if target.Sign() <= 0 {
		return ^uint64(0)
	}
	d := new(big.Int).Div(maxTarget, target)
	if !d.IsUint64() {
		return ^uint64(0)
	}
	return d.Uint64()
}

// TargetToBits packs a target into the compact form carried in block
// headers.
func TargetToBits(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}

// BitsToTarget expands the compact form back into the full target.
func BitsToTarget(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// MeetsTarget reports whether a hash satisfies a target.
func MeetsTarget(hash *chainhash.Hash, target *big.Int) bool {
	return HashToBig(hash).Cmp(target) <= 0
}

// DifficultyManager owns the current difficulty and performs retargets.
// Not safe for concurrent use on its own; the Manager serializes access.
type DifficultyManager struct {
	params               Params
	currentDifficulty    uint64
	lastAdjustmentHeight int32
}

// NewDifficultyManager returns a manager starting at the given
// difficulty.
func NewDifficultyManager(params Params, initialDifficulty uint64) *DifficultyManager {
	return &DifficultyManager{
		params:            params,
		currentDifficulty: initialDifficulty,
	}
}

// Difficulty returns the current difficulty.
func (dm *DifficultyManager) Difficulty() uint64 {
	return dm.currentDifficulty
}

// Target returns the current target.
func (dm *DifficultyManager) Target() *big.Int {
	return DifficultyToTarget(dm.currentDifficulty)
}

// Adjust retargets based on the actual solve times of the last
// interval.  The scale factor expected/actual is clamped to
// [1/MaxAdjustmentFactor, MaxAdjustmentFactor], and the result is
// bounded by the params' min/max difficulty.  Called at retarget
// heights only.
func (dm *DifficultyManager) Adjust(height int32, blockTimes []uint64) (uint64, error) {
	interval := dm.params.AdjustmentInterval
	if height < dm.lastAdjustmentHeight+int32(interval) {
		return dm.currentDifficulty, nil
	}
	if uint64(len(blockTimes)) < interval {
		return 0, errDifficultyAdjust("insufficient block time data")
	}

	// only the most recent interval counts
	recent := blockTimes[uint64(len(blockTimes))-interval:]
	var actual uint64
	for _, t := range recent {
		actual += t
	}
	expected := dm.params.TargetBlockTime * interval

	factor := 1.0
	if actual != 0 {
		factor = float64(expected) / float64(actual)
	}
	if factor > dm.params.MaxAdjustmentFactor {
		factor = dm.params.MaxAdjustmentFactor
	}
	if factor < 1/dm.params.MaxAdjustmentFactor {
		factor = 1 / dm.params.MaxAdjustmentFactor
	}

	newDifficulty := uint64(float64(dm.currentDifficulty) * factor)
	if newDifficulty < dm.params.MinDifficulty {
		newDifficulty = dm.params.MinDifficulty
	}
	if newDifficulty > dm.params.MaxDifficulty {
		newDifficulty = dm.params.MaxDifficulty
	}

	log.Debugf("retarget at height %d: %d -> %d (factor %.4f, actual %ds expected %ds)",
		height, dm.currentDifficulty, newDifficulty, factor, actual, expected)

	dm.currentDifficulty = newDifficulty
	dm.lastAdjustmentHeight = height
	return newDifficulty, nil
}
