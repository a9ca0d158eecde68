package consensus

import "math"

// Params holds the consensus knobs for a network.
type Params struct {
	// TargetBlockTime is the desired seconds between blocks.
	TargetBlockTime uint64

	// AdjustmentInterval is how many blocks between difficulty
	// retargets.
	AdjustmentInterval uint64

	// MinDifficulty and MaxDifficulty bound the difficulty itself.
	MinDifficulty uint64
	MaxDifficulty uint64

	// MaxAdjustmentFactor clamps a single retarget to the range
	// [1/MaxAdjustmentFactor, MaxAdjustmentFactor] to prevent runaway
	// oscillation.
	MaxAdjustmentFactor float64

	// MaxBlockSize and MaxTxSize are serialized-size maxima in bytes.
	MaxBlockSize uint64
	MaxTxSize    uint64

	// CoinbaseMaturity is how many confirmations a block reward output
	// needs before it may be spent.
	CoinbaseMaturity int32

	// MaxFutureBlockTime is how many seconds ahead of local time a
	// block timestamp may be.
	MaxFutureBlockTime uint64
}

// MainNetParams are the production network parameters: 10 minute
// blocks, bitcoin-style two week retarget window.
var MainNetParams = Params{
	TargetBlockTime:     600,
	AdjustmentInterval:  2016,
	MinDifficulty:       1,
	MaxDifficulty:       math.MaxUint64,
	MaxAdjustmentFactor: 4.0,
	MaxBlockSize:        1_000_000,
	MaxTxSize:           100_000,
	CoinbaseMaturity:    100,
	MaxFutureBlockTime:  7200,
}

// RegTestParams retarget every 8 blocks so tests can hit the boundary
// quickly.
var RegTestParams = Params{
	TargetBlockTime:     600,
	AdjustmentInterval:  8,
	MinDifficulty:       1,
	MaxDifficulty:       math.MaxUint64,
	MaxAdjustmentFactor: 4.0,
	MaxBlockSize:        1_000_000,
	MaxTxSize:           100_000,
	CoinbaseMaturity:    100,
	MaxFutureBlockTime:  7200,
}
