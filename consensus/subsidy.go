package consensus

// Economic model constants: 10 minute blocks, linear decay from the
// initial reward to the tail emission over 24 years.
const (
	// BlocksPerYear at 10 minute blocks (6 * 24 * 365).
	BlocksPerYear = 52_560

	// Coin is the number of base units in one coin.
	Coin = 100_000_000

	// initialReward is the block subsidy at height 0, in base units
	// (32.375 coins).
	initialReward = 3_237_500_000

	// finalReward is the tail emission, in base units (0.5 coins).
	finalReward = 50_000_000

	// decayPeriodBlocks is how long the linear decay runs.
	decayPeriodBlocks = BlocksPerYear * 24
)

// CalcBlockSubsidy returns the mining reward for a block at the given
// height.  The subsidy decays linearly from the initial reward down to
// the tail emission over the decay period, then stays at the tail
// forever.
func CalcBlockSubsidy(height int32) uint64 {
	if height < 0 {
		return 0
	}
	h := uint64(height)
	if h >= decayPeriodBlocks {
		return finalReward
	}
	decayed := (initialReward - finalReward) * h / decayPeriodBlocks
	return initialReward - decayed
}
