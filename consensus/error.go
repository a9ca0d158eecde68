package consensus

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProofOfWork   = errors.New("invalid proof of work")
	ErrBlockTooLarge        = errors.New("block exceeds maximum size")
	ErrTxTooLarge           = errors.New("transaction exceeds maximum size")
	ErrNonConsecutiveHeight = errors.New("block height must be consecutive")
	ErrTimestampTooFar      = errors.New("block timestamp too far in the future")
	ErrDifficultyAdjust     = errors.New("difficulty adjustment failure")
)

func errBlockTooLarge(size, max uint64) error {
	return fmt.Errorf("%w: %d > %d bytes", ErrBlockTooLarge, size, max)
}

func errTxTooLarge(size, max uint64) error {
	return fmt.Errorf("%w: %d > %d bytes", ErrTxTooLarge, size, max)
}

func errNonConsecutiveHeight(got, want int32) error {
	return fmt.Errorf("%w: got height %d, want %d", ErrNonConsecutiveHeight, got, want)
}

func errTimestampTooFar(ts, limit uint64) error {
	return fmt.Errorf("%w: timestamp %d, limit %d", ErrTimestampTooFar, ts, limit)
}

func errDifficultyAdjust(reason string) error {
	return fmt.Errorf("%w: %s", ErrDifficultyAdjust, reason)
}
