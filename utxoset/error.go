package utxoset

import (
	"errors"
	"fmt"

	"github.com/btpcsuite/btpcd/wire"
)

var (
	ErrNotFound      = errors.New("utxo not found")
	ErrAlreadySpent  = errors.New("utxo already spent")
	ErrInvalidInput  = errors.New("invalid input")
	ErrSerialization = errors.New("utxo serialization error")
	ErrImmature      = errors.New("coinbase output not yet mature")
)

func errNotFound(op wire.OutPoint) error {
	return fmt.Errorf("%w: %s", ErrNotFound, op)
}

func errAlreadySpent(op wire.OutPoint) error {
	return fmt.Errorf("%w: %s", ErrAlreadySpent, op)
}

func errDuplicateOutPoint(op wire.OutPoint) error {
	return fmt.Errorf("%w: duplicate outpoint %s", ErrInvalidInput, op)
}

func errImmature(op wire.OutPoint, created, current int32) error {
	return fmt.Errorf("%w: %s created at height %d, current height %d",
		ErrImmature, op, created, current)
}

func errSerialization(s error) error {
	return fmt.Errorf("%w: %s", ErrSerialization, s)
}
