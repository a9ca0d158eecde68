package netsync

import (
	"errors"
	"fmt"

	"github.com/btpcsuite/btpcd/chainhash"
)

var (
	// ErrPeerTimeout means a peer failed to answer a request within
	// the configured window.
	ErrPeerTimeout = errors.New("peer request timed out")

	// ErrInvalidLocator means a peer sent a block locator this node
	// can make no sense of.
	ErrInvalidLocator = errors.New("invalid block locator")

	// ErrPeerBanned means a peer's ban score crossed the disconnect
	// threshold.
	ErrPeerBanned = errors.New("peer banned")

	// ErrManagerStopped means the sync manager is shut down and no
	// longer accepting peers or blocks.
	ErrManagerStopped = errors.New("sync manager stopped")

	// ErrMissingBlockBody means a chain reorganization needed a block
	// whose body was never downloaded.
	ErrMissingBlockBody = errors.New("block body not available")
)

func errPeerTimeout(peer string, hash chainhash.Hash) error {
	return fmt.Errorf("%w: peer %s, block %s", ErrPeerTimeout, peer, hash)
}

func errInvalidLocator(peer string, n int) error {
	return fmt.Errorf("%w: peer %s sent %d hashes", ErrInvalidLocator, peer, n)
}

func errPeerBanned(peer string, score uint32) error {
	return fmt.Errorf("%w: peer %s, score %d", ErrPeerBanned, peer, score)
}

func errMissingBlockBody(hash chainhash.Hash, height int32) error {
	return fmt.Errorf("%w: %s at height %d", ErrMissingBlockBody, hash, height)
}
