package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
)

// InvType represents the allowed types of inventory vectors.
type InvType uint32

const (
	InvTypeError InvType = 0
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

// String returns the InvType in human-readable form.
func (invtype InvType) String() string {
	switch invtype {
	case InvTypeError:
		return "ERROR"
	case InvTypeTx:
		return "MSG_TX"
	case InvTypeBlock:
		return "MSG_BLOCK"
	}
	return fmt.Sprintf("Unknown InvType (%d)", uint32(invtype))
}

// InvVect defines an inventory vector which is used to describe data, as
// specified by the Type field, that a peer wants, has, or does not have
// to another peer.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

// NewInvVect returns a new InvVect using the provided type and hash.
func NewInvVect(typ InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{Type: typ, Hash: *hash}
}

func readInvVect(r io.Reader, iv *InvVect) error {
	err := binary.Read(r, binary.BigEndian, (*uint32)(&iv.Type))
	if err != nil {
		return err
	}
	return readHash(r, &iv.Hash)
}

func writeInvVect(w io.Writer, iv *InvVect) error {
	err := binary.Write(w, binary.BigEndian, uint32(iv.Type))
	if err != nil {
		return err
	}
	return writeHash(w, &iv.Hash)
}
