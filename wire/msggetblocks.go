package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
)

// MaxBlockLocatorsPerMsg is the maximum number of block locator hashes
// allowed per message.
const MaxBlockLocatorsPerMsg = 500

// MsgGetBlocks implements the Message interface and requests a list of
// blocks starting after the last known hash in the locator.  HashStop
// bounds how far the peer should respond; the zero hash means "as many
// as the protocol limit allows".
type MsgGetBlocks struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*chainhash.Hash
	HashStop           chainhash.Hash
}

// AddBlockLocatorHash adds a new block locator hash to the message.
func (msg *MsgGetBlocks) AddBlockLocatorHash(hash *chainhash.Hash) error {
	if len(msg.BlockLocatorHashes)+1 > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes (max %d)",
			MaxBlockLocatorsPerMsg)
	}
	msg.BlockLocatorHashes = append(msg.BlockLocatorHashes, hash)
	return nil
}

// Serialize encodes the message to w.
func (msg *MsgGetBlocks) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, msg.ProtocolVersion)
	if err != nil {
		return err
	}
	err = writeCount(w, uint32(len(msg.BlockLocatorHashes)))
	if err != nil {
		return err
	}
	for _, hash := range msg.BlockLocatorHashes {
		err = writeHash(w, hash)
		if err != nil {
			return err
		}
	}
	return writeHash(w, &msg.HashStop)
}

// Deserialize decodes a message from r.
func (msg *MsgGetBlocks) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &msg.ProtocolVersion)
	if err != nil {
		return err
	}
	count, err := readCount(r, MaxBlockLocatorsPerMsg, "block locator")
	if err != nil {
		return err
	}
	msg.BlockLocatorHashes = make([]*chainhash.Hash, count)
	for i := range msg.BlockLocatorHashes {
		hash := new(chainhash.Hash)
		err = readHash(r, hash)
		if err != nil {
			return err
		}
		msg.BlockLocatorHashes[i] = hash
	}
	return readHash(r, &msg.HashStop)
}

// Command returns the protocol command string for the message.
func (msg *MsgGetBlocks) Command() string {
	return CmdGetBlocks
}

// NewMsgGetBlocks returns a new getblocks message with the given stop
// hash and an empty locator.
func NewMsgGetBlocks(hashStop *chainhash.Hash) *MsgGetBlocks {
	return &MsgGetBlocks{
		ProtocolVersion:    ProtocolVersion,
		BlockLocatorHashes: make([]*chainhash.Hash, 0, MaxBlockLocatorsPerMsg),
		HashStop:           *hashStop,
	}
}
