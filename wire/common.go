package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
)

// ProtocolVersion is the wire protocol version this package speaks.
const ProtocolVersion uint32 = 1

// MaxMessagePayload is the maximum bytes a message payload can be.
const MaxMessagePayload = 2 * 1024 * 1024 // 2 MiB

// MaxVarBytesLen bounds any single length-prefixed byte vector to keep a
// malformed length field from allocating the world.
const MaxVarBytesLen = 100 * 1024

// MaxInvPerMsg is the maximum number of inventory vectors in a single
// inv or getdata message.
const MaxInvPerMsg = 50000

// Network magic numbers, one per network.  Values carried over from the
// chain's original parameters.
const (
	MainNet uint32 = 0xd9b4bef9
	TestNet uint32 = 0x0709110b
	RegTest uint32 = 0xdab5bffa
)

// readHash reads a 64 byte hash from r.
func readHash(r io.Reader, h *chainhash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

// writeHash writes a 64 byte hash to w.
func writeHash(w io.Writer, h *chainhash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

// readVarBytes reads a uint32 length prefix followed by that many bytes.
func readVarBytes(r io.Reader, maxLen uint32, fieldName string) ([]byte, error) {
	var count uint32
	err := binary.Read(r, binary.BigEndian, &count)
	if err != nil {
		return nil, err
	}
	if count > maxLen {
		return nil, fmt.Errorf("%s length %d exceeds max %d",
			fieldName, count, maxLen)
	}
	b := make([]byte, count)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// writeVarBytes writes a uint32 length prefix followed by the bytes.
func writeVarBytes(w io.Writer, b []byte) error {
	err := binary.Write(w, binary.BigEndian, uint32(len(b)))
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// writeCount writes a uint32 element count.
func writeCount(w io.Writer, count uint32) error {
	return binary.Write(w, binary.BigEndian, count)
}

// readCount reads a uint32 element count and checks it against a bound.
func readCount(r io.Reader, max uint32, fieldName string) (uint32, error) {
	var count uint32
	err := binary.Read(r, binary.BigEndian, &count)
	if err != nil {
		return 0, err
	}
	if count > max {
		return 0, fmt.Errorf("%s count %d exceeds max %d",
			fieldName, count, max)
	}
	return count, nil
}
