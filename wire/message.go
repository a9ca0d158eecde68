package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btpcsuite/btpcd/chainhash"
)

// CommandSize is the fixed size of all commands in the message header.
// Shorter commands are zero padded.
const CommandSize = 12

// ChecksumSize is the number of leading sha512 bytes the message header
// carries as the payload checksum.
const ChecksumSize = 4

// Commands used in message headers to describe the message type.
const (
	CmdVersion   = "version"
	CmdVerack    = "verack"
	CmdPing      = "ping"
	CmdPong      = "pong"
	CmdInv       = "inv"
	CmdGetData   = "getdata"
	CmdGetBlocks = "getblocks"
	CmdAddr      = "addr"
	CmdBlock     = "block"
	CmdTx        = "tx"
)

// Message is the interface all wire messages implement.
type Message interface {
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
	Command() string
}

// ErrChecksumMismatch means a received payload did not hash to the
// checksum its header claimed.  The message must be dropped and the
// sending peer penalized.
var ErrChecksumMismatch = fmt.Errorf("payload checksum mismatch")

// ErrUnknownCommand means the message header named a command this node
// doesn't speak.
var ErrUnknownCommand = fmt.Errorf("unknown command")

// ErrWrongNetwork means the message magic didn't match ours.
var ErrWrongNetwork = fmt.Errorf("message from wrong network")

// MessageHeader frames every message on the wire: network magic, the
// command string, payload length, and the first four bytes of the
// sha512 of the payload as a checksum.
type MessageHeader struct {
	Magic    uint32
	Command  [CommandSize]byte
	Length   uint32
	Checksum [ChecksumSize]byte
}

// CommandString returns the command with zero padding stripped.
func (hdr *MessageHeader) CommandString() string {
	return string(bytes.TrimRight(hdr.Command[:], "\x00"))
}

// VerifyChecksum recomputes the payload digest and compares.
func (hdr *MessageHeader) VerifyChecksum(payload []byte) bool {
	return payloadChecksum(payload) == hdr.Checksum
}

// payloadChecksum truncates the payload's sha512 to the header width.
func payloadChecksum(payload []byte) (sum [ChecksumSize]byte) {
	h := chainhash.HashH(payload)
	copy(sum[:], h[:ChecksumSize])
	return sum
}

// NewMessageHeader builds a header for the given command and payload.
func NewMessageHeader(magic uint32, command string, payload []byte) (*MessageHeader, error) {
	if len(command) > CommandSize {
		return nil, fmt.Errorf("command %q too long (max %d)", command, CommandSize)
	}
	if len(payload) > MaxMessagePayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds max of %d",
			len(payload), MaxMessagePayload)
	}

	hdr := &MessageHeader{
		Magic:    magic,
		Length:   uint32(len(payload)),
		Checksum: payloadChecksum(payload),
	}
	copy(hdr.Command[:], command)
	return hdr, nil
}

// Serialize encodes the header to w.
func (hdr *MessageHeader) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, hdr.Magic)
	if err != nil {
		return err
	}
	_, err = w.Write(hdr.Command[:])
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, hdr.Length)
	if err != nil {
		return err
	}
	_, err = w.Write(hdr.Checksum[:])
	return err
}

// Deserialize decodes a header from r.
func (hdr *MessageHeader) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &hdr.Magic)
	if err != nil {
		return err
	}
	_, err = io.ReadFull(r, hdr.Command[:])
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &hdr.Length)
	if err != nil {
		return err
	}
	_, err = io.ReadFull(r, hdr.Checksum[:])
	return err
}

// makeEmptyMessage creates a message of the right concrete type based on
// the command.
func makeEmptyMessage(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, nil
	case CmdVerack:
		return &MsgVerack{}, nil
	case CmdPing:
		return &MsgPing{}, nil
	case CmdPong:
		return &MsgPong{}, nil
	case CmdInv:
		return &MsgInv{}, nil
	case CmdGetData:
		return &MsgGetData{}, nil
	case CmdGetBlocks:
		return &MsgGetBlocks{}, nil
	case CmdAddr:
		return &MsgAddr{}, nil
	case CmdBlock:
		return &MsgBlock{}, nil
	case CmdTx:
		return &MsgTx{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

// WriteMessage frames and writes a message to w using the given network
// magic.
func WriteMessage(w io.Writer, msg Message, magic uint32) error {
	var payload bytes.Buffer
	err := msg.Serialize(&payload)
	if err != nil {
		return err
	}

	hdr, err := NewMessageHeader(magic, msg.Command(), payload.Bytes())
	if err != nil {
		return err
	}
	err = hdr.Serialize(w)
	if err != nil {
		return err
	}
	_, err = w.Write(payload.Bytes())
	return err
}

// ReadMessage reads, verifies, and parses the next framed message from
// r.  A checksum mismatch or unknown command returns an error without
// reading past the message boundary, so the caller can penalize the
// peer and continue.
func ReadMessage(r io.Reader, magic uint32) (Message, []byte, error) {
	var hdr MessageHeader
	err := hdr.Deserialize(r)
	if err != nil {
		return nil, nil, err
	}
	if hdr.Magic != magic {
		return nil, nil, fmt.Errorf("%w: magic %08x want %08x",
			ErrWrongNetwork, hdr.Magic, magic)
	}
	if hdr.Length > MaxMessagePayload {
		return nil, nil, fmt.Errorf("message payload of %d bytes exceeds max of %d",
			hdr.Length, MaxMessagePayload)
	}

	payload := make([]byte, hdr.Length)
	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, nil, err
	}

	if !hdr.VerifyChecksum(payload) {
		return nil, payload, fmt.Errorf("%w: command %q",
			ErrChecksumMismatch, hdr.CommandString())
	}

	msg, err := makeEmptyMessage(hdr.CommandString())
	if err != nil {
		return nil, payload, err
	}
	err = msg.Deserialize(bytes.NewReader(payload))
	if err != nil {
		return nil, payload, err
	}
	return msg, payload, nil
}
