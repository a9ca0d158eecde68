package wire

import (
	"encoding/binary"
	"io"
)

// MsgPing implements the Message interface and is used to keep a
// connection alive.  The nonce ties a pong back to its ping.
type MsgPing struct {
	Nonce uint64
}

// Serialize encodes the message to w.
func (msg *MsgPing) Serialize(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, msg.Nonce)
}

// Deserialize decodes a message from r.
func (msg *MsgPing) Deserialize(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, &msg.Nonce)
}

// Command returns the protocol command string for the message.
func (msg *MsgPing) Command() string {
	return CmdPing
}

// MsgPong implements the Message interface and answers a ping.
type MsgPong struct {
	Nonce uint64
}

// Serialize encodes the message to w.
func (msg *MsgPong) Serialize(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, msg.Nonce)
}

// Deserialize decodes a message from r.
func (msg *MsgPong) Deserialize(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, &msg.Nonce)
}

// Command returns the protocol command string for the message.
func (msg *MsgPong) Command() string {
	return CmdPong
}
