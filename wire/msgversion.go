package wire

import (
	"encoding/binary"
	"io"
)

// MaxUserAgentLen is the maximum length of the user agent field.
const MaxUserAgentLen = 256

// MsgVersion implements the Message interface and represents the
// version handshake message.  It is the first message a peer sends on
// connect and carries its protocol version and capabilities.
type MsgVersion struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       uint64
	AddrYou         NetAddress
	AddrMe          NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     uint32
	Relay           bool
}

// Serialize encodes the message to w.
func (msg *MsgVersion) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, msg.ProtocolVersion)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, msg.Services)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, msg.Timestamp)
	if err != nil {
		return err
	}
	err = writeNetAddress(w, &msg.AddrYou)
	if err != nil {
		return err
	}
	err = writeNetAddress(w, &msg.AddrMe)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, msg.Nonce)
	if err != nil {
		return err
	}
	err = writeVarBytes(w, []byte(msg.UserAgent))
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, msg.StartHeight)
	if err != nil {
		return err
	}
	relay := uint8(0)
	if msg.Relay {
		relay = 1
	}
	return binary.Write(w, binary.BigEndian, relay)
}

// Deserialize decodes a message from r.
func (msg *MsgVersion) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &msg.ProtocolVersion)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &msg.Services)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &msg.Timestamp)
	if err != nil {
		return err
	}
	err = readNetAddress(r, &msg.AddrYou)
	if err != nil {
		return err
	}
	err = readNetAddress(r, &msg.AddrMe)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &msg.Nonce)
	if err != nil {
		return err
	}
	ua, err := readVarBytes(r, MaxUserAgentLen, "user agent")
	if err != nil {
		return err
	}
	msg.UserAgent = string(ua)
	err = binary.Read(r, binary.BigEndian, &msg.StartHeight)
	if err != nil {
		return err
	}
	var relay uint8
	err = binary.Read(r, binary.BigEndian, &relay)
	if err != nil {
		return err
	}
	msg.Relay = relay != 0
	return nil
}

// Command returns the protocol command string for the message.
func (msg *MsgVersion) Command() string {
	return CmdVersion
}

// MsgVerack implements the Message interface and acknowledges a version
// message.  It carries no payload.
type MsgVerack struct{}

// Serialize encodes the message to w.
func (msg *MsgVerack) Serialize(w io.Writer) error { return nil }

// Deserialize decodes a message from r.
func (msg *MsgVerack) Deserialize(r io.Reader) error { return nil }

// Command returns the protocol command string for the message.
func (msg *MsgVerack) Command() string {
	return CmdVerack
}
