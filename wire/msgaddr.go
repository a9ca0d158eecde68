package wire

import (
	"fmt"
	"io"
)

// MaxAddrPerMsg is the maximum number of addresses in a single addr
// message.
const MaxAddrPerMsg = 1000

// MsgAddr implements the Message interface and shares known peer
// addresses around the network.
type MsgAddr struct {
	AddrList []*NetAddress
}

// AddAddress appends a known active peer address to the message.
func (msg *MsgAddr) AddAddress(na *NetAddress) error {
	if len(msg.AddrList)+1 > MaxAddrPerMsg {
		return fmt.Errorf("too many addresses in message (max %d)", MaxAddrPerMsg)
	}
	msg.AddrList = append(msg.AddrList, na)
	return nil
}

// Serialize encodes the message to w.
func (msg *MsgAddr) Serialize(w io.Writer) error {
	err := writeCount(w, uint32(len(msg.AddrList)))
	if err != nil {
		return err
	}
	for _, na := range msg.AddrList {
		err = writeNetAddress(w, na)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a message from r.
func (msg *MsgAddr) Deserialize(r io.Reader) error {
	count, err := readCount(r, MaxAddrPerMsg, "addr")
	if err != nil {
		return err
	}
	msg.AddrList = make([]*NetAddress, count)
	for i := range msg.AddrList {
		na := new(NetAddress)
		err = readNetAddress(r, na)
		if err != nil {
			return err
		}
		msg.AddrList[i] = na
	}
	return nil
}

// Command returns the protocol command string for the message.
func (msg *MsgAddr) Command() string {
	return CmdAddr
}
