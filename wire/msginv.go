package wire

import (
	"fmt"
	"io"
)

// MsgInv implements the Message interface and announces inventory a
// peer has available.
type MsgInv struct {
	InvList []*InvVect
}

// AddInvVect appends an inventory vector to the message.
func (msg *MsgInv) AddInvVect(iv *InvVect) error {
	if len(msg.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many invvect in message (max %d)", MaxInvPerMsg)
	}
	msg.InvList = append(msg.InvList, iv)
	return nil
}

// Serialize encodes the message to w.
func (msg *MsgInv) Serialize(w io.Writer) error {
	return writeInvList(w, msg.InvList)
}

// Deserialize decodes a message from r.
func (msg *MsgInv) Deserialize(r io.Reader) (err error) {
	msg.InvList, err = readInvList(r)
	return err
}

// Command returns the protocol command string for the message.
func (msg *MsgInv) Command() string {
	return CmdInv
}

// NewMsgInv returns a new inv message with an empty inventory list.
func NewMsgInv() *MsgInv {
	return &MsgInv{InvList: make([]*InvVect, 0, 16)}
}

// MsgGetData implements the Message interface and requests the objects
// named by its inventory list from a peer.  Same shape as inv.
type MsgGetData struct {
	InvList []*InvVect
}

// AddInvVect appends an inventory vector to the message.
func (msg *MsgGetData) AddInvVect(iv *InvVect) error {
	if len(msg.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many invvect in message (max %d)", MaxInvPerMsg)
	}
	msg.InvList = append(msg.InvList, iv)
	return nil
}

// Serialize encodes the message to w.
func (msg *MsgGetData) Serialize(w io.Writer) error {
	return writeInvList(w, msg.InvList)
}

// Deserialize decodes a message from r.
func (msg *MsgGetData) Deserialize(r io.Reader) (err error) {
	msg.InvList, err = readInvList(r)
	return err
}

// Command returns the protocol command string for the message.
func (msg *MsgGetData) Command() string {
	return CmdGetData
}

// NewMsgGetData returns a new getdata message with an empty inventory
// list.
func NewMsgGetData() *MsgGetData {
	return &MsgGetData{InvList: make([]*InvVect, 0, 16)}
}

func writeInvList(w io.Writer, invList []*InvVect) error {
	err := writeCount(w, uint32(len(invList)))
	if err != nil {
		return err
	}
	for _, iv := range invList {
		err = writeInvVect(w, iv)
		if err != nil {
			return err
		}
	}
	return nil
}

func readInvList(r io.Reader) ([]*InvVect, error) {
	count, err := readCount(r, MaxInvPerMsg, "inv")
	if err != nil {
		return nil, err
	}
	invList := make([]*InvVect, count)
	for i := range invList {
		iv := new(InvVect)
		err = readInvVect(r, iv)
		if err != nil {
			return nil, err
		}
		invList[i] = iv
	}
	return invList, nil
}
