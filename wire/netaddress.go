package wire

import (
	"encoding/binary"
	"io"
	"net"
)

// SFNodeNetwork is the service bit for a full node that can serve
// blocks.
const SFNodeNetwork uint64 = 1

// NetAddress defines information about a peer on the network including
// when it was last seen, the services it supports, and its address.
type NetAddress struct {
	// Last time the address was seen, unix seconds.
	Timestamp uint32

	// Bitfield which identifies the services supported by the address.
	Services uint64

	// IP address of the peer, always stored as 16 bytes.
	IP net.IP

	// Port the peer is using.
	Port uint16
}

// NewNetAddress returns a new NetAddress using the provided TCP address
// with the zero timestamp.
func NewNetAddress(addr *net.TCPAddr, services uint64) *NetAddress {
	return &NetAddress{
		Services: services,
		IP:       addr.IP,
		Port:     uint16(addr.Port),
	}
}

func readNetAddress(r io.Reader, na *NetAddress) error {
	err := binary.Read(r, binary.BigEndian, &na.Timestamp)
	if err != nil {
		return err
	}
	err = binary.Read(r, binary.BigEndian, &na.Services)
	if err != nil {
		return err
	}
	var ip [16]byte
	_, err = io.ReadFull(r, ip[:])
	if err != nil {
		return err
	}
	na.IP = net.IP(ip[:])
	return binary.Read(r, binary.BigEndian, &na.Port)
}

func writeNetAddress(w io.Writer, na *NetAddress) error {
	err := binary.Write(w, binary.BigEndian, na.Timestamp)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, na.Services)
	if err != nil {
		return err
	}
	var ip [16]byte
	if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	_, err = w.Write(ip[:])
	if err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, na.Port)
}
