package netsync

import (
	"net"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

// MsgConn is a framed message stream to one remote peer.  The manager
// only sees whole messages; framing, checksums, and network magic live
// behind this interface so tests can drive a peer without sockets.
type MsgConn interface {
	// ReadMessage blocks until the next message arrives.  A checksum
	// mismatch or unknown command is returned as the corresponding
	// wire sentinel error without desynchronizing the stream.
	ReadMessage() (wire.Message, error)

	// WriteMessage frames and sends a message.
	WriteMessage(msg wire.Message) error

	// Close tears the stream down, unblocking any pending read.
	Close() error

	// RemoteAddr names the remote peer for logging.
	RemoteAddr() string
}

// TxPool receives transactions learned from peer inventory.  The
// mempool itself lives outside this package.
type TxPool interface {
	// HaveTransaction reports whether the pool already holds the
	// transaction, so known inventory isn't re-requested.
	HaveTransaction(hash *chainhash.Hash) bool

	// ProcessTransaction hands a downloaded transaction to the pool.
	ProcessTransaction(tx *wire.MsgTx) error

	// BlockConnected tells the pool a block joined the active chain so
	// it can evict confirmed and conflicted transactions.
	BlockConnected(block *wire.MsgBlock)
}

// netConn adapts a net.Conn to MsgConn using the wire framing.
type netConn struct {
	conn  net.Conn
	magic uint32
}

// NewNetConn wraps an established connection with wire framing under
// the given network magic.
func NewNetConn(conn net.Conn, magic uint32) MsgConn {
	return &netConn{conn: conn, magic: magic}
}

func (c *netConn) ReadMessage() (wire.Message, error) {
	msg, _, err := wire.ReadMessage(c.conn, c.magic)
	return msg, err
}

func (c *netConn) WriteMessage(msg wire.Message) error {
	return wire.WriteMessage(c.conn, msg, c.magic)
}

func (c *netConn) Close() error {
	return c.conn.Close()
}

func (c *netConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
