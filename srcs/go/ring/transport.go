package ring

import (
	"io"

	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/sim"
)

// Conn is one end of an established duplex stream. Send queues whole
// writes; the bytes arrive in order on the peer's receive callback,
// possibly re-chunked at arbitrary boundaries.
type Conn interface {
	Send(p []byte) error
	Close() error
}

// Transport opens listeners and outgoing streams. The accept callback
// returns the receive sink for the accepted connection, so the owner
// can bind per-connection state before the first byte arrives.
type Transport interface {
	Listen(local plan.NetAddr, accept func(c Conn) func(p []byte)) (io.Closer, error)
	Dial(remote plan.NetAddr, recv func(p []byte)) (Conn, error)
}

// SimTransport adapts the simulated stream fabric to Transport.
type SimTransport struct {
	Net *sim.StreamNet
}

func (t SimTransport) Listen(local plan.NetAddr, accept func(c Conn) func(p []byte)) (io.Closer, error) {
	return t.Net.Listen(local, func(c *sim.StreamConn) func(p []byte) {
		return accept(c)
	})
}

func (t SimTransport) Dial(remote plan.NetAddr, recv func(p []byte)) (Conn, error) {
	c, err := t.Net.Dial(remote, recv)
	if err != nil {
		return nil, err
	}
	return c, nil
}
