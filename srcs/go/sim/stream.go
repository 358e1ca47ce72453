package sim

import (
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

// StreamNet simulates reliable byte streams. Bytes always arrive in
// order and without loss, but writes may be re-chunked at arbitrary
// boundaries on the way, the way a TCP receiver observes them.
type StreamNet struct {
	sched    event.Scheduler
	latency  time.Duration
	maxChunk int
	rng      *rand.Rand

	mu        sync.Mutex
	listeners map[plan.NetAddr]func(c *StreamConn) func(p []byte)
}

// NewStreamNet creates a stream fabric. maxChunk bounds the size of
// delivered chunks; zero keeps each write whole.
func NewStreamNet(sched event.Scheduler, latency time.Duration, maxChunk int, seed int64) *StreamNet {
	return &StreamNet{
		sched:     sched,
		latency:   latency,
		maxChunk:  maxChunk,
		rng:       rand.New(rand.NewSource(seed)),
		listeners: make(map[plan.NetAddr]func(c *StreamConn) func(p []byte)),
	}
}

// Listen registers an accept callback for one address. The callback
// returns the receiver for the accepted connection.
func (n *StreamNet) Listen(local plan.NetAddr, accept func(c *StreamConn) func(p []byte)) (io.Closer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[local]; ok {
		return nil, errAddrInUse
	}
	n.listeners[local] = accept
	return closerFunc(func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, local)
		return nil
	}), nil
}

var errConnRefused = &net.OpError{Op: "dial", Err: net.ErrClosed}

// Dial connects to a listener and returns the dialing end. recv
// receives the bytes the accepted end sends back.
func (n *StreamNet) Dial(remote plan.NetAddr, recv func(p []byte)) (*StreamConn, error) {
	n.mu.Lock()
	accept, ok := n.listeners[remote]
	n.mu.Unlock()
	if !ok {
		return nil, errConnRefused
	}
	a := &StreamConn{net: n, sink: recv}
	b := &StreamConn{net: n}
	a.peer, b.peer = b, a
	b.sink = accept(b)
	return a, nil
}

// StreamConn is one end of a duplex stream.
type StreamConn struct {
	net    *StreamNet
	peer   *StreamConn
	sink   func(p []byte)
	closed bool
}

// Send queues p for in-order delivery to the peer.
func (c *StreamConn) Send(p []byte) error {
	n := c.net
	n.mu.Lock()
	if c.closed || c.peer.closed {
		n.mu.Unlock()
		return net.ErrClosed
	}
	buf := append([]byte(nil), p...)
	peer := c.peer
	for len(buf) > 0 {
		size := len(buf)
		if n.maxChunk > 0 && size > 1 {
			if size > n.maxChunk {
				size = n.maxChunk
			}
			size = 1 + n.rng.Intn(size)
		}
		chunk := buf[:size]
		buf = buf[size:]
		// Equal deadlines fire in scheduling order, so chunks of
		// successive sends stay in stream order.
		n.sched.Schedule(n.latency, func() {
			n.mu.Lock()
			dead := peer.closed
			sink := peer.sink
			n.mu.Unlock()
			if !dead && sink != nil {
				sink(chunk)
			}
		})
	}
	n.mu.Unlock()
	return nil
}

func (c *StreamConn) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.closed = true
	return nil
}
