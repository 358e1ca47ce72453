// Package inc implements in-network aggregation over datagrams: a
// sliding-window host stack and a switch engine that reduces packets
// from its children and multicasts the result back down the tree.
package inc

import (
	"io"
	"sync"

	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/wire"
)

// Network is the datagram substrate the stacks and engines run on.
// Listen registers a receive callback for a local address; Open binds
// a local sending address and returns a send function for it.
type Network interface {
	Listen(local plan.NetAddr, recv func(src plan.NetAddr, p []byte)) (io.Closer, error)
	Open(local plan.NetAddr) (func(dst plan.NetAddr, p []byte) error, io.Closer, error)
}

type sendFunc func(dst plan.NetAddr, p []byte) error

// Emitters caches one bound sender per local address. A bind failure
// is cached as well, so a misconfigured address fails every send
// instead of binding a fresh socket each time.
type Emitters struct {
	sync.Mutex
	net     Network
	sends   map[plan.NetAddr]sendFunc
	errs    map[plan.NetAddr]error
	closers []io.Closer
}

func NewEmitters(net Network) *Emitters {
	return &Emitters{
		net:   net,
		sends: make(map[plan.NetAddr]sendFunc),
		errs:  make(map[plan.NetAddr]error),
	}
}

func (e *Emitters) Get(local plan.NetAddr) (sendFunc, error) {
	e.Lock()
	defer e.Unlock()
	if send, ok := e.sends[local]; ok {
		return send, nil
	}
	if err, ok := e.errs[local]; ok {
		return nil, err
	}
	send, closer, err := e.net.Open(local)
	if err != nil {
		e.errs[local] = err
		return nil, err
	}
	e.sends[local] = send
	e.closers = append(e.closers, closer)
	return send, nil
}

func (e *Emitters) Close() error {
	e.Lock()
	defer e.Unlock()
	for _, c := range e.closers {
		c.Close()
	}
	e.closers = nil
	e.sends = make(map[plan.NetAddr]sendFunc)
	e.errs = make(map[plan.NetAddr]error)
	return nil
}

// encodeRecord lays out a header followed by payload zero padding.
// Only the header carries protocol state; the payload just gives the
// record its on-wire size.
func encodeRecord(h wire.Header, payload int) []byte {
	b := make([]byte, wire.HeaderSize+payload)
	copy(b, h.Marshal())
	return b
}
