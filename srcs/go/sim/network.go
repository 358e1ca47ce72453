package sim

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/unixpickle/essentials"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

// Net simulates the datagram fabric between nodes: every send is
// delayed by the link latency plus an optional random jitter, and
// dropped with the configured probability. Handlers run on the
// scheduler driving the Net, so an engine under test behaves exactly
// as it would over UDP, minus the kernel.
type Net struct {
	sched   event.Scheduler
	latency time.Duration
	jitter  time.Duration
	loss    float64
	rng     *rand.Rand

	mu        sync.Mutex
	sockets   map[plan.NetAddr]func(src plan.NetAddr, p []byte)
	emitters  map[plan.NetAddr]bool
	down      map[uint32]bool
	inFlight  map[uint32][]*flight
	delivered int
	dropped   int
}

type flight struct {
	timer event.Timer
	done  bool
}

func NewNet(sched event.Scheduler, latency time.Duration, loss float64, seed int64) *Net {
	return &Net{
		sched:    sched,
		latency:  latency,
		loss:     loss,
		rng:      rand.New(rand.NewSource(seed)),
		sockets:  make(map[plan.NetAddr]func(src plan.NetAddr, p []byte)),
		emitters: make(map[plan.NetAddr]bool),
		down:     make(map[uint32]bool),
		inFlight: make(map[uint32][]*flight),
	}
}

// SetJitter adds a random extra delay in [0, d) per datagram, which
// lets deliveries overtake each other.
func (n *Net) SetJitter(d time.Duration) {
	n.jitter = d
}

var errAddrInUse = errors.New("address already in use")

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Listen registers the datagram receiver for one local address.
func (n *Net) Listen(local plan.NetAddr, recv func(src plan.NetAddr, p []byte)) (io.Closer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sockets[local]; ok {
		return nil, errAddrInUse
	}
	n.sockets[local] = recv
	return closerFunc(func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.sockets, local)
		return nil
	}), nil
}

// Open binds an emitter on the local address and returns the send
// side. Datagrams sent through it carry local as their source.
func (n *Net) Open(local plan.NetAddr) (func(dst plan.NetAddr, p []byte) error, io.Closer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.emitters[local] {
		return nil, nil, errAddrInUse
	}
	n.emitters[local] = true
	send := func(dst plan.NetAddr, p []byte) error {
		return n.SendTo(local, dst, p)
	}
	closer := closerFunc(func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.emitters, local)
		return nil
	})
	return send, closer, nil
}

// SendTo queues one datagram for delivery. Loss and node-down drops
// are silent, as on a real fabric.
func (n *Net) SendTo(src, dst plan.NetAddr, p []byte) error {
	n.mu.Lock()
	if n.down[src.IPv4] || n.down[dst.IPv4] || (n.loss > 0 && n.rng.Float64() < n.loss) {
		n.dropped++
		n.mu.Unlock()
		return nil
	}
	delay := n.latency
	if n.jitter > 0 {
		delay += time.Duration(n.rng.Int63n(int64(n.jitter)))
	}
	buf := append([]byte(nil), p...)
	fl := &flight{}
	fl.timer = n.sched.Schedule(delay, func() {
		n.deliver(fl, src, dst, buf)
	})
	n.track(src.IPv4, fl)
	if dst.IPv4 != src.IPv4 {
		n.track(dst.IPv4, fl)
	}
	n.mu.Unlock()
	return nil
}

func (n *Net) deliver(fl *flight, src, dst plan.NetAddr, p []byte) {
	n.mu.Lock()
	fl.done = true
	if n.down[dst.IPv4] {
		n.dropped++
		n.mu.Unlock()
		return
	}
	recv, ok := n.sockets[dst]
	if !ok {
		n.dropped++
		n.mu.Unlock()
		return
	}
	n.delivered++
	n.mu.Unlock()
	recv(src, p)
}

func (n *Net) track(host uint32, fl *flight) {
	fls := append(n.inFlight[host], fl)
	if len(fls) > 4096 {
		for i := 0; i < len(fls); i++ {
			if fls[i].done {
				essentials.UnorderedDelete(&fls, i)
				i--
			}
		}
	}
	n.inFlight[host] = fls
}

// SetDown disconnects or reconnects one node. Taking a node down
// kills every datagram in flight to or from it.
func (n *Net) SetDown(host uint32, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[host] = down
	if !down {
		return
	}
	for _, fl := range n.inFlight[host] {
		if !fl.done && fl.timer.Stop() {
			fl.done = true
			n.dropped++
		}
	}
	delete(n.inFlight, host)
}

func (n *Net) Delivered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered
}

func (n *Net) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}
