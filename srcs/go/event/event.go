package event

import (
	"container/heap"
	"math"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the callback and reports whether it was still
	// pending.
	Stop() bool
}

// Scheduler runs callbacks after a delay. The protocol engines drive
// every retransmission and continuation through this interface, so
// they run unchanged on wall time or on a virtual clock.
type Scheduler interface {
	Now() time.Duration
	Schedule(delay time.Duration, f func()) Timer
}

// Clock schedules on the runtime timer wheel. Callbacks run on their
// own goroutine.
type Clock struct {
	t0 time.Time
}

func NewClock() *Clock {
	return &Clock{t0: time.Now()}
}

func (c *Clock) Now() time.Duration {
	return time.Since(c.t0)
}

func (c *Clock) Schedule(delay time.Duration, f func()) Timer {
	return wallTimer{t: time.AfterFunc(delay, f)}
}

type wallTimer struct {
	t *time.Timer
}

func (t wallTimer) Stop() bool {
	return t.t.Stop()
}

type item struct {
	at      time.Duration
	seq     uint64
	f       func()
	stopped bool
	fired   bool
	index   int
}

func (it *item) Stop() bool {
	if it.stopped || it.fired {
		return false
	}
	it.stopped = true
	return true
}

type itemHeap []*item

func (h itemHeap) Len() int {
	return len(h)
}

// Events with equal deadlines fire in scheduling order.
func (h itemHeap) Less(i, j int) bool {
	return h[i].at < h[j].at || (h[i].at == h[j].at && h[i].seq < h[j].seq)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	n := len(*h)
	it := x.(*item)
	it.index = n
	*h = append(*h, it)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[0 : n-1]
	return it
}

// Loop is a discrete-time Scheduler. Time only advances inside Run,
// jumping to the deadline of each event in turn. All access must
// come from the goroutine driving Run; callbacks may schedule and
// stop timers freely.
type Loop struct {
	now time.Duration
	seq uint64
	pq  itemHeap
}

func NewLoop() *Loop {
	return &Loop{}
}

func (l *Loop) Now() time.Duration {
	return l.now
}

func (l *Loop) Schedule(delay time.Duration, f func()) Timer {
	it := &item{at: l.now + delay, seq: l.seq, f: f}
	l.seq++
	heap.Push(&l.pq, it)
	return it
}

func (l *Loop) Pending() int {
	return l.pq.Len()
}

// Step fires the earliest pending event. It reports false once the
// queue is empty.
func (l *Loop) Step() bool {
	for l.pq.Len() > 0 {
		it := heap.Pop(&l.pq).(*item)
		if it.stopped {
			continue
		}
		if it.at > l.now {
			l.now = it.at
		}
		it.fired = true
		it.f()
		return true
	}
	return false
}

// Run drains the queue.
func (l *Loop) Run() {
	l.RunUntil(time.Duration(math.MaxInt64))
}

// RunUntil drains events with deadlines up to and including horizon.
// Later events stay pending.
func (l *Loop) RunUntil(horizon time.Duration) {
	for l.pq.Len() > 0 {
		if l.pq[0].at > horizon {
			return
		}
		l.Step()
	}
}
