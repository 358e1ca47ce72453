package inc

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/base"
	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/monitor"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/wire"
)

const (
	DefaultRetransmitInterval = 20 * time.Millisecond
	DefaultProcessingDelay    = 10 * time.Microsecond
)

var (
	errInvalidStackConfig = errors.New("invalid stack config")
	errStackClosed        = errors.New("stack closed")
	errAllReduceStarted   = errors.New("all-reduce already started")
)

type StackConfig struct {
	ID       string
	Group    uint16
	Op       base.OP
	DataType base.DataType
	Fill     int32
	Window   uint32
	Packets  uint32
	Payload  int

	Local  plan.Endpoint
	Remote plan.Endpoint

	RetransmitInterval time.Duration
	ProcessingDelay    time.Duration

	OnComplete func()
}

func (c *StackConfig) complete() error {
	if c.Packets == 0 || c.Window == 0 {
		return errInvalidStackConfig
	}
	if c.Payload == 0 {
		c.Payload = wire.DefaultPayloadSize
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = DefaultRetransmitInterval
	}
	if c.ProcessingDelay == 0 {
		c.ProcessingDelay = DefaultProcessingDelay
	}
	if c.DataType == 0 {
		c.DataType = base.I32
	}
	if c.Op == 0 {
		c.Op = base.SUM
	}
	return nil
}

// Stack drives one host's side of an aggregation session: it paces
// data packets through a sliding window toward its switch, answers
// aggregated results with acknowledgements, and retransmits anything
// the switch reports missing or that times out.
type Stack struct {
	sync.Mutex
	cfg   StackConfig
	sched event.Scheduler
	send  sendFunc

	closers []io.Closer

	running   bool
	started   bool
	completed bool

	sendBuf  []int32
	recvBuf  []int32
	acked    []bool
	inFlight []bool
	dataRecv []bool

	lastDataRecv bool

	windowBase uint32
	windowEnd  uint32
	nextPSN    uint32

	circle  event.Timer
	retrans map[uint32]event.Timer
}

func NewStack(network Network, sched event.Scheduler, cfg StackConfig) (*Stack, error) {
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	s := &Stack{
		cfg:      cfg,
		sched:    sched,
		sendBuf:  make([]int32, cfg.Packets),
		recvBuf:  make([]int32, cfg.Packets),
		acked:    make([]bool, cfg.Packets),
		inFlight: make([]bool, cfg.Packets),
		dataRecv: make([]bool, cfg.Packets),
		retrans:  make(map[uint32]event.Timer),
	}
	listener, err := network.Listen(cfg.Local.ListenAddr(), s.handle)
	if err != nil {
		return nil, err
	}
	send, closer, err := network.Open(cfg.Local.EmitterAddr())
	if err != nil {
		listener.Close()
		return nil, err
	}
	s.send = send
	s.closers = []io.Closer{listener, closer}
	s.running = true
	return s, nil
}

// AllReduce starts the session. A Stack runs one session in its
// lifetime; a second call fails without touching the first.
func (s *Stack) AllReduce() error {
	s.Lock()
	defer s.Unlock()
	if !s.running {
		return errStackClosed
	}
	if s.started {
		return errAllReduceStarted
	}
	s.started = true
	for i := range s.sendBuf {
		s.sendBuf[i] = s.cfg.Fill
		s.recvBuf[i] = 0
		s.acked[i] = false
		s.inFlight[i] = false
		s.dataRecv[i] = false
	}
	s.lastDataRecv = false
	s.completed = false
	for _, t := range s.retrans {
		t.Stop()
	}
	s.retrans = make(map[uint32]event.Timer)
	s.windowBase = 0
	s.windowEnd = s.cfg.Window - 1
	if s.windowEnd > s.cfg.Packets-1 {
		s.windowEnd = s.cfg.Packets - 1
	}
	s.sendWindowLocked()
	return nil
}

func (s *Stack) sendWindowLocked() {
	s.nextPSN = s.windowBase
	if s.circle == nil {
		s.circle = s.sched.Schedule(0, s.circleSend)
	}
}

// circleSend paces one window slot per tick. An unacked slot is sent
// at most once here; later copies come from the retransmit timer or a
// negative acknowledgement.
func (s *Stack) circleSend() {
	s.Lock()
	defer s.Unlock()
	s.circle = nil
	if !s.running {
		return
	}
	n := s.cfg.Packets
	if s.nextPSN >= s.windowBase && s.nextPSN <= s.windowEnd && s.nextPSN < n {
		psn := s.nextPSN
		if !s.acked[psn] && !s.inFlight[psn] {
			s.inFlight[psn] = true
			s.sendDataLocked(psn)
			s.armRetransmitLocked(psn)
		}
		s.nextPSN++
		s.circle = s.sched.Schedule(s.cfg.ProcessingDelay, s.circleSend)
	} else if s.nextPSN < n {
		s.circle = s.sched.Schedule(s.cfg.ProcessingDelay, s.circleSend)
	}
}

func (s *Stack) armRetransmitLocked(psn uint32) {
	if t, ok := s.retrans[psn]; ok {
		t.Stop()
	}
	s.retrans[psn] = s.sched.Schedule(s.cfg.RetransmitInterval, func() { s.retransmit(psn) })
}

// scheduleSendLocked resends psn immediately. This is the negative
// acknowledgement path, so the window position is not consulted.
func (s *Stack) scheduleSendLocked(psn uint32) {
	if psn >= s.cfg.Packets {
		log.Warnf("%s: resend request for psn %d out of range", s.cfg.ID, psn)
		return
	}
	if !s.running || s.acked[psn] {
		return
	}
	s.inFlight[psn] = true
	s.sendDataLocked(psn)
	s.armRetransmitLocked(psn)
}

func (s *Stack) retransmit(psn uint32) {
	s.Lock()
	defer s.Unlock()
	if psn >= s.cfg.Packets || !s.running || s.acked[psn] {
		return
	}
	s.inFlight[psn] = true
	s.sched.Schedule(s.cfg.ProcessingDelay, func() {
		s.Lock()
		defer s.Unlock()
		if !s.running {
			return
		}
		s.sendDataLocked(psn)
	})
	s.retrans[psn] = s.sched.Schedule(s.cfg.RetransmitInterval, func() { s.retransmit(psn) })
	monitor.GetMonitor().Record("host_retransmit")
}

func (s *Stack) sendDataLocked(psn uint32) {
	h := wire.Header{
		SrcQP:     s.cfg.Local.QP,
		DstQP:     s.cfg.Remote.QP,
		SrcAddr:   s.cfg.Local.IPv4,
		DstAddr:   s.cfg.Remote.IPv4,
		PSN:       psn,
		Operation: s.cfg.Op,
		GroupID:   s.cfg.Group,
		Length:    uint16(wire.HeaderSize + s.cfg.Payload),
		AggData:   s.sendBuf[psn],
	}
	h.SetDataType(s.cfg.DataType)
	if err := s.send(s.cfg.Remote.ListenAddr(), encodeRecord(h, s.cfg.Payload)); err != nil {
		log.Debugf("%s: send psn %d: %v", s.cfg.ID, psn, err)
	}
	monitor.GetMonitor().Record("host_data")
}

func (s *Stack) handle(src plan.NetAddr, p []byte) {
	var h wire.Header
	if err := h.Unmarshal(p); err != nil {
		log.Warnf("%s: short record from %s", s.cfg.ID, src)
		return
	}
	s.Lock()
	defer s.Unlock()
	if !s.running {
		return
	}
	flags := h.Flags()
	switch {
	case flags&wire.FlagACK != 0:
		s.processAckLocked(&h)
	case flags&wire.FlagNACK != 0:
		s.processNakLocked(&h)
	default:
		s.processDataLocked(&h)
	}
	if s.started && !s.completed && s.completeLocked() {
		s.completed = true
		log.Infof("%s: all-reduce complete", s.cfg.ID)
		if hook := s.cfg.OnComplete; hook != nil {
			s.sched.Schedule(0, hook)
		}
	}
}

func (s *Stack) processDataLocked(h *wire.Header) {
	psn := h.PSN
	if psn >= s.cfg.Packets {
		log.Warnf("%s: data psn %d out of range", s.cfg.ID, psn)
		return
	}
	if s.dataRecv[psn] {
		s.sendAckLocked(h, h.AggData)
		return
	}
	s.recvBuf[psn] = h.AggData
	s.dataRecv[psn] = true
	if psn == s.cfg.Packets-1 {
		s.lastDataRecv = true
	}
	s.sendAckLocked(h, h.AggData)
}

func (s *Stack) processAckLocked(h *wire.Header) {
	psn := h.PSN
	if psn >= s.cfg.Packets {
		log.Warnf("%s: ack psn %d out of range", s.cfg.ID, psn)
		return
	}
	s.acked[psn] = true
	s.inFlight[psn] = false
	if t, ok := s.retrans[psn]; ok {
		t.Stop()
		delete(s.retrans, psn)
	}
	n := s.cfg.Packets
	for s.windowBase < n && s.acked[s.windowBase] {
		s.windowBase++
		if s.windowEnd < n-1 {
			s.windowEnd++
		}
	}
}

func (s *Stack) processNakLocked(h *wire.Header) {
	log.Debugf("%s: nak for psn %d", s.cfg.ID, h.PSN)
	s.scheduleSendLocked(h.PSN)
}

func (s *Stack) sendAckLocked(h *wire.Header, echo int32) {
	reply := wire.Header{
		SrcQP:     h.DstQP,
		DstQP:     h.SrcQP,
		SrcAddr:   h.DstAddr,
		DstAddr:   h.SrcAddr,
		PSN:       h.PSN,
		Operation: h.Operation,
		GroupID:   h.GroupID,
		Length:    wire.HeaderSize,
		AggData:   echo,
	}
	reply.SetDataType(h.DataType())
	reply.SetFlags(wire.FlagACK)
	dst := plan.NetAddr{IPv4: h.SrcAddr, Port: plan.ListenPort}
	if err := s.send(dst, reply.Marshal()); err != nil {
		log.Debugf("%s: ack psn %d: %v", s.cfg.ID, h.PSN, err)
	}
	monitor.GetMonitor().Record("host_ack")
}

// completeLocked reports whether the session has finished: the last
// aggregated result arrived and the last own packet was accepted.
// Outstanding retransmit timers are released on the way out.
func (s *Stack) completeLocked() bool {
	if s.lastDataRecv && s.acked[s.cfg.Packets-1] {
		for _, t := range s.retrans {
			t.Stop()
		}
		s.retrans = make(map[uint32]event.Timer)
		return true
	}
	return false
}

func (s *Stack) Started() bool {
	s.Lock()
	defer s.Unlock()
	return s.started
}

func (s *Stack) Completed() bool {
	s.Lock()
	defer s.Unlock()
	return s.completed
}

// RecvBuffer returns a copy of the aggregated results received so far.
func (s *Stack) RecvBuffer() []int32 {
	s.Lock()
	defer s.Unlock()
	out := make([]int32, len(s.recvBuf))
	copy(out, s.recvBuf)
	return out
}

func (s *Stack) Stop() error {
	s.Lock()
	if !s.running {
		s.Unlock()
		return nil
	}
	s.running = false
	if s.circle != nil {
		s.circle.Stop()
		s.circle = nil
	}
	for _, t := range s.retrans {
		t.Stop()
	}
	s.retrans = make(map[uint32]event.Timer)
	closers := s.closers
	s.closers = nil
	s.Unlock()
	for _, c := range closers {
		c.Close()
	}
	return nil
}
