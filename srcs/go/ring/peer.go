// Package ring implements a stream based ring allreduce. Every peer
// keeps one outgoing connection to its successor and accepts one from
// its predecessor; data records travel forward around the ring while
// ROUND_COMPLETE notifications travel backward on the same streams,
// granting the sender its next round. Scatter-Reduce runs N-1 rounds,
// then All-Gather runs N-1 rounds, after which every peer holds the
// full reduction in its result buffer.
package ring

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/monitor"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/wire"
)

const (
	DefaultPayloadSize    = 1024
	DefaultRecvBufSize    = 32 * 1024
	DefaultCheckInterval  = 10 * time.Millisecond
	DefaultRetryInterval  = time.Millisecond
	DefaultTransferStart  = 5 * time.Second
	DefaultPacketInterval = 10 * time.Microsecond
)

var (
	errInvalidPeerConfig = errors.New("invalid peer config")
	errNotDivisible      = errors.New("total packets must divide evenly across nodes")
	errPeerStarted       = errors.New("peer already started")
)

// Phase is the lifecycle stage of a ring peer. The numeric values are
// carried on the wire in RingHeader.Phase.
type Phase uint32

const (
	Idle Phase = iota
	Connecting
	ScatterReduce
	AllGather
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case ScatterReduce:
		return "SCATTER_REDUCE"
	case AllGather:
		return "ALL_GATHER"
	case Done:
		return "DONE"
	default:
		return ""
	}
}

// PeerConfig carries the per-peer parameters of one allreduce run.
// TotalPackets must divide evenly among the nodes; every node
// contributes one logical chunk of TotalPackets/Nodes records.
type PeerConfig struct {
	NodeID       uint32
	Nodes        uint32
	TotalPackets uint32

	PayloadSize int
	RecvBufSize int

	CheckInterval  time.Duration
	RetryInterval  time.Duration
	ConnectDelay   time.Duration
	TransferStart  time.Duration
	PacketInterval time.Duration

	Local plan.NetAddr
	Peer  plan.NetAddr

	OnComplete func()
}

func (c PeerConfig) complete() PeerConfig {
	if c.PayloadSize == 0 {
		c.PayloadSize = DefaultPayloadSize
	}
	if c.RecvBufSize == 0 {
		c.RecvBufSize = DefaultRecvBufSize
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.TransferStart == 0 {
		c.TransferStart = DefaultTransferStart
	}
	if c.PacketInterval == 0 {
		c.PacketInterval = DefaultPacketInterval
	}
	return c
}

// nodeState is the last reported state of the successor, updated from
// its ROUND_COMPLETE notifications.
type nodeState struct {
	node  uint32
	pass  uint32
	phase Phase
	ready bool
}

// Stats counts protocol events of one peer.
type Stats struct {
	DataSent      int64
	DataRecv      int64
	ScatterRCSent int64
	ScatterRCRecv int64
	GatherRCSent  int64
	GatherRCRecv  int64
	Unexpected    int64
}

// frameParser reassembles fixed-size records from a stream delivered
// in arbitrary chunks. An incomplete tail is retained until the next
// feed.
type frameParser struct {
	record int
	buf    []byte
}

func (fp *frameParser) feed(b []byte, emit func(h wire.RingHeader)) {
	fp.buf = append(fp.buf, b...)
	n := 0
	for len(fp.buf)-n >= fp.record {
		var h wire.RingHeader
		if err := h.Unmarshal(fp.buf[n:]); err != nil {
			break
		}
		emit(h)
		n += fp.record
	}
	fp.buf = append(fp.buf[:0], fp.buf[n:]...)
}

func encodeRingRecord(h wire.RingHeader, payload int) []byte {
	b := make([]byte, wire.RingHeaderSize+payload)
	copy(b, h.Marshal())
	return b
}

// Peer is one node of the ring. All state transitions run under the
// peer lock; timers and socket callbacks re-enter through it.
type Peer struct {
	sync.Mutex
	cfg   PeerConfig
	sched event.Scheduler
	tr    Transport

	phase Phase
	pass  uint32
	ppc   uint32
	srBuf []int32
	agBuf []int32

	sentInChunk  uint32
	recvPerChunk []uint32

	waiting  bool
	notified bool
	canSend  bool
	next     nodeState

	out      Conn
	in       Conn
	listener io.Closer

	outFrames frameParser
	inFrames  frameParser

	sendTimer  event.Timer
	checkTimer event.Timer
	rcTimer    event.Timer

	running bool
	startAt time.Duration
	endAt   time.Duration
	stats   Stats
}

// NewPeer validates the config and binds the listener for the
// predecessor's connection. Start begins the connect and transfer
// timeline.
func NewPeer(tr Transport, sched event.Scheduler, cfg PeerConfig) (*Peer, error) {
	cfg = cfg.complete()
	if cfg.Nodes < 2 || cfg.NodeID >= cfg.Nodes {
		return nil, errInvalidPeerConfig
	}
	if cfg.TotalPackets == 0 || cfg.TotalPackets%cfg.Nodes != 0 {
		return nil, errNotDivisible
	}
	p := &Peer{
		cfg:          cfg,
		sched:        sched,
		tr:           tr,
		ppc:          cfg.TotalPackets / cfg.Nodes,
		srBuf:        make([]int32, cfg.TotalPackets),
		agBuf:        make([]int32, cfg.TotalPackets),
		recvPerChunk: make([]uint32, cfg.Nodes),
	}
	for i := range p.srBuf {
		p.srBuf[i] = 1
	}
	record := wire.RingHeaderSize + cfg.PayloadSize
	p.outFrames.record = record
	p.inFrames.record = record
	var err error
	p.listener, err = tr.Listen(cfg.Local, func(c Conn) func(b []byte) {
		p.Lock()
		defer p.Unlock()
		p.in = c
		return p.recvFromPredecessor
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start schedules the connection to the successor and, once it is
// established, the transfer at the configured start time.
func (p *Peer) Start() error {
	p.Lock()
	defer p.Unlock()
	if p.running {
		return errPeerStarted
	}
	p.running = true
	delay := p.cfg.ConnectDelay
	if delay < 0 {
		delay = 0
	}
	p.sched.Schedule(delay, p.connect)
	return nil
}

func (p *Peer) connect() {
	p.Lock()
	if !p.running {
		p.Unlock()
		return
	}
	p.phase = Connecting
	p.Unlock()
	out, err := p.tr.Dial(p.cfg.Peer, p.recvFromSuccessor)
	if err != nil {
		log.Errorf("node %d failed to connect to successor %s: %v", p.cfg.NodeID, p.cfg.Peer, err)
		return
	}
	p.Lock()
	defer p.Unlock()
	if !p.running {
		out.Close()
		return
	}
	p.out = out
	delay := p.cfg.TransferStart - p.sched.Now()
	if delay < 0 {
		delay = 0
	}
	p.sched.Schedule(delay, p.startTransfer)
}

func (p *Peer) startTransfer() {
	p.Lock()
	defer p.Unlock()
	if !p.running || p.phase != Connecting {
		return
	}
	p.startAt = p.sched.Now()
	p.phase = ScatterReduce
	p.pass = 0
	p.canSend = true
	p.sentInChunk = 0
	for i := range p.recvPerChunk {
		p.recvPerChunk[i] = 0
	}
	log.Infof("node %d starts ring allreduce: %d nodes, %d records", p.cfg.NodeID, p.cfg.Nodes, p.cfg.TotalPackets)
	p.sendLoopLocked()
}

func (p *Peer) chunkToSend() uint32 {
	if p.phase == ScatterReduce {
		return (p.cfg.NodeID - p.pass + p.cfg.Nodes) % p.cfg.Nodes
	}
	return (p.cfg.NodeID - p.pass + 1 + p.cfg.Nodes) % p.cfg.Nodes
}

func (p *Peer) chunkToReceive() uint32 {
	return (p.chunkToSend() + p.cfg.Nodes - 1) % p.cfg.Nodes
}

func (p *Peer) sendLoop() {
	p.Lock()
	defer p.Unlock()
	if !p.running {
		return
	}
	p.sendLoopLocked()
}

func (p *Peer) sendLoopLocked() {
	if p.sendTimer != nil {
		p.sendTimer.Stop()
		p.sendTimer = nil
	}
	if p.phase != ScatterReduce && p.phase != AllGather {
		return
	}
	if p.sentInChunk >= p.ppc {
		p.canSend = false
		p.checkAdvanceLocked()
		return
	}
	if !p.canSend {
		log.Debugf("node %d waits for the successor before sending pass %d", p.cfg.NodeID, p.pass)
		p.waiting = true
		if p.checkTimer == nil {
			p.checkTimer = p.sched.Schedule(p.cfg.CheckInterval, p.checkStatus)
		}
		return
	}
	chunk := p.chunkToSend()
	opi := chunk*p.ppc + p.sentInChunk
	h := wire.RingHeader{
		MessageType: wire.ScatterReduceData,
		Index:       opi,
		AggData:     p.srBuf[opi],
		Pass:        p.pass,
		Chunk:       chunk,
		Sender:      p.cfg.NodeID,
		Phase:       uint32(p.phase),
	}
	if p.phase == AllGather {
		h.MessageType = wire.AllGatherData
	}
	if err := p.out.Send(encodeRingRecord(h, p.cfg.PayloadSize)); err != nil {
		log.Warnf("node %d failed to send %v, retrying: %v", p.cfg.NodeID, h, err)
		p.sendTimer = p.sched.Schedule(p.cfg.RetryInterval, p.sendLoop)
		return
	}
	monitor.GetMonitor().Record("ring_data")
	p.stats.DataSent++
	p.sentInChunk++
	if p.sentInChunk < p.ppc {
		p.sendTimer = p.sched.Schedule(p.cfg.PacketInterval, p.sendLoop)
		return
	}
	log.Debugf("node %d finished sending chunk %d in pass %d", p.cfg.NodeID, chunk, p.pass)
	p.canSend = false
	p.checkAdvanceLocked()
}

// checkStatus periodically reports a stalled wait for the successor.
// The grant normally arrives through handleRoundComplete before the
// timer fires again.
func (p *Peer) checkStatus() {
	p.Lock()
	defer p.Unlock()
	p.checkTimer = nil
	if !p.running {
		return
	}
	if p.waiting && !p.next.ready {
		log.Debugf("node %d still waiting for the successor in pass %d", p.cfg.NodeID, p.pass)
		p.checkTimer = p.sched.Schedule(p.cfg.CheckInterval, p.checkStatus)
		return
	}
	if p.waiting && p.next.ready {
		p.waiting = false
		p.canSend = true
		p.sendLoopLocked()
	}
}

func (p *Peer) recvFromSuccessor(b []byte) {
	p.recv(&p.outFrames, b)
}

func (p *Peer) recvFromPredecessor(b []byte) {
	p.recv(&p.inFrames, b)
}

func (p *Peer) recv(fp *frameParser, b []byte) {
	p.Lock()
	defer p.Unlock()
	if !p.running {
		return
	}
	fp.feed(b, p.handleRecordLocked)
}

func (p *Peer) handleRecordLocked(h wire.RingHeader) {
	if h.MessageType == wire.RoundComplete {
		p.handleRoundCompleteLocked(h)
		return
	}
	if h.Index >= p.cfg.TotalPackets || h.Chunk >= p.cfg.Nodes {
		log.Warnf("node %d dropped malformed %v", p.cfg.NodeID, h)
		p.stats.Unexpected++
		return
	}
	switch {
	case p.phase == ScatterReduce && h.MessageType == wire.ScatterReduceData:
		if h.AggData != int32(h.Pass+1) {
			log.Warnf("node %d received %v, want aggregate %d", p.cfg.NodeID, h, h.Pass+1)
		}
		p.srBuf[h.Index] += h.AggData
		p.stats.DataRecv++
		if p.recordReceiptLocked(h.Chunk) && h.Chunk == p.chunkToReceive() {
			p.checkAdvanceLocked()
		}
	case p.phase == AllGather && h.MessageType == wire.AllGatherData:
		if h.AggData != int32(p.cfg.Nodes) {
			log.Warnf("node %d received %v, want aggregate %d", p.cfg.NodeID, h, p.cfg.Nodes)
		}
		p.srBuf[h.Index] = h.AggData
		p.agBuf[h.Index] = h.AggData
		p.stats.DataRecv++
		if p.recordReceiptLocked(h.Chunk) && h.Chunk == p.chunkToReceive() {
			p.checkAdvanceLocked()
		}
	default:
		log.Warnf("node %d received unexpected %s in phase %s", p.cfg.NodeID, h.MessageType, p.phase)
		p.stats.Unexpected++
	}
}

func (p *Peer) recordReceiptLocked(chunk uint32) bool {
	p.recvPerChunk[chunk]++
	if p.recvPerChunk[chunk] >= p.ppc {
		log.Debugf("node %d finished receiving chunk %d in pass %d", p.cfg.NodeID, chunk, p.pass)
		return true
	}
	return false
}

func (p *Peer) handleRoundCompleteLocked(h wire.RingHeader) {
	if h.Sender != (p.cfg.NodeID+1)%p.cfg.Nodes {
		return
	}
	p.next = nodeState{node: h.Sender, pass: h.Pass, phase: Phase(h.Phase), ready: true}
	if Phase(h.Phase) == AllGather {
		p.stats.GatherRCRecv++
	} else {
		p.stats.ScatterRCRecv++
	}
	if p.waiting {
		p.waiting = false
		p.canSend = true
		p.next.ready = false
		if p.sentInChunk == 0 {
			p.sendLoopLocked()
		}
	}
}

func (p *Peer) sendRoundCompleteLocked(pass uint32, ph Phase) {
	h := wire.RingHeader{
		MessageType: wire.RoundComplete,
		Pass:        pass,
		Sender:      p.cfg.NodeID,
		Phase:       uint32(ph),
	}
	if p.in == nil || p.in.Send(encodeRingRecord(h, p.cfg.PayloadSize)) != nil {
		log.Warnf("node %d failed to notify round %d complete, retrying", p.cfg.NodeID, pass)
		p.rcTimer = p.sched.Schedule(p.cfg.RetryInterval, func() {
			p.Lock()
			defer p.Unlock()
			if !p.running {
				return
			}
			p.sendRoundCompleteLocked(pass, ph)
		})
		return
	}
	monitor.GetMonitor().Record("ring_rc")
	if ph == AllGather {
		p.stats.GatherRCSent++
	} else {
		p.stats.ScatterRCSent++
	}
}

func (p *Peer) checkAdvanceLocked() {
	sendDone := p.sentInChunk >= p.ppc
	recvDone := p.recvPerChunk[p.chunkToReceive()] >= p.ppc
	if sendDone && recvDone && !p.notified {
		p.sendRoundCompleteLocked(p.pass, p.phase)
		p.notified = true
		p.waiting = true
		p.advanceReceivingLocked()
	}
	if sendDone && recvDone && p.next.ready {
		p.canSend = true
		p.waiting = false
		p.advanceSendingLocked()
	}
}

func (p *Peer) advanceReceivingLocked() {
	switch p.phase {
	case ScatterReduce:
		if p.pass < p.cfg.Nodes-2 {
			p.nextPassLocked()
		} else {
			p.nextPhaseLocked()
		}
	case AllGather:
		if p.pass < p.cfg.Nodes-2 {
			p.nextPassLocked()
		} else {
			p.finishLocked()
		}
	}
}

func (p *Peer) advanceSendingLocked() {
	p.next.ready = false
	p.canSend = true
	p.sendLoopLocked()
}

func (p *Peer) nextPassLocked() {
	p.pass++
	p.sentInChunk = 0
	for i := range p.recvPerChunk {
		p.recvPerChunk[i] = 0
	}
	p.notified = false
	p.canSend = p.next.ready
	log.Debugf("node %d enters pass %d of %s", p.cfg.NodeID, p.pass, p.phase)
}

func (p *Peer) nextPhaseLocked() {
	if p.phase != ScatterReduce {
		return
	}
	p.phase = AllGather
	p.pass = 0
	p.sentInChunk = 0
	for i := range p.recvPerChunk {
		p.recvPerChunk[i] = 0
	}
	p.notified = false
	p.canSend = p.next.ready
	myChunk := (p.cfg.NodeID + 1) % p.cfg.Nodes
	for j := uint32(0); j < p.ppc; j++ {
		opi := myChunk*p.ppc + j
		if p.srBuf[opi] == int32(p.cfg.Nodes) {
			p.agBuf[opi] = p.srBuf[opi]
		}
	}
	log.Infof("node %d enters ALL_GATHER", p.cfg.NodeID)
}

func (p *Peer) finishLocked() {
	p.endAt = p.sched.Now()
	p.phase = Done
	for i := range p.srBuf {
		if p.srBuf[i] == int32(p.cfg.Nodes) {
			p.agBuf[i] = p.srBuf[i]
		}
	}
	log.Infof("node %d finished ring allreduce in %s, verified=%v", p.cfg.NodeID, p.endAt-p.startAt, p.verifyLocked())
	// The successor's last backward notification may still be in
	// flight; the connections stay open until Stop so it lands and
	// the counters stay exact.
	p.cancelTimersLocked()
	if hook := p.cfg.OnComplete; hook != nil {
		p.sched.Schedule(0, hook)
	}
}

// Phase reports the peer's current lifecycle stage.
func (p *Peer) Phase() Phase {
	p.Lock()
	defer p.Unlock()
	return p.phase
}

// Pass reports the current round within the current phase.
func (p *Peer) Pass() uint32 {
	p.Lock()
	defer p.Unlock()
	return p.pass
}

// PacketsPerChunk reports the records per logical chunk.
func (p *Peer) PacketsPerChunk() uint32 {
	return p.ppc
}

// Results returns a copy of the all-gather result buffer.
func (p *Peer) Results() []int32 {
	p.Lock()
	defer p.Unlock()
	out := make([]int32, len(p.agBuf))
	copy(out, p.agBuf)
	return out
}

// VerifyResults reports whether every result slot holds the node
// count, the reduction of one contribution from every peer.
func (p *Peer) VerifyResults() bool {
	p.Lock()
	defer p.Unlock()
	return p.verifyLocked()
}

func (p *Peer) verifyLocked() bool {
	for _, v := range p.agBuf {
		if v != int32(p.cfg.Nodes) {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of the peer's event counters.
func (p *Peer) Stats() Stats {
	p.Lock()
	defer p.Unlock()
	return p.stats
}

// Stop tears the peer down. An unfinished run is reported before the
// sockets close.
func (p *Peer) Stop() {
	p.Lock()
	defer p.Unlock()
	if p.running && p.phase != Done {
		p.endAt = p.sched.Now()
		p.phase = Done
		log.Errorf("node %d ring allreduce incomplete after %s, verified=%v", p.cfg.NodeID, p.endAt-p.startAt, p.verifyLocked())
	}
	p.stopLocked()
}

func (p *Peer) cancelTimersLocked() {
	if p.sendTimer != nil {
		p.sendTimer.Stop()
		p.sendTimer = nil
	}
	if p.checkTimer != nil {
		p.checkTimer.Stop()
		p.checkTimer = nil
	}
	if p.rcTimer != nil {
		p.rcTimer.Stop()
		p.rcTimer = nil
	}
}

func (p *Peer) stopLocked() {
	p.running = false
	p.cancelTimersLocked()
	if p.out != nil {
		p.out.Close()
		p.out = nil
	}
	if p.in != nil {
		p.in.Close()
		p.in = nil
	}
	if p.listener != nil {
		p.listener.Close()
		p.listener = nil
	}
}
