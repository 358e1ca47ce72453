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

const DefaultEngineRetransmitInterval = 10 * time.Millisecond

var errInvalidEngineConfig = errors.New("invalid engine config")

// flowKey identifies a flow by its inbound direction: the remote
// sender, the local receiver and the local queue pair.
type flowKey struct {
	srcAddr uint32
	dstAddr uint32
	dstQP   uint16
}

type classKey struct {
	flowKey
	isAck bool
}

type flowClass uint8

const (
	upstreamData flowClass = iota + 1
	downstreamData
	upstreamAck
	downstreamAck
)

// inboundFlow holds the per-flow slot state and the local endpoint
// replies to this flow are sent from.
type inboundFlow struct {
	local    plan.Endpoint
	group    *groupState
	arrival  []bool
	rArrival []bool
}

// groupState is one aggregation group's slot array. Slot i serves
// psn aggPSN[i] and every later psn congruent to i modulo the array
// size, one at a time.
type groupState struct {
	id      uint16
	fanIn   uint16
	size    uint32
	op      base.OP
	dtype   base.DataType
	payload int

	agg          []int32
	degree       []uint16
	bcast        []int32
	bcastArrived []bool
	rDegree      []uint16
	aggPSN       []uint32

	flows []*inboundFlow
}

func newGroupState(cfg EngineConfig) *groupState {
	g := &groupState{
		id:           cfg.Group,
		fanIn:        cfg.FanIn,
		size:         cfg.Array,
		op:           cfg.Op,
		dtype:        cfg.DataType,
		payload:      cfg.Payload,
		agg:          make([]int32, cfg.Array),
		degree:       make([]uint16, cfg.Array),
		bcast:        make([]int32, cfg.Array),
		bcastArrived: make([]bool, cfg.Array),
		rDegree:      make([]uint16, cfg.Array),
		aggPSN:       make([]uint32, cfg.Array),
	}
	for i := range g.aggPSN {
		g.aggPSN[i] = uint32(i)
	}
	return g
}

func (g *groupState) clearSlot(i uint32) {
	g.agg[i] = 0
	g.degree[i] = 0
	g.bcast[i] = 0
	g.bcastArrived[i] = false
	g.rDegree[i] = 0
	for _, f := range g.flows {
		f.arrival[i] = false
		f.rArrival[i] = false
	}
}

func (g *groupState) advance(i uint32) {
	g.aggPSN[i] += g.size
	for _, f := range g.flows {
		f.arrival[i] = false
		f.rArrival[i] = false
	}
}

type hop struct {
	local plan.Endpoint
	peer  plan.Endpoint
}

type retransEntry struct {
	h     wire.Header
	timer event.Timer
}

type EngineConfig struct {
	ID       string
	Links    plan.LinkList
	Group    uint16
	FanIn    uint16
	Array    uint32
	Op       base.OP
	DataType base.DataType
	Payload  int

	RetransmitInterval time.Duration
}

func (c *EngineConfig) complete() error {
	if len(c.Links) == 0 || c.FanIn == 0 || c.Array == 0 {
		return errInvalidEngineConfig
	}
	if c.Payload == 0 {
		c.Payload = wire.DefaultPayloadSize
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = DefaultEngineRetransmitInterval
	}
	if c.DataType == 0 {
		c.DataType = base.I32
	}
	if c.Op == 0 {
		c.Op = base.SUM
	}
	return nil
}

// Stats counts engine activity since start.
type Stats struct {
	Committed       int64
	NaksSent        int64
	RetransmitFires int64
	Drops           int64
	MaxDegree       uint16
}

// Engine aggregates data records flowing up the tree and multicasts
// results back down. Flows are classified by the addresses a record
// carries, so the engine never inspects where a datagram physically
// came from.
type Engine struct {
	sync.Mutex
	cfg      EngineConfig
	sched    event.Scheduler
	emitters *Emitters
	root     bool

	classes    map[classKey]flowClass
	inbound    map[flowKey]*inboundFlow
	forwarding map[flowKey][]hop
	entries    map[flowKey]map[uint32]*retransEntry
	groups     map[uint16]*groupState

	listeners []io.Closer
	stats     Stats
	running   bool
}

func NewEngine(network Network, sched event.Scheduler, cfg EngineConfig) (*Engine, error) {
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		sched:      sched,
		emitters:   NewEmitters(network),
		classes:    make(map[classKey]flowClass),
		inbound:    make(map[flowKey]*inboundFlow),
		forwarding: make(map[flowKey][]hop),
		entries:    make(map[flowKey]map[uint32]*retransEntry),
		groups:     make(map[uint16]*groupState),
	}
	var parent *plan.LinkSpec
	var sonHops []hop
	for i := range cfg.Links {
		l := &cfg.Links[i]
		if l.ToChild {
			sonHops = append(sonHops, hop{local: l.Local, peer: l.Peer})
		} else if parent == nil {
			parent = l
		}
	}
	if len(sonHops) == 0 {
		return nil, errInvalidEngineConfig
	}
	e.root = parent == nil
	g := newGroupState(cfg)
	e.groups[cfg.Group] = g
	for _, l := range cfg.Links {
		k := flowKey{srcAddr: l.Peer.IPv4, dstAddr: l.Local.IPv4, dstQP: l.Local.QP}
		if l.ToChild {
			e.classes[classKey{k, false}] = upstreamData
			e.classes[classKey{k, true}] = upstreamAck
			if e.root {
				e.forwarding[k] = sonHops
			} else {
				e.forwarding[k] = []hop{{local: parent.Local, peer: parent.Peer}}
			}
		} else {
			e.classes[classKey{k, false}] = downstreamData
			e.classes[classKey{k, true}] = downstreamAck
			e.forwarding[k] = sonHops
		}
		fl := &inboundFlow{
			local:    l.Local,
			group:    g,
			arrival:  make([]bool, cfg.Array),
			rArrival: make([]bool, cfg.Array),
		}
		e.inbound[k] = fl
		g.flows = append(g.flows, fl)
		e.entries[k] = make(map[uint32]*retransEntry)
		if _, err := e.emitters.Get(l.Local.EmitterAddr()); err != nil {
			e.emitters.Close()
			return nil, err
		}
	}
	seen := make(map[plan.NetAddr]bool)
	for _, l := range cfg.Links {
		a := l.Local.ListenAddr()
		if seen[a] {
			continue
		}
		seen[a] = true
		c, err := network.Listen(a, e.handle)
		if err != nil {
			for _, lc := range e.listeners {
				lc.Close()
			}
			e.emitters.Close()
			return nil, err
		}
		e.listeners = append(e.listeners, c)
	}
	e.running = true
	return e, nil
}

func (e *Engine) handle(src plan.NetAddr, p []byte) {
	var h wire.Header
	if err := h.Unmarshal(p); err != nil {
		log.Warnf("%s: short record from %s", e.cfg.ID, src)
		return
	}
	e.Lock()
	defer e.Unlock()
	if !e.running {
		return
	}
	k := flowKey{srcAddr: h.SrcAddr, dstAddr: h.DstAddr, dstQP: h.DstQP}
	isAck := h.HasFlag(wire.FlagACK) || h.HasFlag(wire.FlagNACK)
	class, ok := e.classes[classKey{k, isAck}]
	if !ok {
		e.stats.Drops++
		log.Debugf("%s: unclassified record %s", e.cfg.ID, h.String())
		return
	}
	fl := e.inbound[k]
	switch class {
	case upstreamData:
		e.handleUpstreamData(k, fl, &h)
	case downstreamData:
		e.handleDownstreamData(k, fl, &h)
	case upstreamAck:
		e.handleUpstreamAck(k, fl, &h)
	case downstreamAck:
		e.handleDownstreamAck(k, fl, &h)
	}
}

func (e *Engine) handleUpstreamData(k flowKey, fl *inboundFlow, h *wire.Header) {
	g := fl.group
	i := h.PSN % g.size
	switch {
	case h.PSN < g.aggPSN[i]:
		e.sendAck(h, h.AggData)
		e.stats.Drops++
	case h.PSN > g.aggPSN[i]:
		e.processResend(k, fl, h)
	default:
		if fl.arrival[i] || g.bcastArrived[i] {
			e.sendAck(h, h.AggData)
			e.processResend(k, fl, h)
			return
		}
		e.sendAck(h, h.AggData)
		fl.arrival[i] = true
		fl.rArrival[i] = false
		g.agg[i] = base.Accumulate(g.agg[i], h.AggData, g.degree[i], g.op)
		g.degree[i]++
		if g.degree[i] > e.stats.MaxDegree {
			e.stats.MaxDegree = g.degree[i]
		}
		if g.degree[i] == g.fanIn {
			g.agg[i] = base.Finalize(g.agg[i], g.fanIn, g.op)
			e.commit(k, g, h, i)
		}
	}
}

// commit forwards a fully aggregated slot: up to the parent, or at
// the root down to every child with the broadcast state marked.
func (e *Engine) commit(k flowKey, g *groupState, h *wire.Header, i uint32) {
	if e.root {
		g.bcastArrived[i] = true
		g.bcast[i] = g.agg[i]
	}
	for _, hp := range e.forwarding[k] {
		fh := *h
		fh.SrcAddr = hp.local.IPv4
		fh.SrcQP = hp.local.QP
		fh.DstAddr = hp.peer.IPv4
		fh.DstQP = hp.peer.QP
		fh.Operation = g.op
		fh.SetDataType(g.dtype)
		fh.AggData = g.agg[i]
		fh.Length = uint16(wire.HeaderSize + g.payload)
		e.emit(fh, g.payload)
		e.scheduleRetransmit(fh)
	}
	e.stats.Committed++
	monitor.GetMonitor().Record("switch_commit")
}

func (e *Engine) handleDownstreamData(k flowKey, fl *inboundFlow, h *wire.Header) {
	g := fl.group
	i := h.PSN % g.size
	if h.PSN < g.aggPSN[i] || g.bcastArrived[i] {
		e.sendAck(h, h.AggData)
		e.stats.Drops++
		return
	}
	e.sendAck(h, h.AggData)
	g.bcastArrived[i] = true
	g.bcast[i] = h.AggData
	for _, hp := range e.forwarding[k] {
		fh := *h
		fh.SrcAddr = hp.local.IPv4
		fh.SrcQP = hp.local.QP
		fh.DstAddr = hp.peer.IPv4
		fh.DstQP = hp.peer.QP
		fh.Length = uint16(wire.HeaderSize + g.payload)
		e.emit(fh, g.payload)
		e.scheduleRetransmit(fh)
	}
}

func (e *Engine) handleUpstreamAck(k flowKey, fl *inboundFlow, h *wire.Header) {
	g := fl.group
	i := h.PSN % g.size
	if h.HasFlag(wire.FlagNACK) {
		if h.PSN == g.aggPSN[i] {
			e.processResend(k, fl, h)
		} else {
			e.stats.Drops++
		}
		return
	}
	e.cancelEntry(k, h.PSN)
	if h.PSN != g.aggPSN[i] || fl.rArrival[i] {
		e.stats.Drops++
		return
	}
	fl.rArrival[i] = true
	fl.arrival[i] = false
	g.rDegree[i]++
	if g.rDegree[i] == g.fanIn {
		g.clearSlot(i)
		g.advance(i)
	}
}

func (e *Engine) handleDownstreamAck(k flowKey, fl *inboundFlow, h *wire.Header) {
	g := fl.group
	i := h.PSN % g.size
	if h.HasFlag(wire.FlagNACK) {
		if h.PSN == g.aggPSN[i] && !g.bcastArrived[i] {
			e.processResend(k, fl, h)
		} else {
			e.stats.Drops++
		}
		return
	}
	e.cancelEntry(k, h.PSN)
	if h.PSN != g.aggPSN[i] {
		e.stats.Drops++
	}
}

// processResend answers a resend request, which is either an explicit
// NAK or a record too far ahead for its slot. The reply depends on
// how far the slot has progressed.
func (e *Engine) processResend(k flowKey, fl *inboundFlow, h *wire.Header) {
	g := fl.group
	i := h.PSN % g.size
	switch {
	case g.bcastArrived[i]:
		rh := wire.Header{
			SrcAddr:   h.DstAddr,
			SrcQP:     h.DstQP,
			DstAddr:   h.SrcAddr,
			DstQP:     h.SrcQP,
			PSN:       g.aggPSN[i],
			Operation: h.Operation,
			GroupID:   h.GroupID,
			AggData:   g.bcast[i],
			Length:    uint16(wire.HeaderSize + g.payload),
		}
		rh.SetDataType(h.DataType())
		e.emit(rh, g.payload)
		e.scheduleRetransmit(rh)
	case g.degree[i] == g.fanIn:
		for _, hp := range e.forwarding[k] {
			fh := *h
			fh.SrcAddr = hp.local.IPv4
			fh.SrcQP = hp.local.QP
			fh.DstAddr = hp.peer.IPv4
			fh.DstQP = hp.peer.QP
			fh.PSN = g.aggPSN[i]
			fh.Operation = g.op
			fh.SetDataType(g.dtype)
			fh.AggData = g.agg[i]
			fh.Length = uint16(wire.HeaderSize + g.payload)
			e.emit(fh, g.payload)
			e.scheduleRetransmit(fh)
		}
	case !fl.arrival[i]:
		e.sendNak(g, h, i)
	default:
		e.stats.Drops++
	}
}

func (e *Engine) sendAck(h *wire.Header, echo int32) {
	reply := wire.Header{
		SrcAddr:   h.DstAddr,
		SrcQP:     h.DstQP,
		DstAddr:   h.SrcAddr,
		DstQP:     h.SrcQP,
		PSN:       h.PSN,
		Operation: h.Operation,
		GroupID:   h.GroupID,
		AggData:   echo,
		Length:    wire.HeaderSize,
	}
	reply.SetDataType(h.DataType())
	reply.SetFlags(wire.FlagACK)
	e.emit(reply, 0)
	monitor.GetMonitor().Record("switch_ack")
}

func (e *Engine) sendNak(g *groupState, h *wire.Header, i uint32) {
	reply := wire.Header{
		SrcAddr:   h.DstAddr,
		SrcQP:     h.DstQP,
		DstAddr:   h.SrcAddr,
		DstQP:     h.SrcQP,
		PSN:       g.aggPSN[i],
		Operation: h.Operation,
		GroupID:   h.GroupID,
		Length:    wire.HeaderSize,
	}
	reply.SetDataType(h.DataType())
	reply.SetFlags(wire.FlagNACK)
	e.emit(reply, 0)
	e.stats.NaksSent++
	monitor.GetMonitor().Record("switch_nak")
}

// emit sends h from the emitter bound to the source endpoint the
// header claims, so replies can always be routed back from the header
// alone.
func (e *Engine) emit(h wire.Header, payload int) {
	local := plan.Endpoint{IPv4: h.SrcAddr, QP: h.SrcQP}
	send, err := e.emitters.Get(local.EmitterAddr())
	if err != nil {
		log.Errorf("%s: no emitter for %s: %v", e.cfg.ID, local, err)
		return
	}
	dst := plan.NetAddr{IPv4: h.DstAddr, Port: plan.ListenPort}
	if err := send(dst, encodeRecord(h, payload)); err != nil {
		log.Debugf("%s: emit to %s: %v", e.cfg.ID, dst, err)
	}
}

// scheduleRetransmit arms the timer that re-emits h until the
// destination acknowledges it. The entry lives under the reverse flow
// key, where that acknowledgement will arrive.
func (e *Engine) scheduleRetransmit(h wire.Header) {
	k := flowKey{srcAddr: h.DstAddr, dstAddr: h.SrcAddr, dstQP: h.SrcQP}
	m := e.entries[k]
	if m == nil {
		log.Errorf("%s: no outbound flow for %s", e.cfg.ID, h.String())
		return
	}
	if old, ok := m[h.PSN]; ok {
		old.timer.Stop()
	}
	en := &retransEntry{h: h}
	psn := h.PSN
	en.timer = e.sched.Schedule(e.cfg.RetransmitInterval, func() { e.refire(k, psn, en) })
	m[psn] = en
}

func (e *Engine) refire(k flowKey, psn uint32, en *retransEntry) {
	e.Lock()
	defer e.Unlock()
	if !e.running {
		return
	}
	m := e.entries[k]
	if m == nil || m[psn] != en {
		return
	}
	g := e.groups[en.h.GroupID]
	if g == nil {
		return
	}
	payload := 0
	if int(en.h.Length) > wire.HeaderSize {
		payload = g.payload
	}
	e.emit(en.h, payload)
	en.timer = e.sched.Schedule(e.cfg.RetransmitInterval, func() { e.refire(k, psn, en) })
	e.stats.RetransmitFires++
	monitor.GetMonitor().Record("switch_retransmit")
}

func (e *Engine) cancelEntry(k flowKey, psn uint32) {
	m := e.entries[k]
	if m == nil {
		return
	}
	if en, ok := m[psn]; ok {
		en.timer.Stop()
		delete(m, psn)
	}
}

func (e *Engine) Stats() Stats {
	e.Lock()
	defer e.Unlock()
	return e.stats
}

// AggPSN returns a copy of the per-slot expected psn array.
func (e *Engine) AggPSN(group uint16) []uint32 {
	e.Lock()
	defer e.Unlock()
	g := e.groups[group]
	if g == nil {
		return nil
	}
	out := make([]uint32, len(g.aggPSN))
	copy(out, g.aggPSN)
	return out
}

func (e *Engine) Stop() error {
	e.Lock()
	if !e.running {
		e.Unlock()
		return nil
	}
	e.running = false
	for _, m := range e.entries {
		for psn, en := range m {
			en.timer.Stop()
			delete(m, psn)
		}
	}
	listeners := e.listeners
	e.listeners = nil
	e.Unlock()
	for _, c := range listeners {
		c.Close()
	}
	e.emitters.Close()
	return nil
}
