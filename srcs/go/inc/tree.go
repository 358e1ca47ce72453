package inc

import (
	"errors"
	"fmt"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

var errInvalidTopo = errors.New("invalid topology config")

// TreeConfig carries the runtime knobs shared by every node built
// from one topology.
type TreeConfig struct {
	HostRetransmit   time.Duration
	SwitchRetransmit time.Duration
	ProcessingDelay  time.Duration
	Payload          int

	OnComplete func(rank int)
}

// Tree is a fully wired aggregation group: one engine per switch and
// one stack per host, all on the same network.
type Tree struct {
	Hosts    []*Stack
	Switches []*Engine
}

func BuildTree(network Network, sched event.Scheduler, tc *plan.TopoConfig, rc TreeConfig) (*Tree, error) {
	if tc.Group < 0 || tc.FanIn <= 0 || tc.Array <= 0 || tc.Window <= 0 || tc.Packets <= 0 {
		return nil, errInvalidTopo
	}
	op, err := tc.Operation()
	if err != nil {
		return nil, err
	}
	t := &Tree{}
	for i, sc := range tc.Switches {
		ll, err := sc.LinkList()
		if err != nil {
			t.Stop()
			return nil, err
		}
		en, err := NewEngine(network, sched, EngineConfig{
			ID:                 fmt.Sprintf("switch-%d", i),
			Links:              ll,
			Group:              uint16(tc.Group),
			FanIn:              uint16(tc.FanIn),
			Array:              uint32(tc.Array),
			Op:                 *op,
			Payload:            rc.Payload,
			RetransmitInterval: rc.SwitchRetransmit,
		})
		if err != nil {
			t.Stop()
			return nil, err
		}
		t.Switches = append(t.Switches, en)
	}
	for r, hc := range tc.Hosts {
		local, sw, err := hc.Endpoints()
		if err != nil {
			t.Stop()
			return nil, err
		}
		rank := r
		var hook func()
		if rc.OnComplete != nil {
			hook = func() { rc.OnComplete(rank) }
		}
		st, err := NewStack(network, sched, StackConfig{
			ID:                 fmt.Sprintf("host-%d", r),
			Group:              uint16(tc.Group),
			Op:                 *op,
			Fill:               tc.Fill,
			Window:             uint32(tc.Window),
			Packets:            uint32(tc.Packets),
			Payload:            rc.Payload,
			Local:              *local,
			Remote:             *sw,
			RetransmitInterval: rc.HostRetransmit,
			ProcessingDelay:    rc.ProcessingDelay,
			OnComplete:         hook,
		})
		if err != nil {
			t.Stop()
			return nil, err
		}
		t.Hosts = append(t.Hosts, st)
	}
	return t, nil
}

// AllReduce starts the session on every host.
func (t *Tree) AllReduce() error {
	for _, h := range t.Hosts {
		if err := h.AllReduce(); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether every host has completed its session.
func (t *Tree) Done() bool {
	for _, h := range t.Hosts {
		if !h.Completed() {
			return false
		}
	}
	return len(t.Hosts) > 0
}

func (t *Tree) Stop() {
	for _, h := range t.Hosts {
		h.Stop()
	}
	for _, e := range t.Switches {
		e.Stop()
	}
}
