package inc

import (
	"testing"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/base"
	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/sim"
)

var (
	_ Network = (*sim.Net)(nil)
	_ Network = (*UDPNet)(nil)
)

type treeFixture struct {
	loop *event.Loop
	net  *sim.Net
	tree *Tree
	done int
}

func startTree(t *testing.T, hosts, packets, window, array int, loss float64, latency time.Duration, rc TreeConfig) *treeFixture {
	f := &treeFixture{loop: event.NewLoop()}
	f.net = sim.NewNet(f.loop, latency, loss, 42)
	topo, err := plan.GenTreeConfig(hosts, 1, array, window, packets, 1, base.SUM)
	if err != nil {
		t.Fatal(err)
	}
	rc.OnComplete = func(rank int) { f.done++ }
	f.tree, err = BuildTree(f.net, f.loop, topo, rc)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.tree.AllReduce(); err != nil {
		t.Fatal(err)
	}
	return f
}

func checkResults(t *testing.T, tree *Tree, packets int, want int32) {
	for r, h := range tree.Hosts {
		if !h.Completed() {
			t.Errorf("host %d did not complete", r)
			continue
		}
		recv := h.RecvBuffer()
		for psn := 0; psn < packets; psn++ {
			if recv[psn] != want {
				t.Errorf("host %d recv[%d] = %d, want %d", r, psn, recv[psn], want)
				break
			}
		}
	}
}

func Test_TreeTwoHosts(t *testing.T) {
	f := startTree(t, 2, 3, 8, 8, 0, time.Millisecond, TreeConfig{Payload: 64})
	f.loop.Run()
	checkResults(t, f.tree, 3, 2)
	if f.done != 2 {
		t.Errorf("%d completion hooks fired, want 2", f.done)
	}
	root := f.tree.Switches[0]
	st := root.Stats()
	if st.Committed != 3 || st.MaxDegree != 2 || st.NaksSent != 0 {
		t.Errorf("root stats %+v, want 3 commits, degree 2, no naks", st)
	}
	want := []uint32{8, 9, 10, 3, 4, 5, 6, 7}
	got := root.AggPSN(1)
	for i, w := range want {
		if got[i] != w {
			t.Errorf("aggPSN[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func Test_TreeSingleRecord(t *testing.T) {
	f := startTree(t, 2, 1, 8, 8, 0, time.Millisecond, TreeConfig{Payload: 64})
	f.loop.Run()
	checkResults(t, f.tree, 1, 2)
	root := f.tree.Switches[0]
	if st := root.Stats(); st.Committed != 1 {
		t.Errorf("root committed %d, want 1", st.Committed)
	}
	if got := root.AggPSN(1); got[0] != 8 || got[1] != 1 {
		t.Errorf("aggPSN = %v, only lane 0 should advance", got)
	}
}

func Test_TreeFourHostPipeline(t *testing.T) {
	const n = 2048
	f := startTree(t, 4, n, 64, 64, 0, 100*time.Microsecond, TreeConfig{
		Payload:         64,
		ProcessingDelay: 10 * time.Microsecond,
	})
	f.loop.Run()
	checkResults(t, f.tree, n, 4)
	if f.done != 4 {
		t.Errorf("%d completion hooks fired, want 4", f.done)
	}
	for i, en := range f.tree.Switches {
		if st := en.Stats(); st.Committed != n {
			t.Errorf("switch %d committed %d, want %d", i, st.Committed, n)
		}
	}
	if d := f.net.Dropped(); d != 0 {
		t.Errorf("lossless fabric dropped %d", d)
	}
}

func Test_TreeDeepFanIn(t *testing.T) {
	const n = 128
	f := startTree(t, 32, n, 128, 128, 0, 50*time.Microsecond, TreeConfig{
		Payload:         64,
		ProcessingDelay: 10 * time.Microsecond,
	})
	f.loop.Run()
	checkResults(t, f.tree, n, 32)
	if f.done != 32 {
		t.Errorf("%d completion hooks fired, want 32", f.done)
	}
	if len(f.tree.Switches) != 31 {
		t.Fatalf("tree has %d switches, want 31", len(f.tree.Switches))
	}
	for i, en := range f.tree.Switches {
		if st := en.Stats(); st.Committed != n {
			t.Errorf("switch %d committed %d, want %d", i, st.Committed, n)
		}
	}
}

func Test_TreeLossRecovery(t *testing.T) {
	const (
		n     = 2048
		hosts = 32
		array = 64
	)
	f := startTree(t, hosts, n, 256, array, 0.01, 100*time.Microsecond, TreeConfig{
		HostRetransmit:   500 * time.Microsecond,
		SwitchRetransmit: 2 * time.Millisecond,
		ProcessingDelay:  10 * time.Microsecond,
		Payload:          64,
	})
	f.loop.RunUntil(60 * time.Second)
	if !f.tree.Done() {
		t.Fatalf("tree did not finish under loss")
	}
	checkResults(t, f.tree, n, hosts)
	if f.done != hosts {
		t.Errorf("%d completion hooks fired, want %d", f.done, hosts)
	}
	if d := f.net.Dropped(); d == 0 {
		t.Errorf("loss was configured but nothing dropped")
	}
	var recovered int64
	for i, en := range f.tree.Switches {
		st := en.Stats()
		recovered += st.NaksSent + st.RetransmitFires
		if st.MaxDegree > 2 {
			t.Errorf("switch %d reached degree %d, fan-in is 2", i, st.MaxDegree)
		}
		got := en.AggPSN(1)
		for lane, psn := range got {
			if psn != uint32(lane)+n {
				t.Errorf("switch %d lane %d stopped at %d, want %d", i, lane, psn, lane+n)
			}
		}
	}
	if recovered == 0 {
		t.Errorf("loss recovered without any nak or retransmit")
	}
}

func Test_TreeConfigErrors(t *testing.T) {
	loop := event.NewLoop()
	net := sim.NewNet(loop, time.Millisecond, 0, 1)
	if _, err := BuildTree(net, loop, &plan.TopoConfig{FanIn: 2, Array: 8, Window: 8}, TreeConfig{}); err != errInvalidTopo {
		t.Errorf("BuildTree: %v, want %v", err, errInvalidTopo)
	}
}
