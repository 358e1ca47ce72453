package runner

import (
	"testing"

	"github.com/Qccccc512/incnet/srcs/go/plan"
)

func Test_JobProcs(t *testing.T) {
	hl, err := plan.ParseHostList(`10.0.3.1:2:host1,10.0.3.2:2:host2`)
	if err != nil {
		t.Fatal(err)
	}
	pl, err := hl.GenPeerList(4, plan.PortRange{Begin: 7000, End: 7001})
	if err != nil {
		t.Fatal(err)
	}
	j := Job{
		ID:       NewJobID(),
		Prog:     `inc-ring`,
		Args:     []string{`-packets`, `16`},
		HostList: hl,
		LogDir:   `logs`,
	}
	ps := j.CreateAllProcs(pl)
	if len(ps) != 4 {
		t.Fatalf("created %d procs, want 4", len(ps))
	}
	if name := ps[2].Name; name != `10.0.3.2.7000` {
		t.Errorf("proc name %s, want 10.0.3.2.7000", name)
	}
	for rank, p := range ps {
		if got := p.Envs[SelfRankEnvKey]; got != []string{`0`, `1`, `2`, `3`}[rank] {
			t.Errorf("rank %d env %s = %q", rank, SelfRankEnvKey, got)
		}
		if got := p.Envs[PeerListEnvKey]; got != pl.String() {
			t.Errorf("rank %d env %s = %q, want %q", rank, PeerListEnvKey, got, pl.String())
		}
		if p.Envs[JobIDEnvKey] != j.ID {
			t.Errorf("rank %d misses job id", rank)
		}
	}
	if ps[0].PubAddr != `host1` || ps[3].PubAddr != `host2` {
		t.Errorf("public addrs %q %q, want host1 host2", ps[0].PubAddr, ps[3].PubAddr)
	}
	second := j.CreateProcs(pl, plan.MustParseIPv4(`10.0.3.2`))
	if len(second) != 2 {
		t.Fatalf("host 10.0.3.2 got %d procs, want 2", len(second))
	}
	if got := second[0].Envs[SelfRankEnvKey]; got != `2` {
		t.Errorf("first proc on second host has rank %q, want 2", got)
	}
}

func Test_NewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	if a == b {
		t.Error("job ids collide")
	}
	if len(a) != 36 {
		t.Errorf("job id %q not in canonical form", a)
	}
}
