package plan

import (
	"path"
	"testing"

	"github.com/Qccccc512/incnet/srcs/go/base"
)

func Test_GenTreeConfig(t *testing.T) {
	tc, err := GenTreeConfig(2, 100, 2048, 2048, 3, 1, base.SUM)
	if err != nil {
		t.Fatalf("GenTreeConfig: %v", err)
	}
	if len(tc.Switches) != 1 || len(tc.Hosts) != 2 {
		t.Fatalf("got %d switches, %d hosts", len(tc.Switches), len(tc.Hosts))
	}
	wantHosts := []HostConfig{
		{Local: `10.0.1.1:1`, Switch: `10.0.0.1:3`},
		{Local: `10.0.1.2:2`, Switch: `10.0.0.1:4`},
	}
	for i, want := range wantHosts {
		if tc.Hosts[i] != want {
			t.Errorf("host %d: got %v, want %v", i, tc.Hosts[i], want)
		}
	}
	links, err := tc.Switches[0].LinkList()
	if err != nil {
		t.Fatalf("LinkList: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	for i, l := range links {
		if !l.ToChild {
			t.Errorf("link %d should face a son", i)
		}
	}
}

func Test_GenTreeConfig_uniqueQPs(t *testing.T) {
	tc, err := GenTreeConfig(4, 1, 2048, 2048, 2048, 1, base.SUM)
	if err != nil {
		t.Fatalf("GenTreeConfig: %v", err)
	}
	seen := make(map[uint16]bool)
	record := func(e *Endpoint) {
		if seen[e.QP] {
			t.Errorf("queue pair %d assigned twice", e.QP)
		}
		seen[e.QP] = true
	}
	for _, hc := range tc.Hosts {
		local, _, err := hc.Endpoints()
		if err != nil {
			t.Fatalf("Endpoints: %v", err)
		}
		record(local)
	}
	for _, sc := range tc.Switches {
		links, err := sc.LinkList()
		if err != nil {
			t.Fatalf("LinkList: %v", err)
		}
		for i := range links {
			record(&links[i].Local)
		}
	}
	if len(seen) != 12 {
		t.Errorf("got %d queue pairs, want 12", len(seen))
	}
	for q := uint16(1); q <= 12; q++ {
		if !seen[q] {
			t.Errorf("queue pair %d missing", q)
		}
	}
}

func Test_TopoConfigFile(t *testing.T) {
	tc, err := GenTreeConfig(4, 1, 1024, 64, 16, 1, base.AVERAGE)
	if err != nil {
		t.Fatalf("GenTreeConfig: %v", err)
	}
	dir := t.TempDir()
	for _, name := range []string{`topo.yaml`, `topo.json`} {
		filename := path.Join(dir, name)
		if err := tc.WriteToFile(filename); err != nil {
			t.Fatalf("WriteToFile(%s): %v", name, err)
		}
		got, err := ReadTopoConfig(filename)
		if err != nil {
			t.Fatalf("ReadTopoConfig(%s): %v", name, err)
		}
		if got.Group != tc.Group || got.Packets != tc.Packets || got.Op != tc.Op {
			t.Errorf("%s: got %+v, want %+v", name, got, tc)
		}
		if len(got.Hosts) != len(tc.Hosts) || len(got.Switches) != len(tc.Switches) {
			t.Errorf("%s: topology not preserved", name)
		}
		op, err := got.Operation()
		if err != nil {
			t.Fatalf("Operation: %v", err)
		}
		if *op != base.AVERAGE {
			t.Errorf("got op %s, want AVERAGE", op)
		}
	}
	if err := tc.WriteToFile(path.Join(dir, `topo.txt`)); err == nil {
		t.Errorf("unknown extension should fail")
	}
}
