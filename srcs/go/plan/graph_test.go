package plan

import "testing"

type edge struct {
	from int
	to   int
}

func isValidTreeWithRoot(g *Graph, root int) bool {
	k := len(g.Nodes)
	m := make(map[edge]int)
	for i := 0; i < k; i++ {
		if g.Nodes[i].Rank != i {
			return false
		}
		for _, j := range g.Nodes[i].Nexts {
			e := edge{i, j}
			if m[e]++; m[e] > 1 {
				return false
			}
		}
	}
	p := make(map[int]int)
	for i := 0; i < k; i++ {
		for _, j := range g.Nodes[i].Nexts {
			if _, ok := p[j]; ok {
				return false
			}
			p[j] = i
		}
	}
	if len(p) != k-1 {
		return false
	}
	if _, ok := p[root]; ok {
		return false
	}
	return true
}

func Test_aggregationTree(t *testing.T) {
	for _, hosts := range []int{2, 4, 32} {
		g, err := NewAggregationTree(hosts)
		if err != nil {
			t.Fatalf("NewAggregationTree(%d): %v", hosts, err)
		}
		if !isValidTreeWithRoot(g, 0) {
			t.Errorf("tree not generated correctly for %d hosts", hosts)
		}
		if n := len(g.Nodes); n != 2*hosts-1 {
			t.Errorf("got %d nodes, want %d", n, 2*hosts-1)
		}
		for i := 0; i < hosts-1; i++ {
			if g.IsLeaf(i) {
				t.Errorf("switch %d has no sons", i)
			}
			if n := len(g.Nexts(i)); n != 2 {
				t.Errorf("switch %d has %d sons, want 2", i, n)
			}
		}
		for i := hosts - 1; i < 2*hosts-1; i++ {
			if !g.IsLeaf(i) {
				t.Errorf("host node %d has sons", i)
			}
		}
		if root := g.Root(); root != 0 {
			t.Errorf("got root %d, want 0", root)
		}
	}
	for _, hosts := range []int{0, 1, 3, 6} {
		if _, err := NewAggregationTree(hosts); err == nil {
			t.Errorf("NewAggregationTree(%d) should fail", hosts)
		}
	}
}

func Test_graphFromTreeArray(t *testing.T) {
	g := NewGraphFromTreeArray([]int32{0, 0, 0, 1, 1})
	if !isValidTreeWithRoot(g, 0) {
		t.Errorf("tree not generated correctly")
	}
	if got, want := len(g.Nexts(1)), 2; got != want {
		t.Errorf("got %d sons, want %d", got, want)
	}
}
