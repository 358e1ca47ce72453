package plan

import (
	"bytes"
	"errors"
	"fmt"
)

type Vertices []int

func (vs *Vertices) Append(v int) {
	*vs = append(*vs, v)
}

type Node struct {
	Rank  int
	Prevs Vertices
	Nexts Vertices
}

// Graph is an aggregation tree. Edges point from father to son, so
// Nexts of an inner node are the nodes it aggregates from and
// broadcasts to.
type Graph struct {
	Nodes []Node
}

func NewGraph(n int) *Graph {
	var nodes []Node
	for i := 0; i < n; i++ {
		nodes = append(nodes, Node{Rank: i})
	}
	return &Graph{
		Nodes: nodes,
	}
}

func NewGraphFromTreeArray(tree []int32) *Graph {
	g := NewGraph(len(tree))
	for i, father := range tree {
		if int32(i) != father {
			g.AddEdge(int(father), int(i))
		}
	}
	return g
}

var errNotPowerOfTwo = errors.New("host count must be a power of two")

// NewAggregationTree builds a complete binary tree with one leaf per
// host: nodes 0..hosts-2 are switches, nodes hosts-1..2*hosts-2 are
// hosts, and node i fathers nodes 2i+1 and 2i+2.
func NewAggregationTree(hosts int) (*Graph, error) {
	if hosts < 2 || hosts&(hosts-1) != 0 {
		return nil, errNotPowerOfTwo
	}
	g := NewGraph(2*hosts - 1)
	for i := 0; i < hosts-1; i++ {
		g.AddEdge(i, 2*i+1)
		g.AddEdge(i, 2*i+2)
	}
	return g, nil
}

func (g *Graph) AddEdge(i, j int) {
	g.Nodes[i].Nexts.Append(j)
	g.Nodes[j].Prevs.Append(i)
}

func (g Graph) Prevs(i int) []int {
	return g.Nodes[i].Prevs
}

func (g Graph) Nexts(i int) []int {
	return g.Nodes[i].Nexts
}

func (g Graph) Root() int {
	for i, n := range g.Nodes {
		if len(n.Prevs) == 0 {
			return i
		}
	}
	return -1
}

func (g Graph) IsLeaf(i int) bool {
	return len(g.Nodes[i].Nexts) == 0
}

func (g *Graph) DebugString() string {
	b := &bytes.Buffer{}
	fmt.Fprintf(b, "[%d]{", len(g.Nodes))
	for i, n := range g.Nodes {
		for _, j := range n.Nexts {
			fmt.Fprintf(b, "(%d->%d)", i, j)
		}
	}
	fmt.Fprintf(b, "}")
	return b.String()
}
