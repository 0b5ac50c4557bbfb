package pgraph

import "testing"

func TestPgraphT1(t *testing.T) {
	g := NewGraph()
	g.AddVertex("a")
	g.AddVertex("b")
	g.AddVertex("c")
	if err := g.AddEdge("a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge("b", "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := g.FindCycle(); ok {
		t.Fatalf("expected no cycle in a linear chain")
	}

	order, ok := g.TopologicalSort()
	if !ok {
		t.Fatalf("expected a valid topological order")
	}
	pos := map[string]int{}
	for i, v := range order {
		pos[v] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Fatalf("topological order violated: %v", order)
	}
}

func TestPgraphT2_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddVertex("a")
	g.AddVertex("b")
	g.AddVertex("c")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")
	_ = g.AddEdge("c", "a") // cycle

	path, ok := g.FindCycle()
	if !ok {
		t.Fatalf("expected a cycle to be found")
	}
	seen := map[string]bool{}
	for _, v := range path {
		seen[v] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Fatalf("cycle path %v missing vertex %q", path, want)
		}
	}
	if path[0] != path[len(path)-1] {
		t.Fatalf("cycle path should start and end on the repeated vertex: %v", path)
	}

	if _, ok := g.TopologicalSort(); ok {
		t.Fatalf("expected topological sort to fail on a cyclic graph")
	}
}

func TestPgraphT3_DeterministicOrder(t *testing.T) {
	build := func() *Graph {
		g := NewGraph()
		for _, v := range []string{"n1", "n2", "n3", "n4"} {
			g.AddVertex(v)
		}
		_ = g.AddEdge("n1", "n3")
		_ = g.AddEdge("n2", "n3")
		_ = g.AddEdge("n3", "n4")
		return g
	}

	g1, g2 := build(), build()
	o1, ok1 := g1.TopologicalSort()
	o2, ok2 := g2.TopologicalSort()
	if !ok1 || !ok2 {
		t.Fatalf("expected both sorts to succeed")
	}
	if len(o1) != len(o2) {
		t.Fatalf("length mismatch")
	}
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("non-deterministic order: %v != %v", o1, o2)
		}
	}
}

func TestPgraphT4_ZeroNodes(t *testing.T) {
	g := NewGraph()
	order, ok := g.TopologicalSort()
	if !ok {
		t.Fatalf("expected empty graph to sort trivially")
	}
	if len(order) != 0 {
		t.Fatalf("expected empty order, got %v", order)
	}
	if _, ok := g.FindCycle(); ok {
		t.Fatalf("expected no cycle in an empty graph")
	}
}

func TestPgraphT5_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddVertex("a")
	_ = g.AddEdge("a", "a")

	if _, ok := g.FindCycle(); !ok {
		t.Fatalf("expected a self-loop to be detected as a cycle")
	}
}

func TestPgraphT6_UnknownVertex(t *testing.T) {
	g := NewGraph()
	g.AddVertex("a")
	if err := g.AddEdge("a", "missing"); err == nil {
		t.Fatalf("expected an error adding an edge to an unknown vertex")
	}
}
