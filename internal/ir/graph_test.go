package ir

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestGraph_NormalizeSortsAndDedupes(t *testing.T) {
	g := NewGraph()
	g.Edges = []Edge{
		{Kind: EdgeDependsOn, From: "b", To: "a"},
		{Kind: EdgeContains, From: "a", To: "a#x()"},
		{Kind: EdgeDependsOn, From: "a", To: "b", FieldName: "first"},
		{Kind: EdgeDependsOn, From: "a", To: "b", FieldName: "second"},
	}
	g.Normalize()

	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(g.Edges))
	}
	want := []string{"CONTAINS|a|a#x()", "DEPENDS_ON|a|b", "DEPENDS_ON|b|a"}
	for i, e := range g.Edges {
		if e.Key() != want[i] {
			t.Errorf("edge %d: expected %s, got %s", i, want[i], e.Key())
		}
	}
	if g.Edges[1].FieldName != "first" {
		t.Errorf("expected first occurrence kept, got %q", g.Edges[1].FieldName)
	}
}

func TestGraph_NormalizeSortsNodeSets(t *testing.T) {
	g := NewGraph()
	g.Classes["a.B"] = &ClassNode{ID: "a.B", Labels: []string{"service", "component", "service"}, Modifiers: []string{"public", "final"}}
	g.Normalize()

	c := g.Classes["a.B"]
	if !reflect.DeepEqual(c.Labels, []string{"component", "service"}) {
		t.Errorf("unexpected labels %v", c.Labels)
	}
	if !reflect.DeepEqual(c.Modifiers, []string{"final", "public"}) {
		t.Errorf("unexpected modifiers %v", c.Modifiers)
	}
}

func TestGraph_NormalizeIsStableAcrossInputOrder(t *testing.T) {
	build := func(edges []Edge) []byte {
		g := NewGraph()
		g.Edges = edges
		g.Normalize()
		data, _ := json.Marshal(g)
		return data
	}
	e1 := Edge{Kind: EdgeCalls, From: "m1", To: "m2", Line: 4}
	e2 := Edge{Kind: EdgeCalls, From: "m0", To: "m2", Line: 9}
	e3 := Edge{Kind: EdgeExposes, From: "m1", To: "ep"}

	a := build([]Edge{e1, e2, e3})
	b := build([]Edge{e3, e1, e2})
	if string(a) != string(b) {
		t.Errorf("expected identical encodings\n%s\n%s", a, b)
	}
}

func TestIDs(t *testing.T) {
	params := []Parameter{{Name: "id", Type: "Long"}, {Name: "dto", Type: "OrderDto"}}
	sig := Signature("update", params)
	if sig != "update(Long,OrderDto)" {
		t.Errorf("expected update(Long,OrderDto), got %s", sig)
	}
	mid := MethodID("com.acme.OrderController", sig)
	if mid != "com.acme.OrderController#update(Long,OrderDto)" {
		t.Errorf("unexpected method id %s", mid)
	}
	eid := EndpointID(mid, "PUT", "/orders/{id}")
	if eid != "com.acme.OrderController#update(Long,OrderDto)@PUT /orders/{id}" {
		t.Errorf("unexpected endpoint id %s", eid)
	}
	if Signature("ping", nil) != "ping()" {
		t.Errorf("expected ping(), got %s", Signature("ping", nil))
	}
}

func TestEdgeKind_Ends(t *testing.T) {
	tests := []struct {
		kind     EdgeKind
		from, to Namespace
	}{
		{EdgeContains, NamespaceClass, NamespaceMethod},
		{EdgeExposes, NamespaceMethod, NamespaceEndpoint},
		{EdgeDependsOn, NamespaceClass, NamespaceClass},
		{EdgeCalls, NamespaceMethod, NamespaceMethod},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			from, to, ok := tt.kind.Ends()
			if !ok || from != tt.from || to != tt.to {
				t.Errorf("expected %s->%s, got %s->%s (ok=%v)", tt.from, tt.to, from, to, ok)
			}
		})
	}
	if _, _, ok := EdgeKind("OWNS").Ends(); ok {
		t.Error("expected unknown kind to report !ok")
	}
}

func TestGraph_LookupsAndCounts(t *testing.T) {
	g := NewGraph()
	g.Classes["a.A"] = &ClassNode{ID: "a.A"}
	g.Classes["a.B"] = &ClassNode{ID: "a.B"}
	g.Methods["a.A#run()"] = &MethodNode{ID: "a.A#run()", ClassID: "a.A"}
	g.Edges = []Edge{
		{Kind: EdgeContains, From: "a.A", To: "a.A#run()"},
		{Kind: EdgeDependsOn, From: "a.A", To: "a.B"},
	}

	if !g.Has(NamespaceClass, "a.B") || g.Has(NamespaceMethod, "a.B") {
		t.Error("namespace lookup mismatch")
	}
	if g.Node(NamespaceEndpoint, "x") != nil {
		t.Error("expected nil for missing endpoint")
	}
	if ids := g.IDs(NamespaceClass); !reflect.DeepEqual(ids, []string{"a.A", "a.B"}) {
		t.Errorf("unexpected ids %v", ids)
	}
	if n := len(g.EdgesTo(EdgeDependsOn, "a.B")); n != 1 {
		t.Errorf("expected 1 dependent, got %d", n)
	}
	c := g.Counts()
	if c.Classes != 2 || c.Methods != 1 || c.Endpoints != 0 || c.Edges != 2 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestSortedSet(t *testing.T) {
	if SortedSet(nil) != nil {
		t.Error("expected nil for nil input")
	}
	if SortedSet([]string{""}) != nil {
		t.Error("expected nil for blank-only input")
	}
	got := SortedSet([]string{"b", "a", "b"})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}
