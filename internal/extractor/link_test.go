package extractor

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

func edgeKeys(g *ir.Graph, kind ir.EdgeKind) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Kind == kind {
			out = append(out, e.From+" -> "+e.To)
		}
	}
	return out
}

func TestLink_ResolvesDependenciesAndCalls(t *testing.T) {
	g, warnings := Link(extractAll(t, shopSources))
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	if len(g.Classes) != 5 {
		t.Errorf("expected 5 classes, got %d", len(g.Classes))
	}

	deps := edgeKeys(g, ir.EdgeDependsOn)
	wantDeps := []string{
		"com.acme.service.OrderService -> com.acme.repo.OrderRepository",
		"com.acme.service.OrderService -> com.acme.service.AuditSink",
		"com.acme.web.OrderController -> com.acme.service.OrderService",
	}
	if !equal(deps, wantDeps) {
		t.Errorf("expected deps %v, got %v", wantDeps, deps)
	}

	calls := edgeKeys(g, ir.EdgeCalls)
	wantCalls := []string{
		"com.acme.service.OrderService#find(Long) -> com.acme.repo.OrderRepository#findById(Long)",
		"com.acme.service.OrderService#place(OrderDto) -> com.acme.repo.OrderRepository#save(OrderDto)",
		"com.acme.web.OrderController#create(OrderDto) -> com.acme.service.OrderService#place(OrderDto)",
		"com.acme.web.OrderController#get(Long) -> com.acme.service.OrderService#find(Long)",
		"com.acme.web.OrderController#multi() -> com.acme.web.OrderController#helper()",
	}
	if !equal(calls, wantCalls) {
		t.Errorf("expected calls %v, got %v", wantCalls, calls)
	}

	for _, e := range g.Edges {
		if e.Kind == ir.EdgeDependsOn && e.From == "com.acme.web.OrderController" {
			if e.FieldName != "orderService" || e.InjectionType != ir.InjectionConstructor {
				t.Errorf("unexpected edge attributes %+v", e)
			}
		}
	}
}

func TestLink_OrderIndependent(t *testing.T) {
	results := extractAll(t, shopSources)
	a, _ := Link(results)

	reversed := make([]*UnitResult, len(results))
	for i, r := range results {
		reversed[len(results)-1-i] = r
	}
	b, _ := Link(reversed)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Error("expected identical graphs regardless of result order")
	}
}

func TestLink_DoesNotMutateResults(t *testing.T) {
	results := extractAll(t, shopSources)
	g, _ := Link(results)
	for _, c := range g.Classes {
		c.Labels = append(c.Labels, "mutated")
	}
	for _, r := range results {
		if r.Class != nil && r.Class.HasLabel("mutated") {
			t.Fatal("expected Link to copy nodes")
		}
	}
}

func TestLink_DuplicateClassFirstWins(t *testing.T) {
	src := "package com.acme;\npublic class Dup { void a() {} }\n"
	other := "package com.acme;\npublic class Dup { void b() {} }\n"
	results := []*UnitResult{
		extractOne(t, "z/Dup.java", other),
		extractOne(t, "a/Dup.java", src),
	}
	g, warnings := Link(results)
	if len(warnings) != 1 || warnings[0].Path != "z/Dup.java" {
		t.Fatalf("expected one warning for z/Dup.java, got %v", warnings)
	}
	if _, ok := g.Methods["com.acme.Dup#a()"]; !ok {
		t.Error("expected the first declaration's methods")
	}
	if _, ok := g.Methods["com.acme.Dup#b()"]; ok {
		t.Error("expected the duplicate's methods to be dropped")
	}
}

func TestLink_ResolutionOrder(t *testing.T) {
	sources := map[string]string{
		"a/Client.java": `package com.acme.a;

import com.acme.b.Store;
import com.acme.c.*;

public class Client {
    public Client(Store store, Local local, Wild wild, String name, java.util.UUID id, com.acme.c.Wild again) {}
}
`,
		"a/Store.java": "package com.acme.a;\npublic class Store {}\n",
		"a/Local.java": "package com.acme.a;\npublic class Local {}\n",
		"b/Store.java": "package com.acme.b;\npublic class Store {}\n",
		"c/Wild.java":  "package com.acme.c;\npublic class Wild {}\n",
	}
	g, _ := Link(extractAll(t, sources))
	got := edgeKeys(g, ir.EdgeDependsOn)
	want := []string{
		"com.acme.a.Client -> com.acme.a.Local",
		"com.acme.a.Client -> com.acme.b.Store",
		"com.acme.a.Client -> com.acme.c.Wild",
	}
	if !equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLink_SelfDependencyIgnored(t *testing.T) {
	src := "package com.acme;\npublic class Node {\n public Node(Node parent) {}\n}\n"
	g, _ := Link([]*UnitResult{extractOne(t, "Node.java", src)})
	if n := len(edgeKeys(g, ir.EdgeDependsOn)); n != 0 {
		t.Errorf("expected no self dependency, got %d", n)
	}
}

func TestLink_OverloadTieBreak(t *testing.T) {
	src := `package com.acme;

public class Calc {
    int sum(long a, long b) { return 0; }
    int sum(int a, int b) { return 0; }
    int sum(int a) { return 0; }
    void run() { sum(1, 2); }
}
`
	g, _ := Link([]*UnitResult{extractOne(t, "Calc.java", src)})
	calls := edgeKeys(g, ir.EdgeCalls)
	if len(calls) != 1 || calls[0] != "com.acme.Calc#run() -> com.acme.Calc#sum(int,int)" {
		t.Errorf("expected tie to pick sum(int,int), got %v", calls)
	}
}

type countingExtractor struct {
	calls atomic.Int32
	next  Extractor
}

func (c *countingExtractor) Extract(ctx context.Context, u scanner.Unit, src []byte) (*UnitResult, error) {
	c.calls.Add(1)
	return c.next.Extract(ctx, u, src)
}

func TestCache_ReusesUnchangedUnits(t *testing.T) {
	inner := &countingExtractor{next: NewJava()}
	cache := NewCache(inner)
	unit := scanner.Unit{Path: "/p/A.java", RelPath: "A.java"}
	src := []byte("public class A {}")

	first, err := cache.Extract(context.Background(), unit, src)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.Extract(context.Background(), unit, src)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the cached result to be reused")
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 extraction, got %d", inner.calls.Load())
	}

	if _, err := cache.Extract(context.Background(), unit, []byte("public class A { void x() {} }")); err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("expected changed source to be re-extracted, got %d calls", inner.calls.Load())
	}
	st := cache.Stats()
	if st.Hits != 1 || st.Misses != 2 || st.Size != 1 {
		t.Errorf("unexpected stats %+v", st)
	}

	cache.Forget("/p")
	if cache.Stats().Size != 0 {
		t.Error("expected Forget to drop entries under the root")
	}
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	inner := &countingExtractor{next: NewJava()}
	cache := NewCache(inner)
	unit := scanner.Unit{Path: "/p/B.java", RelPath: "B.java"}
	for i := 0; i < 2; i++ {
		if _, err := cache.Extract(context.Background(), unit, []byte("class {")); err == nil {
			t.Fatal("expected an error")
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("expected 2 extraction attempts, got %d", inner.calls.Load())
	}
}

func equal(got, want []string) bool {
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	if len(g) != len(w) {
		return false
	}
	for i := range g {
		if g[i] != w[i] {
			return false
		}
	}
	return true
}
