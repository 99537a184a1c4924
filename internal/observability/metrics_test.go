package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lezhik/SpringTwin/internal/ir"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_JobsAndUnits(t *testing.T) {
	m := NewMetrics()
	m.JobFinished("completed", 2*time.Second)
	m.JobFinished("completed", time.Second)
	m.JobFinished("failed", time.Second)
	m.UnitProcessed("extracted")
	m.UnitProcessed("skipped")

	out := scrape(t, m)
	for _, want := range []string{
		`springtwin_jobs_total{state="completed"} 2`,
		`springtwin_jobs_total{state="failed"} 1`,
		`springtwin_job_duration_seconds_count 3`,
		`springtwin_units_total{outcome="extracted"} 1`,
		`springtwin_units_total{outcome="skipped"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestMetrics_GraphSizeAndForget(t *testing.T) {
	m := NewMetrics()
	m.GraphSize("p1", ir.Counts{Classes: 3, Methods: 7, Endpoints: 2, Edges: 11})
	m.CommitObserved("applied")
	m.ProjectionFailed("neo4j")

	out := scrape(t, m)
	for _, want := range []string{
		`springtwin_graph_nodes{kind="class",project="p1"} 3`,
		`springtwin_graph_nodes{kind="edge",project="p1"} 11`,
		`springtwin_commits_total{result="applied"} 1`,
		`springtwin_projection_failures_total{projector="neo4j"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}

	m.ForgetProject("p1")
	if strings.Contains(scrape(t, m), `project="p1"`) {
		t.Error("expected p1 gauges to be removed")
	}
}

func TestMetrics_ToolCallsAndCache(t *testing.T) {
	m := NewMetrics()
	m.ToolCall("list_classes", "OK")
	m.ToolCall("list_classes", "OK")
	m.ToolCall("trigger_analysis", "CONFLICT")
	m.ReportCache(true)
	m.ReportCache(false)
	m.ReportCache(false)

	out := scrape(t, m)
	for _, want := range []string{
		`springtwin_tool_calls_total{code="OK",tool="list_classes"} 2`,
		`springtwin_tool_calls_total{code="CONFLICT",tool="trigger_analysis"} 1`,
		`springtwin_report_cache_total{result="hit"} 1`,
		`springtwin_report_cache_total{result="miss"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.UnitProcessed("extracted")
	if strings.Contains(scrape(t, b), "springtwin_units_total") {
		t.Error("expected registries to be independent")
	}
	if !strings.Contains(scrape(t, a), "go_goroutines") {
		t.Error("expected go collector metrics")
	}
}
