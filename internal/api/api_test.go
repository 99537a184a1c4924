package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/gateway"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var sources = map[string]string{
	"src/main/java/com/acme/web/OrderController.java": `package com.acme.web;

import com.acme.core.OrderService;
import org.springframework.web.bind.annotation.*;

@RestController
@RequestMapping("/orders")
public class OrderController {
    private final OrderService orders;

    public OrderController(OrderService orders) {
        this.orders = orders;
    }

    @GetMapping
    public String list() {
        return orders.all();
    }
}
`,
	"src/main/java/com/acme/core/OrderService.java": `package com.acme.core;

import org.springframework.stereotype.Service;

@Service
public class OrderService {
    public String all() {
        return "[]";
    }
}
`,
}

func writeSources(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, src := range sources {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

type fixture struct {
	srv   *Server
	coord *jobs.Coordinator
	hub   *Hub
}

func newFixture(t *testing.T, token string, anonymousWrite bool) *fixture {
	t.Helper()
	metrics := observability.NewMetrics()
	store := graph.NewStore(graph.Options{Metrics: metrics})
	hub := NewHub(nil)
	coord, err := jobs.NewCoordinator(jobs.Options{Store: store, Publisher: hub, Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	qs, err := query.New(store, query.Options{Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(qs.Close)
	projects := project.NewService(project.NewMemoryRepository(), nil)
	gw, err := gateway.New(gateway.Options{Query: qs, Jobs: coord, Projects: projects, Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	health := server.NewHealthServer(&server.HealthConfig{Version: "test"})
	health.SetReady(true)

	srv, err := NewServer(Options{
		Projects:            projects,
		Jobs:                coord,
		Query:               qs,
		Gateway:             gw,
		Store:               store,
		Hub:                 hub,
		Health:              health.Handler(),
		Metrics:             metrics.Handler(),
		PrivilegedToken:     token,
		AllowAnonymousWrite: anonymousWrite,
		KeepAlive:           time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{srv: srv, coord: coord, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (f *fixture) analyzed(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(project.Request{Name: "shop", Path: writeSources(t)})
	w := f.do(t, http.MethodPost, "/api/projects", string(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: %d %s", w.Code, w.Body.String())
	}
	p := decode[project.Project](t, w)

	w = f.do(t, http.MethodPost, "/api/projects/"+p.ID+"/analyses", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger: %d %s", w.Code, w.Body.String())
	}
	job := decode[jobs.Job](t, w)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.coord.Wait(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.State != jobs.StateCompleted {
		t.Fatalf("expected completed, got %s (%+v)", done.State, done.Error)
	}
	return p.ID
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindConfiguration, http.StatusBadRequest},
		{apperr.KindInvalidArgument, http.StatusBadRequest},
		{apperr.KindPermission, http.StatusForbidden},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindGraphIntegrity, http.StatusUnprocessableEntity},
		{apperr.KindTimeout, http.StatusGatewayTimeout},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.kind); got != tt.want {
			t.Errorf("StatusOf(%s): expected %d, got %d", tt.kind, tt.want, got)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "", true)
	if w := f.do(t, http.MethodGet, "/live", ""); w.Code != http.StatusOK {
		t.Errorf("expected /live 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Errorf("expected /ready 200, got %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("unexpected metrics response %d", w.Code)
	}
}

func TestProjects_CRUD(t *testing.T) {
	f := newFixture(t, "", true)

	if w := f.do(t, http.MethodPost, "/api/projects", `{"name":"shop"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing path, got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/projects", `{"name":`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/projects", `{"name":"shop","path":"/src/shop","include_packages":["com.acme.**"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	p := decode[project.Project](t, w)

	w = f.do(t, http.MethodGet, "/api/projects", "")
	list := decode[struct {
		Projects []project.Project `json:"projects"`
	}](t, w)
	if len(list.Projects) != 1 || list.Projects[0].ID != p.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	w = f.do(t, http.MethodPut, "/api/projects/"+p.ID, `{"name":"shop2","path":"/src/shop"}`)
	if w.Code != http.StatusOK || decode[project.Project](t, w).Name != "shop2" {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	if w := f.do(t, http.MethodDelete, "/api/projects/"+p.ID, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/api/projects/"+p.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	if body := decode[errorBody](t, w); body.Error == nil || body.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error body %s", w.Body.String())
	}
}

func TestAnalyzeAndQuery(t *testing.T) {
	f := newFixture(t, "", true)
	id := f.analyzed(t)

	w := f.do(t, http.MethodGet, "/api/projects/"+id, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"graph_version":1`) {
		t.Fatalf("project view: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/projects/"+id+"/jobs", "")
	if list := decode[struct {
		Jobs []jobs.Job `json:"jobs"`
	}](t, w); len(list.Jobs) != 1 || list.Jobs[0].Progress != 100 {
		t.Fatalf("jobs: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/projects/"+id+"/classes?label=service", "")
	classes := decode[query.ClassList](t, w)
	if len(classes.Classes) != 1 || classes.Classes[0].ID != "com.acme.core.OrderService" {
		t.Fatalf("classes: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/projects/"+id+"/endpoints?http_method=get", "")
	if eps := decode[query.EndpointList](t, w); len(eps.Endpoints) != 1 || eps.Endpoints[0].Path != "/orders" {
		t.Fatalf("endpoints: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/projects/"+id+"/classes/com.acme.web.OrderController/dependencies", "")
	rep := decode[query.DependencyReport](t, w)
	if len(rep.Dependencies) != 1 || rep.Dependencies[0].ID != "com.acme.core.OrderService" {
		t.Fatalf("dependencies: %s", w.Body.String())
	}

	if w := f.do(t, http.MethodGet, "/api/projects/"+id+"/classes/com.acme.web.OrderController/dependencies?max_depth=x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad max_depth, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/projects/missing/classes", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", w.Code)
	}
}

func TestReports_CachedAndIdentical(t *testing.T) {
	f := newFixture(t, "", true)
	id := f.analyzed(t)
	path := "/api/projects/" + id + "/reports/dependencies?format=markdown&class_id=com.acme.web.OrderController"

	first := f.do(t, http.MethodGet, path, "")
	second := f.do(t, http.MethodGet, path, "")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("report: %d %d %s", first.Code, second.Code, first.Body.String())
	}
	if first.Header().Get("X-Cache") != "miss" || second.Header().Get("X-Cache") != "hit" {
		t.Errorf("cache headers: %q %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("report bodies differ")
	}
	if ct := first.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type %q", ct)
	}

	dot := f.do(t, http.MethodGet, "/api/projects/"+id+"/reports/graph?format=dot", "")
	if dot.Code != http.StatusOK || !strings.HasPrefix(dot.Body.String(), "digraph dependencies {") {
		t.Fatalf("dot: %d %s", dot.Code, dot.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/api/projects/"+id+"/reports/graph?format=json", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for graph json, got %d", w.Code)
	}
}

func TestPrivilegedToken(t *testing.T) {
	f := newFixture(t, "s3cret", false)

	w := f.do(t, http.MethodPost, "/api/projects", `{"name":"shop","path":"/src/shop"}`)
	p := decode[project.Project](t, w)

	w = f.do(t, http.MethodPost, "/api/projects/"+p.ID+"/analyses", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/projects/"+p.ID+"/analyses", "", "Authorization", "Bearer wrong")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with a wrong token, got %d", w.Code)
	}

	tools := func(header ...string) int {
		w := f.do(t, http.MethodGet, "/api/tools", "", header...)
		return len(decode[struct {
			Tools []gateway.Descriptor `json:"tools"`
		}](t, w).Tools)
	}
	if n := tools(); n != 10 {
		t.Errorf("expected 10 read-only tools, got %d", n)
	}
	if n := tools("Authorization", "Bearer s3cret"); n != 12 {
		t.Errorf("expected 12 tools with the token, got %d", n)
	}

	w = f.do(t, http.MethodPost, "/api/tools/"+gateway.ToolTriggerAnalysis, `{"project_id":"`+p.ID+`"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for write tool, got %d", w.Code)
	}
}

func TestDefaultIsReadOnly(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(t, http.MethodPost, "/api/projects", `{"name":"shop","path":"/src/shop"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	p := decode[project.Project](t, w)

	w = f.do(t, http.MethodGet, "/api/tools", "")
	tools := decode[struct {
		Tools []gateway.Descriptor `json:"tools"`
	}](t, w).Tools
	if len(tools) != 10 {
		t.Errorf("expected 10 read-only tools, got %d", len(tools))
	}
	for _, d := range tools {
		if d.Privileged || d.Name == gateway.ToolTriggerAnalysis || d.Name == gateway.ToolCancelJob {
			t.Errorf("expected no write tools by default, got %s", d.Name)
		}
	}

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/projects/" + p.ID + "/analyses", ""},
		{http.MethodPost, "/api/jobs/j1/cancel", ""},
		{http.MethodDelete, "/api/projects/" + p.ID, ""},
		{http.MethodPost, "/api/tools/" + gateway.ToolTriggerAnalysis, `{"project_id":"` + p.ID + `"}`},
		{http.MethodPost, "/api/tools/" + gateway.ToolCancelJob, `{"job_id":"j1"}`},
	}
	for _, tt := range tests {
		w := f.do(t, tt.method, tt.path, tt.body)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d %s", tt.method, tt.path, w.Code, w.Body.String())
		}
	}
	if jobs := f.coord.List(p.ID); len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

func TestTools(t *testing.T) {
	f := newFixture(t, "", true)

	w := f.do(t, http.MethodPost, "/api/tools/nope", `{}`)
	if w.Code != http.StatusNotFound || decode[gateway.Result](t, w).Code != gateway.CodeUnknownTool {
		t.Fatalf("unknown tool: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/api/tools/"+gateway.ToolListClasses, `{}`)
	if w.Code != http.StatusBadRequest || decode[gateway.Result](t, w).Code != "INVALID_ARGUMENT" {
		t.Fatalf("invalid call: %d %s", w.Code, w.Body.String())
	}

	id := f.analyzed(t)
	w = f.do(t, http.MethodPost, "/api/tools/"+gateway.ToolExportContext, `{"project_id":"`+id+`"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Architecture context") {
		t.Fatalf("export_context: %d %s", w.Code, w.Body.String())
	}
}

func TestEvents_StreamsProjectEvents(t *testing.T) {
	f := newFixture(t, "", true)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?project=p1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	lines := bufio.NewReader(resp.Body)
	for {
		line, err := lines.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "event: connected") {
			break
		}
	}

	f.hub.Publish(jobs.Event{Type: jobs.EventQueued, JobID: "other", ProjectID: "p2"})
	f.hub.Publish(jobs.Event{Type: jobs.EventQueued, JobID: "mine", ProjectID: "p1"})

	for {
		line, err := lines.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(line, "data: {\"type\"") {
			continue
		}
		if strings.Contains(line, `"job_id":"other"`) {
			t.Fatal("received an event for another project")
		}
		if strings.Contains(line, `"job_id":"mine"`) {
			break
		}
	}
}

func TestHub_DropsWhenClientLags(t *testing.T) {
	h := NewHub(nil)
	c := h.Register("")
	for i := 0; i < clientBuffer+5; i++ {
		h.Publish(jobs.Event{Type: jobs.EventProgress, JobID: "j", ProjectID: "p"})
	}
	if len(c.events) != clientBuffer {
		t.Fatalf("expected a full buffer, got %d", len(c.events))
	}
	if c.dropped != 5 {
		t.Fatalf("expected 5 dropped, got %d", c.dropped)
	}
	h.Unregister(c)
	if h.Clients() != 0 {
		t.Fatal("client not removed")
	}
}
