package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/remote"
	"github.com/rasto/lcmc-sub001/pkg/remote/fake"
	"github.com/rasto/lcmc-sub001/pkg/source"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

type testEnv struct {
	server *Server
	poller *engine.Poller
	src    *source.StaticSource
	exec   *fake.Executor
	store  *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	snap := crm.NewMemorySnapshot().
		AddPrimitive("ip1", crm.ResourceAgent{Class: "ocf", Provider: "heartbeat", Type: "IPaddr2"}, map[string]string{"ip": "10.0.0.1"}).
		AddPrimitive("d1", crm.ResourceAgent{Class: "ocf", Provider: "heartbeat", Type: "Dummy"}, nil).
		AddGroup("g1", nil, "d1").
		AddTopLevel("ip1", "g1").
		AddOrder(crm.OrderData{ID: "ord1", Rsc: "ip1", RscThen: "g1", Score: "INFINITY"})

	st, err := store.NewStore(filepath.Join(t.TempDir(), "lcmc.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := source.NewStaticSource("cluster", snap)
	g := graph.NewView()
	eng := reconcile.NewEngine(registry.New(), g, reconcile.Options{})
	p := engine.NewPoller(src, eng, nil, time.Hour, zerolog.Nop())
	p.SetJournal(st)
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}

	topo := engine.NewHostTopology("alpha", "beta")
	topo.ObserveHost("alpha", nil, time.Now())

	exec := &fake.Executor{}
	console := engine.NewConsole(p, g, engine.ConsoleConfig{
		Hosts:    []string{"alpha", "beta"},
		Executor: exec,
		Leases:   st,
	}, zerolog.Nop())

	s := NewServer(Deps{
		Views:   eng.Registry(),
		Poller:  p,
		Console: console,
		Graph:   g,
		Passes:  st,
		Hosts:   topo,
		Reports: st,
		Logger:  zerolog.Nop(),
	}, "")
	return &testEnv{server: s, poller: p, src: src, exec: exec, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestSecureHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	withSecureHeaders(handler).ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
	}
	for key, expected := range expectedHeaders {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("Header %s: expected %q, got %q", key, expected, got)
		}
	}
}

func TestHealthAndTrace(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/v1/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected health response: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("Expected a generated trace id")
	}

	req := httptest.NewRequest("GET", "/v1/health", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "abc123" {
		t.Errorf("Expected trace id to be propagated, got %q", got)
	}

	if w := env.do(t, "POST", "/v1/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "lcmc_passes_total") {
		t.Errorf("Expected lcmc metrics, got %d", w.Code)
	}
}

func TestResources(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/v1/resources", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decode[ResourcesResponse](t, w)
	var ids []string
	for _, e := range resp.Tree {
		ids = append(ids, e.Node.ID)
	}
	if strings.Join(ids, ",") != "ip1,g1,d1" {
		t.Errorf("Unexpected tree order: %v", ids)
	}
	if resp.Tree[2].Depth != 1 {
		t.Errorf("Expected d1 at depth 1, got %d", resp.Tree[2].Depth)
	}
	if resp.StructureSeq == 0 || resp.StructureSeq > resp.Seq {
		t.Errorf("Unexpected sequence numbers: %+v", resp)
	}

	w = env.do(t, "GET", "/v1/resources/ip1", nil)
	n := decode[registry.NodeView](t, w)
	if n.Params["ip"] != "10.0.0.1" {
		t.Errorf("Unexpected node: %+v", n)
	}
	if w := env.do(t, "GET", "/v1/resources/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestAddAndRemoveResource(t *testing.T) {
	env := newTestEnv(t)

	req := AddResourceRequest{ID: "d2", Class: "ocf", Provider: "heartbeat", Type: "Dummy", ParentID: "g1"}
	w := env.do(t, "POST", "/v1/resources", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if n := decode[registry.NodeView](t, w); !n.IsNew || n.ParentID != "g1" {
		t.Errorf("Unexpected node: %+v", n)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", req, http.StatusConflict},
		{"missing fields", AddResourceRequest{ID: "x"}, http.StatusBadRequest},
		{"bad json", "{", http.StatusBadRequest},
		{"missing parent", AddResourceRequest{ID: "d3", Class: "ocf", Type: "Dummy", ParentID: "nope"}, http.StatusNotFound},
		{"bad parent", AddResourceRequest{ID: "d3", Class: "ocf", Type: "Dummy", ParentID: "ip1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/v1/resources", tt.body); w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	if w := env.do(t, "DELETE", "/v1/resources/ip1", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a cluster resource, got %d", w.Code)
	}
	w = env.do(t, "DELETE", "/v1/resources/d2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp := decode[RemoveResponse](t, w); len(resp.Removed) != 1 || resp.Removed[0] != "d2" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if w := env.do(t, "DELETE", "/v1/resources/d2", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestPlaceholders(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/v1/placeholders", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	ph := decode[registry.NodeView](t, w)
	if ph.Kind != crm.KindPlaceholder || !ph.IsNew {
		t.Errorf("Unexpected placeholder: %+v", ph)
	}

	list := decode[[]registry.NodeView](t, env.do(t, "GET", "/v1/placeholders", nil))
	// ord1 is a direct order and has no placeholder
	if len(list) != 1 || list[0].ID != ph.ID {
		t.Errorf("Unexpected placeholders: %+v", list)
	}
}

func TestGraph(t *testing.T) {
	env := newTestEnv(t)
	g := decode[graph.Graph](t, env.do(t, "GET", "/v1/graph", nil))
	if len(g.Nodes) != 3 || len(g.Edges) != 1 {
		t.Fatalf("Expected 3 vertices and 1 edge, got %d and %d", len(g.Nodes), len(g.Edges))
	}
	if e := g.Edges[0]; e.FromID != "ip1" || e.ToID != "g1" || e.Type != graph.EdgeOrder {
		t.Errorf("Unexpected edge: %+v", e)
	}
}

func TestPassesAndStatus(t *testing.T) {
	env := newTestEnv(t)

	passes := decode[[]*store.PassRecord](t, env.do(t, "GET", "/v1/passes?limit=5", nil))
	if len(passes) != 1 || passes[0].Added != 3 {
		t.Fatalf("Unexpected passes: %+v", passes)
	}

	w := env.do(t, "GET", "/v1/passes/"+passes[0].PassID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/v1/passes/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	status := decode[StatusResponse](t, env.do(t, "GET", "/v1/status", nil))
	if status.Pass.PassID != passes[0].PassID || status.Nodes != 3 {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestPoll(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/v1/poll", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}

	w = env.do(t, "POST", "/v1/poll?wait=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp := decode[PollResponse](t, w); resp.Status != "completed" || resp.PassID == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	env.src.Fail(errors.New("connection refused"))
	w = env.do(t, "POST", "/v1/poll?wait=true", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if resp := decode[PollResponse](t, w); !strings.Contains(resp.Error, "cluster status unavailable") {
		t.Errorf("Unexpected error: %q", resp.Error)
	}

	if w := env.do(t, "GET", "/v1/poll", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestApply(t *testing.T) {
	env := newTestEnv(t)
	env.exec.ExpectCommands(
		&fake.ExpectedCmd{Host: "alpha", Command: "crm resource start ip1", ResultOutput: []byte("done")},
		&fake.ExpectedCmd{Host: "alpha", Command: "crm resource stop nope", ResultErr: &remote.ExitError{Host: "alpha", Code: 1}},
	)

	w := env.do(t, "POST", "/v1/apply", ApplyRequest{Command: "crm resource start ip1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if res := decode[engine.ApplyResult](t, w); res.Host != "alpha" || res.Output != "done" {
		t.Errorf("Unexpected result: %+v", res)
	}

	w = env.do(t, "POST", "/v1/apply", ApplyRequest{Command: "crm resource stop nope"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["exit_code"] != float64(1) {
		t.Errorf("Expected exit code 1, got %v", body)
	}

	if w := env.do(t, "POST", "/v1/apply", ApplyRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}

	env.store.Acquire(context.Background(), engine.ApplyLease, "someone-else", time.Minute)
	if w := env.do(t, "POST", "/v1/apply", ApplyRequest{Command: "true"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	env.exec.Verify(t)
}

func TestReports(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/v1/reports/passes?changed=true", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("Expected CSV, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "started_at,pass_id") {
		t.Errorf("Unexpected report:\n%s", w.Body.String())
	}

	if w := env.do(t, "GET", "/v1/reports/usage", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/v1/reports/passes?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestClusterHosts(t *testing.T) {
	env := newTestEnv(t)
	hosts := decode[[]engine.ClusterHost](t, env.do(t, "GET", "/v1/cluster/hosts", nil))
	if len(hosts) != 2 || hosts[0].Status != engine.HostOnline || hosts[1].Status != engine.HostUnknown {
		t.Errorf("Unexpected hosts: %+v", hosts)
	}
}

func TestUnavailableDependencies(t *testing.T) {
	s := NewServer(Deps{Logger: zerolog.Nop()}, "")
	for _, tc := range []struct{ method, path string }{
		{"GET", "/v1/resources"},
		{"GET", "/v1/graph"},
		{"GET", "/v1/passes"},
		{"GET", "/v1/cluster/hosts"},
		{"POST", "/v1/poll"},
		{"POST", "/v1/placeholders"},
	} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestRecovery(t *testing.T) {
	s := NewServer(Deps{Logger: zerolog.Nop()}, "")
	h := s.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}
