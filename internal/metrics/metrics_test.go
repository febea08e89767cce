package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.AddIngest(4)
	m.AddIngest(2)
	m.IncSearch()
	m.AddGraphBuild(map[string]int{"concepts": 2})
	m.ObserveExternal("anthropic", "messages", nil, 10*time.Millisecond)
	m.ObserveExternal("anthropic", "messages", errors.New("boom"), 10*time.Millisecond)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)

	out := scrape(t, m)
	want := []string{
		"kb_documents_ingested_total 2",
		"kb_chunks_ingested_total 6",
		"kb_searches_total 1",
		"kb_graph_builds_total 1",
		`kb_graph_partial_failures_total{stage="concepts"} 2`,
		`kb_external_calls_total{op="messages",outcome="ok",service="anthropic"} 1`,
		`kb_external_calls_total{op="messages",outcome="error",service="anthropic"} 1`,
		`kb_http_requests_total{method="GET",route="/health",status="200"} 1`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("scrape missing %q", w)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncSearch()
	if strings.Contains(scrape(t, b), "kb_searches_total 1") {
		t.Error("registries should not share state")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.AddIngest(1)
	m.IncSearch()
	m.AddGraphBuild(nil)
	m.ObserveExternal("s", "o", nil, 0)
	m.ObserveHTTP("GET", "/", 200, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
