package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAggregatesByLabel(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/annotation", 200, 10*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/annotation", 200, 20*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/annotation", 404, time.Millisecond)

	var buf strings.Builder
	recorder.Write(&buf)
	output := buf.String()

	if !strings.Contains(output, `metaserver_http_requests_total{method="GET",path="/api/annotation",status="200"} 2`) {
		t.Fatalf("aggregated counter missing:\n%s", output)
	}
	if !strings.Contains(output, `metaserver_http_requests_total{method="GET",path="/api/annotation",status="404"} 1`) {
		t.Fatalf("status split missing:\n%s", output)
	}
}

func TestNormalizePathCollapsesIdentifiers(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/annotation/123e4567-e89b-12d3-a456-426614174000", "/api/annotation/:id"},
		{"/api/annotation/a42", "/api/annotation/:id"},
		{"/api/annotation", "/api/annotation"},
		{"/api/annotation/", "/api/annotation"},
		{"/", "/"},
		{"", "/"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.path); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestImportGaugeAndOutcomes(t *testing.T) {
	recorder := New()
	recorder.ImportStarted()
	recorder.ImportStarted()
	if recorder.ActiveImports() != 2 {
		t.Fatalf("gauge not incremented: %d", recorder.ActiveImports())
	}

	recorder.ImportFinished("succeeded")
	recorder.ImportFinished("MALFORMED")
	if recorder.ActiveImports() != 0 {
		t.Fatalf("gauge not decremented: %d", recorder.ActiveImports())
	}
	recorder.ImportFinished("failed")
	if recorder.ActiveImports() != 0 {
		t.Fatalf("gauge must not go negative: %d", recorder.ActiveImports())
	}

	counts := recorder.ImportCounts()
	if counts["succeeded"] != 1 || counts["malformed"] != 1 || counts["failed"] != 1 {
		t.Fatalf("unexpected outcome counters: %v", counts)
	}
}

func TestAuthDenialCounters(t *testing.T) {
	recorder := New()
	recorder.AuthorizationDenied("GET")
	recorder.AuthorizationDenied("GET")
	recorder.AuthorizationDenied("")

	counts := recorder.DenialCounts()
	if counts["get"] != 2 {
		t.Fatalf("verb counter wrong: %v", counts)
	}
	if counts["unknown"] != 1 {
		t.Fatalf("empty verb must count as unknown: %v", counts)
	}
}

func TestHandlerRendersExposition(t *testing.T) {
	recorder := New()
	recorder.CapabilityReloaded()
	recorder.SessionLogin()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "metaserver_capability_reloads_total 1") {
		t.Fatalf("reload counter missing:\n%s", body)
	}
	if !strings.Contains(body, "metaserver_logins_total 1") {
		t.Fatalf("login counter missing:\n%s", body)
	}
}
