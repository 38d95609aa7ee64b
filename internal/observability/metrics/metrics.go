package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, bundle imports, authorization denials, capability reloads, and
// login activity. It coordinates concurrent writers via a RWMutex while
// exposing a thread-safe gauge for active import tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	importEvents      map[string]uint64
	authDenials       map[string]uint64
	capabilityReloads uint64
	sessionLogins     uint64
	activeImports     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		importEvents:    make(map[string]uint64),
		authDenials:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ImportStarted increments the active import gauge.
func (r *Recorder) ImportStarted() {
	r.activeImports.Add(1)
}

// ImportFinished records the outcome of a bundle import ("succeeded",
// "failed" or "malformed") and decrements the active import gauge.
func (r *Recorder) ImportFinished(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.importEvents[normalized]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeImports)
}

// AuthorizationDenied records a request refused by the capability gate,
// keyed by the verb that was attempted.
func (r *Recorder) AuthorizationDenied(verb string) {
	normalized := normalizeName(verb)
	r.mu.Lock()
	r.authDenials[normalized]++
	r.mu.Unlock()
}

// CapabilityReloaded records one rebuild of the capability table.
func (r *Recorder) CapabilityReloaded() {
	r.mu.Lock()
	r.capabilityReloads++
	r.mu.Unlock()
}

// SessionLogin records one successful login.
func (r *Recorder) SessionLogin() {
	r.mu.Lock()
	r.sessionLogins++
	r.mu.Unlock()
}

// ActiveImports exposes the current gauge of concurrently running bundle
// imports.
func (r *Recorder) ActiveImports() int64 {
	return r.activeImports.Load()
}

// ImportCounts returns a copy of the import outcome counters for testing and
// reporting purposes.
func (r *Recorder) ImportCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.importEvents))
	for outcome, count := range r.importEvents {
		counts[outcome] = count
	}
	return counts
}

// DenialCounts returns a copy of the authorization denial counters.
func (r *Recorder) DenialCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.authDenials))
	for verb, count := range r.authDenials {
		counts[verb] = count
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.importEvents = make(map[string]uint64)
	r.authDenials = make(map[string]uint64)
	r.capabilityReloads = 0
	r.sessionLogins = 0
	r.activeImports.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	importOutcomes := sortedNames(r.importEvents)
	deniedVerbs := sortedNames(r.authDenials)

	fmt.Fprintln(w, "# HELP metaserver_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE metaserver_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "metaserver_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP metaserver_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE metaserver_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "metaserver_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP metaserver_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE metaserver_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "metaserver_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP metaserver_imports_total Bundle import outcomes")
	fmt.Fprintln(w, "# TYPE metaserver_imports_total counter")
	for _, outcome := range importOutcomes {
		fmt.Fprintf(w, "metaserver_imports_total{outcome=\"%s\"} %d\n", outcome, r.importEvents[outcome])
	}

	fmt.Fprintln(w, "# HELP metaserver_imports_active Bundle imports currently running")
	fmt.Fprintln(w, "# TYPE metaserver_imports_active gauge")
	fmt.Fprintf(w, "metaserver_imports_active %d\n", r.activeImports.Load())

	fmt.Fprintln(w, "# HELP metaserver_auth_denials_total Requests refused by the capability gate")
	fmt.Fprintln(w, "# TYPE metaserver_auth_denials_total counter")
	for _, verb := range deniedVerbs {
		fmt.Fprintf(w, "metaserver_auth_denials_total{verb=\"%s\"} %d\n", verb, r.authDenials[verb])
	}

	fmt.Fprintln(w, "# HELP metaserver_capability_reloads_total Capability table rebuilds")
	fmt.Fprintln(w, "# TYPE metaserver_capability_reloads_total counter")
	fmt.Fprintf(w, "metaserver_capability_reloads_total %d\n", r.capabilityReloads)

	fmt.Fprintln(w, "# HELP metaserver_logins_total Successful session logins")
	fmt.Fprintln(w, "# TYPE metaserver_logins_total counter")
	fmt.Fprintf(w, "metaserver_logins_total %d\n", r.sessionLogins)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedNames(counters map[string]uint64) []string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier flags path segments that are element identifiers so
// per-object URLs collapse into one label. Canonical identifiers are UUIDs,
// but short legacy identifiers with digits also count.
func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 20 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount > 0 && digitCount >= len(segment)/2
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}
