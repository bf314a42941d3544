package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/echoservice/internal/config"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
	// A nil facade still yields a usable recorder.
	obs.Recorder().VerificationCompleted("redis", false, "probe", time.Millisecond)
	obs.Recorder().CredentialResolved("default")
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.FailureRate != nil {
		t.Error("failure-rate detector should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.TracerOrNil() != nil || obs.MetricsOrNil() != nil {
		t.Error("expected nil components from nil Observability")
	}
}

func TestTracerSetup_Disabled(t *testing.T) {
	ts, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil || ts != nil {
		t.Fatalf("NewTracerSetup(disabled) = %v, %v", ts, err)
	}
	if ts.Tracer() == nil || ts.Provider() == nil {
		t.Error("nil TracerSetup should return no-op implementations")
	}
}

func TestTracerSetup_UnknownProtocol(t *testing.T) {
	_, err := NewTracerSetup(&config.TracingConfig{Enabled: true, Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	m.VerificationsTotal.WithLabelValues("redis", "success", "").Inc()
	m.CredentialResolutionsTotal.WithLabelValues("default").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/echo", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"echoservice_verify_verifications_total",
		"echoservice_credential_resolutions_total",
		"echoservice_http_requests_total",
		"echoservice_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestObserveHTTP(t *testing.T) {
	m := NewMetricsCollector()
	m.ObserveHTTP("GET", "/diagnostics/redis", 200, 5*time.Millisecond)
	m.ObserveHTTP("GET", "/diagnostics/redis", 200, 5*time.Millisecond)

	val := counterValue(t, m.Registry, "echoservice_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/diagnostics/redis", "status_code": "200"})
	if val != 2 {
		t.Errorf("http requests = %v, want 2", val)
	}

	var nilMetrics *MetricsCollector
	nilMetrics.ObserveHTTP("GET", "/", 200, 0)
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/":                            "/",
		"/healthz":                     "/healthz",
		"/diagnostics":                 "/diagnostics",
		"/diagnostics/redis":           "/diagnostics/redis",
		"/diagnostics/redis/extra":     "/diagnostics/redis",
		"/dump/appsettings":            "/dump/appsettings",
		"/e/503":                       "/e",
		"/anything/else/at/all":        "/echo",
		"/api/v1/orders/42?debug=true": "/echo",
	}
	for path, want := range tests {
		if got := RouteLabel(path); got != want {
			t.Errorf("RouteLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

// --- Recorder ---

func TestRecorder_Verifications(t *testing.T) {
	m := NewMetricsCollector()
	r := NewRecorder(m, nil)

	r.VerificationCompleted("blob", true, "", 10*time.Millisecond)
	r.VerificationCompleted("blob", false, "credential", 10*time.Millisecond)
	r.VerificationCompleted("blob", false, "credential", 10*time.Millisecond)
	r.CredentialResolved("managed_identity_client_id")

	if v := counterValue(t, m.Registry, "echoservice_verify_verifications_total",
		prometheus.Labels{"kind": "blob", "result": "failure", "class": "credential"}); v != 2 {
		t.Errorf("failures = %v, want 2", v)
	}
	if v := counterValue(t, m.Registry, "echoservice_verify_verifications_total",
		prometheus.Labels{"kind": "blob", "result": "success"}); v != 1 {
		t.Errorf("successes = %v, want 1", v)
	}
	if v := counterValue(t, m.Registry, "echoservice_credential_resolutions_total",
		prometheus.Labels{"mechanism": "managed_identity_client_id"}); v != 1 {
		t.Errorf("credential resolutions = %v, want 1", v)
	}
}

func TestRecorder_FailureRateAlert(t *testing.T) {
	m := NewMetricsCollector()
	d := NewFailureRateDetector(&config.FailureRateConfig{Enabled: true, Threshold: 0.5, MinSamples: 4}, nil)
	r := NewRecorder(m, d)

	r.VerificationCompleted("redis", true, "", 0)
	for i := 0; i < 3; i++ {
		r.VerificationCompleted("redis", false, "probe", 0)
	}
	// 3 of 4 failed: only the fourth sample reaches MinSamples.
	if v := counterValue(t, m.Registry, "echoservice_verify_failure_rate_alerts_total",
		prometheus.Labels{"kind": "redis"}); v != 1 {
		t.Errorf("alerts = %v, want 1", v)
	}
}

// --- FailureRateDetector ---

func TestFailureRateDetector_NilSafe(t *testing.T) {
	var d *FailureRateDetector
	if d.Record("x", false) {
		t.Error("nil detector reported an alert")
	}
	if rate, n := d.Rate("x"); rate != 0 || n != 0 {
		t.Errorf("Rate = %v, %d", rate, n)
	}
}

func TestFailureRateDetector_Threshold(t *testing.T) {
	d := NewFailureRateDetector(&config.FailureRateConfig{Enabled: true, Threshold: 0.5, WindowSeconds: 60}, nil)

	for i := 0; i < 4; i++ {
		if d.Record("cosmos", true) {
			t.Fatal("success tripped the detector")
		}
	}
	var tripped bool
	for i := 0; i < 6; i++ {
		tripped = d.Record("cosmos", false)
	}
	if !tripped {
		t.Error("60% failure rate did not exceed 0.5")
	}
	rate, n := d.Rate("cosmos")
	if n != 10 || rate != 0.6 {
		t.Errorf("Rate = %v over %d, want 0.6 over 10", rate, n)
	}
	if rate, _ := d.Rate("redis"); rate != 0 {
		t.Errorf("kinds are not isolated: redis rate = %v", rate)
	}
}

func TestFailureRateDetector_WindowExpiry(t *testing.T) {
	d := NewFailureRateDetector(&config.FailureRateConfig{Enabled: true, Threshold: 0.1, WindowSeconds: 60, MinSamples: 1}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Record("dns", false)
	now = now.Add(2 * time.Minute)
	if _, n := d.Rate("dns"); n != 0 {
		t.Errorf("samples after expiry = %d, want 0", n)
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return nil })
	h.AddCheck("verifiers", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["store"].Status != "ok" {
		t.Errorf("store check = %q, want ok", status.Checks["store"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("verifiers", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if got := status.Checks["store"]; got.Status != "fail" || got.Message != "connection refused" {
		t.Errorf("store check = %+v", got)
	}
	if status.Checks["verifiers"].Status != "ok" {
		t.Errorf("verifiers check = %q, want ok", status.Checks["verifiers"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestHTTPMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()
	handler := HTTPMiddleware(metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/e/503", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	val := counterValue(t, metrics.Registry, "echoservice_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/e", "status_code": "503"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/echo/x", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}
