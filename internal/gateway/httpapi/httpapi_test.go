package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/diag"
	"github.com/jkaninda/echoservice/internal/verify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticLister []*connection.Descriptor

func (l staticLister) List(context.Context) ([]*connection.Descriptor, error) { return l, nil }

// scopedRunner records the correlation id it sees and echoes the name back.
type scopedRunner struct {
	seen string
}

func (s *scopedRunner) Kind() string { return "stub" }

func (s *scopedRunner) Verify(_ context.Context, scope *diag.Scope, p verify.Params) verify.Result {
	s.seen, _ = scope.Get(diag.KeyCorrelationID)
	if p.Name() == "" {
		return verify.Failed(verify.Failure{Error: "connection string name is required"})
	}
	return verify.Succeeded("Stub '"+p.Name()+"' is connected", "")
}

func newTestGateway(t *testing.T) (*Gateway, *scopedRunner) {
	t.Helper()
	reg := verify.NewRegistry()
	runner := &scopedRunner{}
	if err := reg.Register(runner); err != nil {
		t.Fatal(err)
	}
	return NewGateway(Config{MaxRequestSize: 64}, reg, staticLister{}, nil, testLogger()), runner
}

func TestGateway_Verify(t *testing.T) {
	g, runner := newTestGateway(t)

	res := g.verify(context.Background(), "corr-1", "STUB", url.Values{"name": {"main"}})
	if !res.Success() || res.Message() != "Stub 'main' is connected" {
		t.Errorf("result = %q / %q", res.Message(), res.ErrorSummary())
	}
	if runner.seen != "corr-1" {
		t.Errorf("correlation id in scope = %q", runner.seen)
	}

	res = g.verify(context.Background(), "", "missing-kind", nil)
	if res.Success() || res.ErrorSummary() != "verifier 'missing-kind' not found" {
		t.Errorf("unknown kind = %q", res.ErrorSummary())
	}
}

func TestCorrelation(t *testing.T) {
	var seen string
	h := withCorrelation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/diagnostics", nil))
	got := rec.Header().Get(CorrelationHeader)
	if got == "" || got != seen {
		t.Errorf("header %q, context %q", got, seen)
	}

	req := httptest.NewRequest("GET", "/diagnostics", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(CorrelationHeader) != "abc-123" {
		t.Errorf("incoming id not reused: %q", rec.Header().Get(CorrelationHeader))
	}

	req = httptest.NewRequest("GET", "/diagnostics", nil)
	req.Header.Set(CorrelationHeader, "bad id\nwith newline")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(CorrelationHeader) == "bad id\nwith newline" {
		t.Error("malformed incoming id was reused")
	}
}

func TestEcho_CannedErrors(t *testing.T) {
	g, _ := newTestGateway(t)
	h := g.wrap(http.NotFoundHandler())

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/e/400", 400, "Test bad request"},
		{"/e/401", 401, "Test unauthorized"},
		{"/e/403", 403, "Test forbidden"},
		{"/e/404", 404, "Test not found"},
		{"/e/500", 500, "Test internal server error"},
		{"/e/502", 502, "Test bad gateway"},
		{"/e/503", 503, "Test service unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.code || rec.Body.String() != tt.body {
				t.Errorf("got %d %q, want %d %q", rec.Code, rec.Body.String(), tt.code, tt.body)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			if rec.Header().Get(CorrelationHeader) == "" {
				t.Error("missing correlation header")
			}
		})
	}
}

func TestEcho_Request(t *testing.T) {
	g, _ := newTestGateway(t)
	h := g.wrap(http.NotFoundHandler())

	req := httptest.NewRequest("POST", "/echo/orders/42?debug=true", strings.NewReader("a=1&b=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp EchoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != "orders/42" || resp.Method != "POST" || resp.Scheme != "https" {
		t.Errorf("echo = %+v", resp)
	}
	if resp.QueryString != "?debug=true" || resp.Query["debug"] != "true" {
		t.Errorf("query = %q %v", resp.QueryString, resp.Query)
	}
	if resp.Body != "a=1&b=2" || resp.Form["b"] != "2" {
		t.Errorf("body = %q form = %v", resp.Body, resp.Form)
	}
	if resp.Connection.ID != rec.Header().Get(CorrelationHeader) || resp.Connection.RemoteIPAddress != "192.0.2.1" {
		t.Errorf("connection = %+v", resp.Connection)
	}
}

func TestEcho_BodyLimit(t *testing.T) {
	g, _ := newTestGateway(t)
	h := g.wrap(http.NotFoundHandler())

	req := httptest.NewRequest("PUT", "/e/upload", strings.NewReader(strings.Repeat("x", 65)))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestEcho_PassesThroughOtherRoutes(t *testing.T) {
	g, _ := newTestGateway(t)
	h := g.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/diagnostics/redis", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want the routed handler's 418", rec.Code)
	}
}

func TestConnectionSummary(t *testing.T) {
	req := httptest.NewRequest("GET", "http://echo.local:8080/diagnostics/connection", nil)
	req.RemoteAddr = "[2001:db8::1]:51234"
	if got, want := connectionSummary(req), "Server:http://echo.local:8080 Client:[2001:db8::1]:51234"; got != want {
		t.Errorf("connectionSummary = %q, want %q", got, want)
	}
}

func TestAppSettings_Redacted(t *testing.T) {
	settings := map[string]string{
		"http:listen_addr":                   ":8080",
		"azure:client_secret":                "s3cr3t-value",
		"connection_strings:cache:value":     "redis://:hunter22@cache:6379",
		"connection_strings:cosmos:value":    "AccountEndpoint=https://a/;AccountKey=abcdefgh",
		"connection_strings:cosmos:provider": "cosmos",
	}
	env := map[string]string{"ECHOSERVICE_DB_DSN": "postgres://app:pw123456@db/app", "HOME": "/root"}

	out := appSettings(settings, nil)
	if _, ok := out["HOME"]; ok {
		t.Error("environment included without env=true")
	}
	out = appSettings(settings, env)
	if out["HOME"] != "/root" || out["http:listen_addr"] != ":8080" {
		t.Errorf("settings = %v", out)
	}
	for k, v := range out {
		for _, secret := range []string{"s3cr3t", "hunter22", "abcdefgh", "pw123456"} {
			if strings.Contains(v, secret) {
				t.Errorf("%s leaks %q: %q", k, secret, v)
			}
		}
	}
}

func TestConnectionDumps(t *testing.T) {
	descs := []*connection.Descriptor{
		{Name: "db", Raw: "Host=pg;Password=topsecret", Provider: connection.ProviderPostgreSQL},
		{Name: "legacy", Raw: "dsn://x", Provider: connection.ProviderCustom, CustomProvider: "oracle"},
	}
	out := connectionDumps(descs)
	if out["db"].Raw != "Host=pg;Password=[REDACTED]" || out["db"].Provider != "PostgreSQL" {
		t.Errorf("db = %+v", out["db"])
	}
	if out["legacy"].Custom != "oracle" {
		t.Errorf("legacy = %+v", out["legacy"])
	}
}

func TestParseEnviron(t *testing.T) {
	env := parseEnviron([]string{"A=1", "B=x=y", "=C", "NOEQ"})
	if len(env) != 2 || env["A"] != "1" || env["B"] != "x=y" {
		t.Errorf("parseEnviron = %v", env)
	}
}
