package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
http:
  listen_addr: ":9090"
connection_strings:
  Orders: "AccountEndpoint=https://acct.documents.azure.com:443/"
  Cache:
    value: "redis://localhost:6379"
    provider: redis
probes:
  timeout_seconds: 10
  kind_timeouts:
    servicebus: 30
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr())
	}
	if got := cfg.ConnectionStrings["Orders"].Value; !strings.HasPrefix(got, "AccountEndpoint=") {
		t.Errorf("Orders = %q", got)
	}
	if got := cfg.ConnectionStrings["Cache"]; got.Provider != "redis" || got.Value != "redis://localhost:6379" {
		t.Errorf("Cache = %+v", got)
	}
	if got := cfg.Probes.Timeout("servicebus"); got != 30*time.Second {
		t.Errorf("Timeout(servicebus) = %v, want 30s", got)
	}
	if got := cfg.Probes.Timeout("blob"); got != 10*time.Second {
		t.Errorf("Timeout(blob) = %v, want 10s", got)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "connection_strings": {"db": {"value": "Host=db", "provider": "postgres"}, "plain": "Host=x"},
  "storage": {"driver": "sqlite"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectionStrings["plain"].Value != "Host=x" {
		t.Errorf("plain = %+v", cfg.ConnectionStrings["plain"])
	}
	if cfg.Storage.StorageDriver() != "sqlite" {
		t.Errorf("driver = %q", cfg.Storage.StorageDriver())
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.json", `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.Probes.Timeout("dns") != 15*time.Second {
		t.Errorf("default timeout = %v", cfg.Probes.Timeout("dns"))
	}
	if cfg.Probes.ReceiveWait() != 3*time.Second {
		t.Errorf("default receive wait = %v", cfg.Probes.ReceiveWait())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing non-default config file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ECHOSERVICE_LISTEN_ADDR", ":7000")
	t.Setenv("ECHOSERVICE_DB_DSN", "postgres://u:p@db/echo")
	t.Setenv("AZURE_CLIENT_ID", "env-client")
	t.Setenv("CONNECTIONSTRINGS__ORDERS", "Host=from-env")
	t.Setenv("CONNECTIONSTRINGS__ORDERS__PROVIDER", "postgres")
	t.Setenv("CONNECTIONSTRINGS__NEWONE", "Host=new")

	path := writeFile(t, "config.yaml", `
connection_strings:
  Orders:
    value: "Host=from-file"
azure:
  tenant_id: file-tenant
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != ":7000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.Storage.StorageDriver() != "postgres" || cfg.Storage.Postgres.DSN != "postgres://u:p@db/echo" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Azure.TenantID != "file-tenant" || cfg.Azure.ClientID != "env-client" {
		t.Errorf("azure = %+v", cfg.Azure)
	}
	if got := cfg.ConnectionStrings["Orders"]; got.Value != "Host=from-env" || got.Provider != "postgres" {
		t.Errorf("Orders = %+v", got)
	}
	if _, ok := cfg.ConnectionStrings["ORDERS"]; ok {
		t.Error("env override created a duplicate entry instead of replacing Orders")
	}
	if got := cfg.ConnectionStrings["NEWONE"].Value; got != "Host=new" {
		t.Errorf("NEWONE = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad driver", `{"storage": {"driver": "mysql"}}`, "storage.driver"},
		{"postgres without dsn", `{"storage": {"driver": "postgres"}}`, "storage.postgres.dsn"},
		{"bad secret provider", `{"secrets": {"providers": [{"type": "aws"}]}}`, "secrets.providers[0]"},
		{"empty connection", `{"connection_strings": {"db": ""}}`, "connection_strings.db"},
		{"bad threshold", `{"observability": {"failure_rate": {"enabled": true, "threshold": 2}}}`, "threshold"},
		{"bad log format", `{"log": {"format": "xml"}}`, "log.format"},
		{"negative timeout", `{"probes": {"timeout_seconds": -1}}`, "must not be negative"},
		{"bad trusted proxy", `{"http": {"rate_limit": {"requests_per_minute": 10, "trusted_proxies": ["proxy.local"]}}}`, "trusted proxy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	cfg := &Config{
		HTTP:              HTTPConfig{ListenAddr: ":8080"},
		ConnectionStrings: map[string]ConnectionStringConfig{"db": {Value: "Host=x", Provider: "postgres"}},
		Secrets:           &SecretsConfig{Providers: []SecretProviderConfig{{Type: "env"}}},
	}
	flat, err := cfg.Flatten()
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	want := map[string]string{
		"http:listen_addr":               ":8080",
		"connection_strings:db:value":    "Host=x",
		"connection_strings:db:provider": "postgres",
		"secrets:providers:0:type":       "env",
		"http:enable_docs":               "false",
	}
	for k, v := range want {
		if flat[k] != v {
			t.Errorf("flat[%q] = %q, want %q", k, flat[k], v)
		}
	}
}
