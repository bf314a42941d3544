// Package config handles loading and validating echoservice configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/echoservice/internal/ratelimit"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration.
type Config struct {
	HTTP              HTTPConfig                        `json:"http" yaml:"http"`
	ConnectionStrings map[string]ConnectionStringConfig `json:"connection_strings,omitempty" yaml:"connection_strings,omitempty"`
	Azure             *AzureConfig                      `json:"azure,omitempty" yaml:"azure,omitempty"` // nil = SDK default credential chain
	Probes            ProbesConfig                      `json:"probes" yaml:"probes"`
	Storage           *StorageConfig                    `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = no database-backed connection store
	Secrets           *SecretsConfig                    `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = env and keyring references only
	Observability     *ObservabilityConfig              `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Log               LogConfig                         `json:"log" yaml:"log"`
}

// HTTPConfig configures the diagnostics HTTP server.
type HTTPConfig struct {
	ListenAddr          string           `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: ECHOSERVICE_LISTEN_ADDR.
	EnableDocs          bool             `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64            `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Echo body limit. Default: 1 MiB.
	RateLimit           *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`     // nil = unlimited
}

// RateLimitConfig configures per-client rate limiting of the diagnostics routes.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`

	// TrustedProxies lists the CIDRs or IPs of reverse proxies whose
	// X-Forwarded-For header identifies the client. Empty = key on the peer.
	TrustedProxies []string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

// ConnectionStringConfig is one named connection string. In files it may
// be written as a bare string, which sets Value only.
type ConnectionStringConfig struct {
	Value    string `json:"value" yaml:"value"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"` // e.g. "postgres", "cosmos". Unknown names are kept as custom.
}

func (c *ConnectionStringConfig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ConnectionStringConfig{Value: s}
		return nil
	}
	type plain ConnectionStringConfig
	return json.Unmarshal(data, (*plain)(c))
}

func (c *ConnectionStringConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = ConnectionStringConfig{Value: node.Value}
		return nil
	}
	type plain ConnectionStringConfig
	return node.Decode((*plain)(c))
}

// AzureConfig is the ambient identity used when a connection names none.
// Each field can be overridden by the matching AZURE_* environment variable.
type AzureConfig struct {
	TenantID                  string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ClientID                  string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret              string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	ManagedIdentityClientID   string `json:"managed_identity_client_id,omitempty" yaml:"managed_identity_client_id,omitempty"`
	ManagedIdentityResourceID string `json:"managed_identity_resource_id,omitempty" yaml:"managed_identity_resource_id,omitempty"`
}

// ProbesConfig bounds how long verifications may take.
type ProbesConfig struct {
	TimeoutSeconds     int             `json:"timeout_seconds" yaml:"timeout_seconds"`                 // Default: 15.
	KindTimeouts       map[string]int  `json:"kind_timeouts,omitempty" yaml:"kind_timeouts,omitempty"` // Per-kind override, seconds.
	ReceiveWaitSeconds int             `json:"receive_wait_seconds" yaml:"receive_wait_seconds"`       // Queue receive probe wait. Default: 3.
	HTTP               HTTPProbeConfig `json:"http" yaml:"http"`
}

// HTTPProbeConfig configures the plain HTTP probe.
type HTTPProbeConfig struct {
	BlockPrivateNetworks bool     `json:"block_private_networks" yaml:"block_private_networks"`
	AllowedHosts         []string `json:"allowed_hosts,omitempty" yaml:"allowed_hosts,omitempty"` // Empty = any host.
}

const (
	defaultProbeTimeout = 15 * time.Second
	defaultReceiveWait  = 3 * time.Second
)

// Timeout returns the probe deadline for kind.
func (p ProbesConfig) Timeout(kind string) time.Duration {
	if s, ok := p.KindTimeouts[kind]; ok && s > 0 {
		return time.Duration(s) * time.Second
	}
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return defaultProbeTimeout
}

// ReceiveWait returns how long the queue receive probe waits for a message.
func (p ProbesConfig) ReceiveWait() time.Duration {
	if p.ReceiveWaitSeconds > 0 {
		return time.Duration(p.ReceiveWaitSeconds) * time.Second
	}
	return defaultReceiveWait
}

// StorageConfig configures the database-backed connection string store.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: ~/.echoservice/connections.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: ECHOSERVICE_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// SecretsConfig configures the secret providers used to expand references
// inside connection strings.
type SecretsConfig struct {
	Providers []SecretProviderConfig `json:"providers" yaml:"providers"`
}

// SecretProviderConfig configures a single secret provider backend.
type SecretProviderConfig struct {
	Type   string            `json:"type" yaml:"type"`                         // "env", "vault" or "keyring".
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"` // Backend-specific configuration.
}

// ObservabilityConfig configures metrics, tracing, health checks and the
// failure-rate detector. When nil, all of it is disabled.
type ObservabilityConfig struct {
	Metrics     *MetricsConfig     `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing     *TracingConfig     `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health      *HealthConfig      `json:"health,omitempty" yaml:"health,omitempty"`
	FailureRate *FailureRateConfig `json:"failure_rate,omitempty" yaml:"failure_rate,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "echoservice"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// HealthConfig configures readiness checks.
type HealthConfig struct {
	IncludeStore bool `json:"include_store" yaml:"include_store"`
}

// FailureRateConfig configures the per-kind verification failure-rate detector.
type FailureRateConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Threshold     float64 `json:"threshold" yaml:"threshold"`           // e.g. 0.5 = half the verifications fail
	WindowSeconds int     `json:"window_seconds" yaml:"window_seconds"` // Sliding window. Default: 300
	MinSamples    int     `json:"min_samples" yaml:"min_samples"`       // Default: 5
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info (default), warn, error
	Format string `json:"format" yaml:"format"` // json (default) or text
}

// DefaultConfigPath returns the default config file path (~/.echoservice/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/echoservice.yaml"
	}
	return filepath.Join(home, ".echoservice", "config.yaml")
}

// DefaultDataDir returns the directory holding the SQLite store by default.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".echoservice")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file at DefaultConfigPath yields an empty
// configuration. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist) && resolved == mustResolve(DefaultConfigPath()):
		// No config file: environment only.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	default:
		if err := decode(resolved, data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Environ())

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}
	return nil
}

// connectionStringEnvPrefix introduces CONNECTIONSTRINGS__<NAME>[__PROVIDER].
const connectionStringEnvPrefix = "CONNECTIONSTRINGS__"

func (c *Config) applyEnv(environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	if v := env["ECHOSERVICE_LISTEN_ADDR"]; v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := env["ECHOSERVICE_DB_DSN"]; v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.Driver = "postgres"
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}

	azure := map[string]*string{}
	if c.Azure == nil {
		c.Azure = &AzureConfig{}
	}
	azure["AZURE_TENANT_ID"] = &c.Azure.TenantID
	azure["AZURE_CLIENT_ID"] = &c.Azure.ClientID
	azure["AZURE_CLIENT_SECRET"] = &c.Azure.ClientSecret
	azure["AZURE_MANAGED_IDENTITY_CLIENT_ID"] = &c.Azure.ManagedIdentityClientID
	azure["AZURE_MANAGED_IDENTITY_RESOURCE_ID"] = &c.Azure.ManagedIdentityResourceID
	for k, field := range azure {
		if v := env[k]; v != "" {
			*field = v
		}
	}
	if *c.Azure == (AzureConfig{}) {
		c.Azure = nil
	}

	// Values first so that a provider-only variable attaches to an entry.
	keys := make([]string, 0)
	for k := range env {
		if len(k) > len(connectionStringEnvPrefix) && strings.EqualFold(k[:len(connectionStringEnvPrefix)], connectionStringEnvPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) < len(keys[j]) })
	for _, k := range keys {
		name := k[len(connectionStringEnvPrefix):]
		if base, ok := cutSuffixFold(name, "__PROVIDER"); ok {
			cs := c.connectionString(base)
			cs.Provider = env[k]
			c.setConnectionString(base, cs)
			continue
		}
		cs := c.connectionString(name)
		cs.Value = env[k]
		c.setConnectionString(name, cs)
	}
}

func (c *Config) connectionString(name string) ConnectionStringConfig {
	for k, v := range c.ConnectionStrings {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ConnectionStringConfig{}
}

// setConnectionString replaces an entry matched case-insensitively, keeping
// the configured spelling of its name.
func (c *Config) setConnectionString(name string, cs ConnectionStringConfig) {
	if c.ConnectionStrings == nil {
		c.ConnectionStrings = make(map[string]ConnectionStringConfig)
	}
	for k := range c.ConnectionStrings {
		if strings.EqualFold(k, name) {
			c.ConnectionStrings[k] = cs
			return
		}
	}
	c.ConnectionStrings[name] = cs
}

func cutSuffixFold(s, suffix string) (string, bool) {
	if len(s) > len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func mustResolve(path string) string {
	resolved, err := resolvePath(path)
	if err != nil {
		return path
	}
	return resolved
}

// ListenAddr returns the HTTP listen address, defaulting to ":8080".
func (c *Config) ListenAddr() string {
	if c.HTTP.ListenAddr != "" {
		return c.HTTP.ListenAddr
	}
	return ":8080"
}

// SQLitePath returns the SQLite store path.
func (c *Config) SQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return mustResolve(c.Storage.SQLite.Path)
	}
	return filepath.Join(DefaultDataDir(), "connections.db")
}

func (c *Config) validate() error {
	for name, cs := range c.ConnectionStrings {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("connection_strings: empty name")
		}
		if strings.TrimSpace(cs.Value) == "" {
			return fmt.Errorf("connection_strings.%s.value is required", name)
		}
	}
	if c.HTTP.RateLimit != nil && c.HTTP.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("http.rate_limit.requests_per_minute must not be negative")
	}
	if c.HTTP.RateLimit != nil {
		if _, err := ratelimit.ParseTrustedProxies(c.HTTP.RateLimit.TrustedProxies); err != nil {
			return fmt.Errorf("http.rate_limit: %w", err)
		}
	}
	if c.HTTP.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("http.max_request_size_bytes must not be negative")
	}
	if c.Probes.TimeoutSeconds < 0 || c.Probes.ReceiveWaitSeconds < 0 {
		return fmt.Errorf("probes timeouts must not be negative")
	}
	for kind, s := range c.Probes.KindTimeouts {
		if s < 0 {
			return fmt.Errorf("probes.kind_timeouts.%s must not be negative", kind)
		}
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set ECHOSERVICE_DB_DSN)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Secrets != nil {
		for i, p := range c.Secrets.Providers {
			switch p.Type {
			case "env", "vault", "keyring":
			default:
				return fmt.Errorf("secrets.providers[%d].type %q is not supported (use env, vault or keyring)", i, p.Type)
			}
		}
	}
	if o := c.Observability; o != nil {
		if o.Tracing != nil && o.Tracing.Enabled && o.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		if f := o.FailureRate; f != nil && f.Enabled && (f.Threshold <= 0 || f.Threshold > 1) {
			return fmt.Errorf("observability.failure_rate.threshold must be in (0, 1]")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}
	return nil
}
