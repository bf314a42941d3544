// Package httpapi implements the diagnostics HTTP surface of the echo service.
//
// Routes:
//   - /diagnostics and /diagnostics/{kind}: connectivity verifications, always HTTP 200
//   - /dump/*: effective settings, connection strings and environment, redacted
//   - /e/{code} and /echo/*: canned error responses and request echo
//   - /healthz, /readyz and the metrics path
//
// Every response carries X-Correlation-ID. Diagnostics and dump routes are
// rate-limited per client IP when a limiter is configured.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/gateway"
	"github.com/jkaninda/echoservice/internal/observability"
	"github.com/jkaninda/echoservice/internal/ratelimit"
	"github.com/jkaninda/echoservice/internal/verify"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Echo body limit in bytes. 0 = 1 MB default.
	Version        string

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// ConnectionLister lists configured connections. *connection.Resolver
// implements it.
type ConnectionLister interface {
	List(ctx context.Context) ([]*connection.Descriptor, error)
}

// SettingsFunc returns the effective configuration as flat "section:key"
// pairs.
type SettingsFunc func() (map[string]string, error)

// Gateway is the diagnostics HTTP server.
type Gateway struct {
	config      Config
	registry    *verify.Registry
	connections ConnectionLister
	settings    SettingsFunc
	environ     func() []string
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	server      *http.Server
	okapi       *okapi.Okapi
}

// NewGateway creates the HTTP gateway. rl may be nil.
func NewGateway(cfg Config, reg *verify.Registry, conns ConnectionLister, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:      cfg,
		registry:    reg,
		connections: conns,
		limiter:     rl,
		logger:      logger,
		environ:     osEnviron,
		okapi:       okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithSettings enables /dump/appsettings.
func (g *Gateway) WithSettings(fn SettingsFunc) *Gateway {
	g.settings = fn
	return g
}

// WithOpenAPIDocs serves the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	version := g.config.Version
	if version == "" {
		version = "dev"
	}
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Echo Service",
			Version: version,
		},
	)
	return g
}

// wrap applies the cross-cutting handlers in a fixed order: correlation id,
// request log, metrics and tracing, then the echo routes.
func (g *Gateway) wrap(next http.Handler) http.Handler {
	h := withEcho(g.config.MaxRequestSize)(next)
	if g.config.Metrics != nil || g.config.Tracer != nil {
		h = observability.HTTPMiddleware(g.config.Metrics, g.config.Tracer)(h)
	}
	h = withRequestLog(g.logger)(h)
	return withCorrelation(h)
}

func (g *Gateway) routes() {
	g.okapi.UseMiddleware(g.wrap)

	g.okapi.Get("/diagnostics", g.rateLimit(g.handleKinds),
		okapi.DocSummary("List the resource kinds that can be verified"),
		okapi.DocTags("Diagnostics"),
		okapi.DocResponse(KindsResponse{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	diagnostics := g.okapi.Group("/diagnostics", g.rateLimit)
	diagnostics.Get("/{kind}", g.handleVerify,
		okapi.DocSummary("Verify connectivity to one resource"),
		okapi.DocTags("Diagnostics"),
		okapi.DocPathParam("kind", "string", "Resource kind, e.g. redis, blob, keyvault-secret, or connection"),
		okapi.DocResponse(verify.Envelope{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	dump := g.okapi.Group("/dump", g.rateLimit)
	dump.Get("/appsettings", g.handleAppSettings,
		okapi.DocSummary("Effective configuration, secrets redacted"),
		okapi.DocTags("Dump"),
		okapi.DocResponse(map[string]string{}),
	)
	dump.Get("/connection-strings", g.handleConnectionStrings,
		okapi.DocSummary("Configured connection strings, secrets redacted"),
		okapi.DocTags("Dump"),
		okapi.DocResponse(map[string]ConnectionDump{}),
	)
	dump.Get("/environments", g.handleEnvironments,
		okapi.DocSummary("Process environment, secrets redacted"),
		okapi.DocTags("Dump"),
		okapi.DocResponse(map[string]string{}),
	)

	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.Int("kinds", len(g.registry.Kinds())),
	)
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Health ---

// HealthResponse is the liveness response body.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Rate limiting ---

func (g *Gateway) rateLimit(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		client := g.limiter.ClientKey(c.Request())
		if err := g.limiter.Allow(client); err != nil {
			g.logger.Warn("rate limited",
				slog.String("client", client),
				slog.String("path", c.Request().URL.Path),
			)
			return c.AbortTooManyRequests(err.Error())
		}
		return next(c)
	}
}

var _ gateway.Gateway = (*Gateway)(nil)
