package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/echoservice/internal/config"
	"github.com/jkaninda/echoservice/internal/gateway"
	"github.com/jkaninda/echoservice/internal/gateway/httpapi"
	"github.com/jkaninda/echoservice/internal/ratelimit"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP echo and diagnostics service",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `echoservice --config path` and `echoservice serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// loadConfig loads the config file named by ECHOSERVICE_CONFIG or path.
func loadConfig(path string) (*config.Config, error) {
	return config.Load(goutils.Env("ECHOSERVICE_CONFIG", path))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.HTTP.ListenAddr = servePort
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting echoservice",
		slog.String("version", version),
		slog.String("config", serveConfigPath),
		slog.String("listen_addr", cfg.ListenAddr()),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Verifiers start their spans from the global provider.
	if sc.Obs != nil && sc.Obs.Tracer != nil {
		otel.SetTracerProvider(sc.Obs.Tracer.Provider())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateways := []gateway.Gateway{buildHTTPGateway(cfg, sc)}

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		if runErr != nil {
			logger.Error("gateway exited with error", slog.String("error", runErr.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return runErr
}

// buildHTTPGateway wires the shared components into the HTTP gateway.
func buildHTTPGateway(cfg *config.Config, sc *SharedComponents) *httpapi.Gateway {
	httpCfg := httpapi.Config{
		ListenAddr:     cfg.ListenAddr(),
		EnableDocs:     cfg.HTTP.EnableDocs,
		MaxRequestSize: cfg.HTTP.MaxRequestSizeBytes,
		Version:        version,
		HealthChecker:  sc.Health,
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	var limiter *ratelimit.Limiter
	if rl := cfg.HTTP.RateLimit; rl != nil && rl.RequestsPerMinute > 0 {
		// Validated by config.Load.
		proxies, _ := ratelimit.ParseTrustedProxies(rl.TrustedProxies)
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
			TrustedProxies:    proxies,
		})
		sc.Logger.Debug("rate limiting enabled",
			slog.Int("requests_per_minute", rl.RequestsPerMinute),
			slog.Int("burst_size", rl.BurstSize),
			slog.Int("trusted_proxies", len(proxies)),
		)
	}

	return httpapi.NewGateway(httpCfg, sc.Registry, sc.Connections, limiter, sc.Logger).
		WithSettings(cfg.Flatten)
}
