package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/echoservice/internal/config"
	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/observability"
	"github.com/jkaninda/echoservice/internal/probes"
	"github.com/jkaninda/echoservice/internal/secrets"
	"github.com/jkaninda/echoservice/internal/storage"
	pgstore "github.com/jkaninda/echoservice/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/echoservice/internal/storage/sqlite"
	"github.com/jkaninda/echoservice/internal/verify"
)

// SharedComponents holds the subsystems used by both serve and verify.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // nil = no database-backed connection store.

	Obs         *observability.Observability // nil = observability disabled.
	Health      *observability.HealthChecker
	Secrets     secrets.Provider
	Connections *connection.Resolver
	Credentials *credential.Resolver
	Registry    *verify.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared wires configuration into the connection and credential
// resolvers and the verifier registry. Callers must call sc.Cleanup().
func initShared(cfg *config.Config, logger *slog.Logger) (_ *SharedComponents, err error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			sc.Cleanup()
		}
	}()

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	if obs != nil {
		sc.addCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		})
		sc.Health = obs.Health
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("failure_rate", obs.FailureRate != nil),
		)
	} else {
		sc.Health = observability.NewHealthChecker(logger)
	}

	// Secret providers.
	sp, err := initSecrets(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing secret providers: %w", err)
	}
	sc.Secrets = sp

	// Connection string store.
	if storeEnabled(cfg) {
		store, err := initStore(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing connection store: %w", err)
		}
		sc.Store = store
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing connection store", slog.String("error", err.Error()))
			}
		})
		if cfg.Observability == nil || cfg.Observability.Health == nil || cfg.Observability.Health.IncludeStore {
			sc.Health.AddCheck("connection_store", store.Ping)
		}
		logger.Debug("connection store initialized", slog.String("driver", store.Driver()))
	}

	// Connection resolver: configuration first, then the store.
	sources := []connection.Source{configSource(cfg)}
	if sc.Store != nil {
		sources = append(sources, storage.NewSource(sc.Store))
	}
	sc.Connections = connection.NewResolver(sc.Secrets, sources...)

	// Credential resolver.
	recorder := obs.Recorder()
	sc.Credentials = credential.NewResolver(credential.NewAzureFactory(ambientHint(cfg.Azure)), logger).
		WithObserver(recorder)

	// Verifiers.
	reg, err := probes.NewRegistry(probes.Deps{
		Connections: sc.Connections,
		Credentials: sc.Credentials,
		Config:      cfg.Probes,
		Observer:    recorder,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registering verifiers: %w", err)
	}
	sc.Registry = reg
	logger.Debug("verifiers registered", slog.Int("count", len(reg.Kinds())))

	return sc, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// initSecrets builds the composite secret provider. Environment and keyring
// references are always available; vault is added when configured.
func initSecrets(cfg *config.Config) (secrets.Provider, error) {
	providers := []secrets.Provider{secrets.NewEnvProvider(), secrets.NewKeyringProvider()}
	if cfg.Secrets == nil {
		return secrets.NewCompositeProvider(providers...), nil
	}
	for i, pc := range cfg.Secrets.Providers {
		switch strings.ToLower(pc.Type) {
		case "env", "keyring":
			// Always registered.
		case "vault":
			vc, err := secrets.VaultConfigFromMap(pc.Config)
			if err != nil {
				return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
			}
			vp, err := secrets.NewVaultProvider(vc)
			if err != nil {
				return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
			}
			providers = append(providers, vp)
		default:
			return nil, fmt.Errorf("secrets.providers[%d]: unknown type %q", i, pc.Type)
		}
	}
	return secrets.NewCompositeProvider(providers...), nil
}

// configSource exposes the configured connection strings as a source.
func configSource(cfg *config.Config) *connection.StaticSource {
	entries := make([]connection.Entry, 0, len(cfg.ConnectionStrings))
	for name, cs := range cfg.ConnectionStrings {
		entries = append(entries, connection.Entry{Name: name, Value: cs.Value, Provider: cs.Provider})
	}
	return connection.NewStaticSource("config", entries)
}

// ambientHint converts the azure section into the default identity hint.
func ambientHint(az *config.AzureConfig) credential.Hint {
	if az == nil {
		return credential.Hint{}
	}
	return credential.Hint{
		TenantID:                  az.TenantID,
		ClientID:                  az.ClientID,
		ClientSecret:              az.ClientSecret,
		ManagedIdentityClientID:   az.ManagedIdentityClientID,
		ManagedIdentityResourceID: az.ManagedIdentityResourceID,
	}
}

// storeEnabled reports whether serve and verify should read the connection
// store: either storage is configured or the default SQLite file exists.
func storeEnabled(cfg *config.Config) bool {
	if cfg.Storage != nil {
		return true
	}
	_, err := os.Stat(cfg.SQLitePath())
	return err == nil
}

// initStore creates the storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sqliteCfg := sqlitestore.Config{Path: cfg.SQLitePath()}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqliteCfg, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or ECHOSERVICE_DB_DSN)")
	}
	pg := cfg.Storage.Postgres
	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}
