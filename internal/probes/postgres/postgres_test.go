package postgres

import (
	"context"
	"testing"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/verify"
)

func resolve(t *testing.T, value string) Target {
	t.Helper()
	conns := connection.NewResolver(nil, connection.NewStaticSource("test", []connection.Entry{
		{Name: "db", Value: value, Provider: "postgres"},
	}))
	target, err := New().ResolveConnection(context.Background(), conns, verify.Params{"name": "db"})
	if err != nil {
		t.Fatalf("ResolveConnection(%q): %v", value, err)
	}
	return target
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		wantHost     string
		wantPort     uint16
		wantUser     string
		wantDatabase string
		wantIdentity bool
	}{
		{
			name:         "url",
			value:        "postgres://app:pw@db.internal:5433/orders?sslmode=disable",
			wantHost:     "db.internal",
			wantPort:     5433,
			wantUser:     "app",
			wantDatabase: "orders",
		},
		{
			name:         "keyword dsn",
			value:        "host=db.internal port=5432 user=app password=pw dbname=orders sslmode=disable",
			wantHost:     "db.internal",
			wantPort:     5432,
			wantUser:     "app",
			wantDatabase: "orders",
		},
		{
			name:         "semicolon form with password",
			value:        "Host=db.internal;Port=5434;Username=app;Password='p w';Database=orders;SSL Mode=disable",
			wantHost:     "db.internal",
			wantPort:     5434,
			wantUser:     "app",
			wantDatabase: "orders",
		},
		{
			name:         "semicolon form with identity",
			value:        "Server=pg.postgres.database.azure.com;User Id=app-identity;Database=orders;SSL Mode=require;ManagedIdentityClientId=mi-123",
			wantHost:     "pg.postgres.database.azure.com",
			wantPort:     5432,
			wantUser:     "app-identity",
			wantDatabase: "orders",
			wantIdentity: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := resolve(t, tt.value)
			cfg := target.Config
			if cfg.Host != tt.wantHost || cfg.Port != tt.wantPort || cfg.User != tt.wantUser || cfg.Database != tt.wantDatabase {
				t.Errorf("config = host %q port %d user %q db %q", cfg.Host, cfg.Port, cfg.User, cfg.Database)
			}
			hint, identity := New().CredentialHint(target)
			if identity != tt.wantIdentity {
				t.Fatalf("uses identity = %v, want %v", identity, tt.wantIdentity)
			}
			if identity && hint.ManagedIdentityClientID != "mi-123" {
				t.Errorf("hint = %+v", hint)
			}
		})
	}
}

func TestSemicolonPasswordIsUnquoted(t *testing.T) {
	target := resolve(t, "Host=db;Username=app;Password='p w';Database=orders")
	if target.Config.Password != "p w" {
		t.Errorf("Password = %q", target.Config.Password)
	}
}

func TestQuoteTable(t *testing.T) {
	tests := map[string]string{
		"orders":             `"orders"`,
		"sales.orders":       `"sales"."orders"`,
		`x"; DROP TABLE y;--`: `"x""; DROP TABLE y;--"`,
	}
	for in, want := range tests {
		if got := QuoteTable(in); got != want {
			t.Errorf("QuoteTable(%q) = %s, want %s", in, got, want)
		}
	}
}
