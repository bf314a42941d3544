// Package postgres verifies a PostgreSQL database with one SELECT.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the PostgreSQL probe.
const Kind = "postgresql"

// EntraScope is the token scope of Azure Database for PostgreSQL.
const EntraScope = "https://ossrdbms-aad.database.windows.net/.default"

// keywords maps .NET style connection string keys onto libpq keywords.
var keywords = map[string]string{
	"host":               "host",
	"server":             "host",
	"port":               "port",
	"database":           "dbname",
	"username":           "user",
	"userid":             "user",
	"user":               "user",
	"password":           "password",
	"sslmode":            "sslmode",
	"timeout":            "connect_timeout",
	"applicationname":    "application_name",
	"searchpath":         "search_path",
	"targetsessionattrs": "target_session_attrs",
}

// Target is the parsed connection.
type Target struct {
	Descriptor *connection.Descriptor
	Config     *pgx.ConnConfig
	Hint       credential.Hint
}

// Capability runs "SELECT 1 FROM <table> LIMIT 1", or "SELECT 1" without a
// "table" parameter. An empty table is a success.
type Capability struct{}

// New returns the PostgreSQL capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	cfg, hint, err := ParseConfig(d)
	if err != nil {
		return Target{}, fmt.Errorf("parsing postgres connection '%s': %w", d.Name, err)
	}
	return Target{Descriptor: d, Config: cfg, Hint: hint}, nil
}

// CredentialHint asks for an identity only when the connection carries no
// password.
func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if t.Config.Password != "" {
		return nil, false
	}
	return &t.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, p verify.Params) (verify.Result, error) {
	cfg := t.Config.Copy()
	if cred != nil {
		tok, err := cred.Credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{EntraScope}})
		if err != nil {
			return verify.Result{}, fmt.Errorf("acquiring postgres token: %w", err)
		}
		cfg.Password = tok.Token
	}

	query := "SELECT 1"
	if table := p.Get("table"); table != "" {
		query = fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", QuoteTable(table))
	}

	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	var one int
	err := db.QueryRowContext(ctx, query).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return verify.Result{}, fmt.Errorf("%s: %w", query, err)
	}
	detail := fmt.Sprintf("host=%s; database=%s; query=%s", cfg.Host, cfg.Database, query)
	return verify.Succeeded(verify.ConnectedMessage("PostgreSql", t.Descriptor), detail), nil
}

// ParseConfig accepts a postgres:// URL, a libpq keyword string
// ("host=db user=app"), or a semicolon-separated connection string
// ("Host=db;Username=app;Database=orders"). Identity fields in the last
// form are returned as the hint.
func ParseConfig(d *connection.Descriptor) (*pgx.ConnConfig, credential.Hint, error) {
	if !d.IsKeyValue() || !strings.Contains(d.Value, ";") {
		cfg, err := pgx.ParseConfig(strings.TrimSpace(d.Value))
		return cfg, credential.Hint{}, err
	}

	cv := connection.TryGetCredentialValue(d)
	parts := make([]string, 0, len(d.Custom))
	for k, v := range d.Custom {
		kw, ok := keywords[strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(k))]
		if !ok {
			continue
		}
		parts = append(parts, kw+"="+quoteKeyword(v))
	}
	cfg, err := pgx.ParseConfig(strings.Join(parts, " "))
	if err != nil {
		return nil, credential.Hint{}, err
	}
	return cfg, cv.Hint, nil
}

func quoteKeyword(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// QuoteTable quotes a possibly schema-qualified table name.
func QuoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}
