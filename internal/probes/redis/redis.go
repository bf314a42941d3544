// Package redis verifies a Redis cache with a PING or a GET.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the redis probe.
const Kind = "redis"

// EntraScope is the token scope of Azure Cache for Redis.
const EntraScope = "https://redis.azure.com/.default"

const (
	defaultPort        = "6379"
	defaultDialTimeout = 5 * time.Second
)

var azureHostSuffixes = []string{".redis.cache.windows.net", ".redis.azure.net", ".redisenterprise.cache.azure.net"}

// Target is the parsed connection.
type Target struct {
	Descriptor  *connection.Descriptor
	Options     *goredis.Options
	Hint        credential.Hint
	UseIdentity bool
}

// Capability pings the server, or reads the "key" parameter when given.
type Capability struct{}

// New returns the redis capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	opts, hint, err := ParseOptions(d.Value)
	if err != nil {
		return Target{}, fmt.Errorf("parsing redis connection '%s': %w", d.Name, err)
	}
	useIdentity := opts.Password == "" && (!hint.IsEmpty() || isAzureHost(opts.Addr))
	return Target{Descriptor: d, Options: opts, Hint: hint, UseIdentity: useIdentity}, nil
}

func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if !t.UseIdentity {
		return nil, false
	}
	return &t.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, p verify.Params) (verify.Result, error) {
	opts := *t.Options
	if cred != nil {
		tok, err := cred.Credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{EntraScope}})
		if err != nil {
			return verify.Result{}, fmt.Errorf("acquiring redis token: %w", err)
		}
		opts.Password = tok.Token
		if opts.Username == "" {
			oid, err := objectID(tok.Token)
			if err != nil {
				return verify.Result{}, err
			}
			opts.Username = oid
		}
	}

	client := goredis.NewClient(&opts)
	defer client.Close()

	msg := verify.ConnectedMessage("Redis", t.Descriptor)
	key := p.Get("key")
	if key == "" {
		pong, err := client.Ping(ctx).Result()
		if err != nil {
			return verify.Result{}, fmt.Errorf("PING %s: %w", opts.Addr, err)
		}
		return verify.Succeeded(msg, fmt.Sprintf("addr=%s; reply=%s", opts.Addr, pong)), nil
	}

	val, err := client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return verify.Succeeded(msg, fmt.Sprintf("addr=%s; key '%s' not found", opts.Addr, key)), nil
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("GET %s: %w", key, err)
	}
	return verify.SucceededWithValue(msg, fmt.Sprintf("addr=%s; length=%d", opts.Addr, len(val)), val), nil
}

// ParseOptions accepts a redis:// or rediss:// URL, or the comma-separated
// form "host:port,password=...,ssl=true,defaultDatabase=0". The comma form
// may also carry identity fields (clientId, managedIdentityClientId, ...).
func ParseOptions(value string) (*goredis.Options, credential.Hint, error) {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "redis://") || strings.HasPrefix(lower, "rediss://") || strings.HasPrefix(lower, "unix://") {
		opts, err := goredis.ParseURL(value)
		if err != nil {
			return nil, credential.Hint{}, err
		}
		return opts, credential.Hint{}, nil
	}

	var (
		hint credential.Hint
		ssl  bool
	)
	opts := &goredis.Options{DialTimeout: defaultDialTimeout}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			if opts.Addr != "" {
				return nil, hint, fmt.Errorf("only one endpoint is supported, got %q and %q", opts.Addr, part)
			}
			opts.Addr = part
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "user", "username":
			opts.Username = v
		case "ssl":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, hint, fmt.Errorf("ssl: %w", err)
			}
			ssl = b
		case "defaultdatabase":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, hint, fmt.Errorf("defaultDatabase: %w", err)
			}
			opts.DB = n
		case "tenantid":
			hint.TenantID = v
		case "clientid":
			hint.ClientID = v
		case "clientsecret":
			hint.ClientSecret = v
		case "managedidentityclientid":
			hint.ManagedIdentityClientID = v
		case "managedidentityresourceid":
			hint.ManagedIdentityResourceID = v
		case "credentialtype":
			hint.CredentialType = v
		}
	}
	if opts.Addr == "" {
		return nil, hint, errors.New("endpoint is required")
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		opts.Addr = net.JoinHostPort(opts.Addr, defaultPort)
	}
	if ssl {
		host, _, _ := net.SplitHostPort(opts.Addr)
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts, hint, nil
}

func isAzureHost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.ToLower(host)
	for _, s := range azureHostSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// objectID reads the "oid" claim Azure Cache for Redis expects as user name.
// The token is not verified; the server does that.
func objectID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("access token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decoding token claims: %w", err)
	}
	var claims struct {
		OID string `json:"oid"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("decoding token claims: %w", err)
	}
	if claims.OID == "" {
		return "", errors.New("access token has no oid claim")
	}
	return claims.OID, nil
}
