// Package httpprobe fetches a URL and reports the response.
package httpprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the HTTP probe.
const Kind = "http"

const defaultMaxBody = 64 << 10

// Config restricts where the probe may connect.
type Config struct {
	BlockPrivateNetworks bool
	AllowedHosts         []string
	MaxResponseBytes     int64 // 0 = 64 KiB
}

// Target is a validated request.
type Target struct {
	URL   *url.URL
	Host  string // Host header override.
	Scope string // Token scope; empty means anonymous.
	Hint  credential.Hint
}

// Capability issues one GET. With a "scope" parameter the request carries a
// bearer token from the identity named by the optional connection "name".
type Capability struct {
	guard   Guard
	maxBody int64
	client  *http.Client
}

// New returns an HTTP capability.
func New(cfg Config) *Capability {
	c := &Capability{
		guard:   Guard{Block: cfg.BlockPrivateNetworks, AllowedHosts: cfg.AllowedHosts},
		maxBody: cfg.MaxResponseBytes,
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxBody
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = c.guard.DialContext
	if c.guard.Block {
		// A proxy would be the dialed peer, hiding the target from the guard.
		transport.Proxy = nil
	}
	c.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return c.guard.Check(req.Context(), req.URL.Hostname())
		},
	}
	return c
}

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	raw, err := p.Required("url")
	if err != nil {
		return Target{}, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, verify.InvalidParam("url", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, verify.InvalidParam("url", raw, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	t := Target{URL: u, Host: p.Get("host"), Scope: p.Get("scope")}
	if t.Scope != "" && p.Name() != "" {
		d, err := conns.Resolve(ctx, p.Name())
		if err != nil {
			return Target{}, err
		}
		t.Hint = connection.TryGetCredentialValue(d).Hint
	}
	return t, nil
}

func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if t.Scope == "" {
		return nil, false
	}
	return &t.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, _ verify.Params) (verify.Result, error) {
	if err := c.guard.Check(ctx, t.URL.Hostname()); err != nil {
		return verify.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL.String(), nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "echoservice")
	if t.Host != "" {
		req.Host = t.Host
	}
	if cred != nil {
		tok, err := cred.Credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{t.Scope}})
		if err != nil {
			return verify.Result{}, fmt.Errorf("acquiring token for %s: %w", t.Scope, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return verify.Result{}, fmt.Errorf("GET %s: %w", t.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return verify.Result{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return verify.Result{}, fmt.Errorf("GET %s: unexpected status %s", t.URL.Redacted(), resp.Status)
	}

	truncated := int64(len(body)) > c.maxBody
	if truncated {
		body = body[:c.maxBody]
	}
	detail := fmt.Sprintf("status=%d; contentType=%s; length=%d", resp.StatusCode, resp.Header.Get("Content-Type"), len(body))
	if truncated {
		detail += "; truncated=true"
	}
	return verify.SucceededWithValue(
		fmt.Sprintf("Http '%s' is reachable", t.URL.Redacted()),
		detail,
		strings.ToValidUTF8(string(body), "�"),
	), nil
}
