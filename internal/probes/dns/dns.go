// Package dns resolves a host name and reports its addresses.
package dns

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the DNS probe.
const Kind = "dns"

// Resolver is the subset of *net.Resolver the probe uses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// HostEntry is the probe's value.
type HostEntry struct {
	HostName    string   `json:"hostName"`
	AddressList []string `json:"addressList"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Capability looks up the "host" parameter. An empty host means this
// machine's own name.
type Capability struct {
	resolver Resolver
}

// New returns a DNS capability. A nil resolver uses net.DefaultResolver.
func New(r Resolver) *Capability {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Capability{resolver: r}
}

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(_ context.Context, _ verify.Connections, p verify.Params) (string, error) {
	host := p.Get("host")
	if host == "" {
		name, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("reading local host name: %w", err)
		}
		host = name
	}
	return host, nil
}

func (c *Capability) CredentialHint(string) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(ctx context.Context, host string, _ *credential.Resolved, _ verify.Params) (verify.Result, error) {
	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return verify.Result{}, fmt.Errorf("lookup %s: %w", host, err)
	}
	entry := HostEntry{HostName: host, AddressList: addrs}

	// A failed CNAME lookup after a successful host lookup only drops aliases.
	if cname, err := c.resolver.LookupCNAME(ctx, host); err == nil {
		cname = strings.TrimSuffix(cname, ".")
		if cname != "" && !strings.EqualFold(cname, host) {
			entry.HostName = cname
			entry.Aliases = []string{host}
		}
	}
	return verify.SucceededWithValue(fmt.Sprintf("DNS Lookup %s", host), "", entry), nil
}
