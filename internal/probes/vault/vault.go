// Package vault verifies read access to a HashiCorp Vault KV v2 path.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/secrets"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the vault probe.
const Kind = "vault"

// Options is the connection string view:
// "Address=https://vault:8200;Token=...;Namespace=team;Path=secret/data/app".
type Options struct {
	Address       string
	Token         string
	Namespace     string
	Path          string
	TLSSkipVerify bool
}

// Target is the resolved connection plus its options.
type Target struct {
	Descriptor *connection.Descriptor
	Options    Options
}

// Capability lists the field names stored at a KV path. Values are never
// read into the result.
type Capability struct{}

// New returns the vault capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	var opts Options
	if d.IsKeyValue() {
		if err := connection.Bind(d, &opts); err != nil {
			return Target{}, err
		}
	} else {
		opts.Address = strings.TrimSpace(d.Value)
	}
	if path := p.Get("path"); path != "" {
		opts.Path = path
	}
	if opts.Path == "" {
		return Target{}, verify.MissingParam("path")
	}
	return Target{Descriptor: d, Options: opts}, nil
}

func (c *Capability) CredentialHint(Target) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(ctx context.Context, t Target, _ *credential.Resolved, _ verify.Params) (verify.Result, error) {
	provider, err := secrets.NewVaultProvider(secrets.VaultConfig{
		Address:       t.Options.Address,
		Token:         t.Options.Token,
		Namespace:     t.Options.Namespace,
		TLSSkipVerify: t.Options.TLSSkipVerify,
	})
	if err != nil {
		return verify.Result{}, err
	}
	keys, err := provider.Keys(ctx, t.Options.Path)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		return verify.Result{}, &connection.NotFoundError{Kind: "vault path", Name: t.Options.Path}
	}
	if err != nil {
		return verify.Result{}, err
	}
	detail := fmt.Sprintf("address=%s; path=%s; keys=%d", provider.Address(), t.Options.Path, len(keys))
	return verify.SucceededWithValue(verify.ConnectedMessage("Vault", t.Descriptor), detail, keys), nil
}
