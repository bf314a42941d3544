// Package cosmos verifies Azure Cosmos DB containers and the Cosmos-backed
// distributed cache.
package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

const (
	KindContainer = "cosmos"
	KindCache     = "cosmos-cache"
)

// CacheProbeKey is the entry the cache probe reads.
const CacheProbeKey = "CosmosCacheVerifier"

// Options is the connection string view, e.g.
// "AccountEndpoint=https://acc.documents.azure.com:443/;DatabaseName=app;ContainerName=orders;ManagedIdentityClientId=...".
type Options struct {
	AccountEndpoint string
	AccountKey      string
	DatabaseName    string
	ContainerName   string
	credential.Hint `mapstructure:",squash"`
}

// Target is the resolved connection plus its options.
type Target struct {
	Descriptor *connection.Descriptor
	Options    Options
}

// Capability reads a container (and optionally one item), or, in cache
// mode, the probe entry of a cache container.
type Capability struct {
	cache bool
}

// NewContainer returns the "cosmos" capability.
func NewContainer() *Capability { return &Capability{} }

// NewCache returns the "cosmos-cache" capability.
func NewCache() *Capability { return &Capability{cache: true} }

func (c *Capability) Kind() string {
	if c.cache {
		return KindCache
	}
	return KindContainer
}

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	var opts Options
	if err := connection.Bind(d, &opts); err != nil {
		return Target{}, err
	}
	if v := p.Get("database"); v != "" {
		opts.DatabaseName = v
	}
	if v := p.Get("container"); v != "" {
		opts.ContainerName = v
	}
	switch {
	case opts.AccountEndpoint == "":
		return Target{}, connection.Missing("AccountEndpoint for connection", d.Name)
	case opts.DatabaseName == "":
		return Target{}, verify.MissingParam("database")
	case opts.ContainerName == "":
		return Target{}, verify.MissingParam("container")
	}
	return Target{Descriptor: d, Options: opts}, nil
}

// CredentialHint prefers an explicit identity, then the account key, then
// the ambient default.
func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if t.Options.Hint.IsEmpty() && t.Options.AccountKey != "" {
		return nil, false
	}
	return &t.Options.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, p verify.Params) (verify.Result, error) {
	client, auth, err := newClient(t.Options, cred)
	if err != nil {
		return verify.Result{}, err
	}
	container, err := client.NewContainer(t.Options.DatabaseName, t.Options.ContainerName)
	if err != nil {
		return verify.Result{}, fmt.Errorf("opening container %s/%s: %w", t.Options.DatabaseName, t.Options.ContainerName, err)
	}
	base := fmt.Sprintf("database=%s; container=%s; auth=%s", t.Options.DatabaseName, t.Options.ContainerName, auth)

	if c.cache {
		item, err := container.ReadItem(ctx, azcosmos.NewPartitionKeyString(CacheProbeKey), CacheProbeKey, nil)
		if isNotFound(err) {
			return verify.Succeeded(verify.ConnectedMessage("CosmosCache", t.Descriptor), base+"; entry=absent"), nil
		}
		if err != nil {
			return verify.Result{}, fmt.Errorf("reading cache entry: %w", err)
		}
		return verify.Succeeded(verify.ConnectedMessage("CosmosCache", t.Descriptor),
			fmt.Sprintf("%s; entry=present; requestCharge=%.2f", base, item.RequestCharge)), nil
	}

	key := p.Get("key")
	if key == "" {
		resp, err := container.Read(ctx, nil)
		if err != nil {
			return verify.Result{}, fmt.Errorf("reading container: %w", err)
		}
		detail := base
		if props := resp.ContainerProperties; props != nil {
			detail += fmt.Sprintf("; partitionKey=%v", props.PartitionKeyDefinition.Paths)
		}
		return verify.Succeeded(verify.ConnectedMessage("Cosmos", t.Descriptor), detail), nil
	}

	item, err := container.ReadItem(ctx, azcosmos.NewPartitionKeyString(key), key, nil)
	if isNotFound(err) {
		return verify.Result{}, &connection.NotFoundError{Kind: "item", Name: key}
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("reading item %s: %w", key, err)
	}
	detail := fmt.Sprintf("%s; requestCharge=%.2f", base, item.RequestCharge)
	return verify.SucceededWithValue(verify.ConnectedMessage("Cosmos", t.Descriptor), detail, json.RawMessage(item.Value)), nil
}

func newClient(o Options, cred *credential.Resolved) (*azcosmos.Client, string, error) {
	if cred == nil {
		key, err := azcosmos.NewKeyCredential(o.AccountKey)
		if err != nil {
			return nil, "", fmt.Errorf("invalid account key: %w", err)
		}
		client, err := azcosmos.NewClientWithKey(o.AccountEndpoint, key, nil)
		if err != nil {
			return nil, "", fmt.Errorf("creating cosmos client: %w", err)
		}
		return client, "accountKey " + credential.Redact(o.AccountKey), nil
	}
	client, err := azcosmos.NewClient(o.AccountEndpoint, cred.Credential, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating cosmos client: %w", err)
	}
	return client, string(cred.Mechanism), nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
