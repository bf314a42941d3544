// Package blob verifies Azure Blob Storage containers and blobs.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the blob probe.
const Kind = "blob"

// Options is the key/value view of a blob connection. Value holds an
// account, container or blob URL.
type Options struct {
	Value           string
	AccountName     string
	AccountKey      string
	Container       string
	Blob            string
	credential.Hint `mapstructure:",squash"`
}

// Target is a resolved blob location and the way to authenticate to it.
type Target struct {
	Descriptor       *connection.Descriptor // nil when probing a bare "url" parameter
	AccountURL       string
	ConnectionString string
	AccountName      string
	AccountKey       string
	Container        string
	Blob             string
	Hint             credential.Hint
}

// Capability reads blob properties, or container properties when no blob
// is named. A missing blob or container is a not-found failure.
type Capability struct{}

// New returns the blob capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	var t Target
	if raw := p.Get("url"); raw != "" && p.Name() == "" {
		if err := t.setURL(raw); err != nil {
			return Target{}, verify.InvalidParam("url", raw, err)
		}
	} else {
		d, err := conns.Resolve(ctx, p.Name())
		if err != nil {
			return Target{}, err
		}
		t.Descriptor = d
		var opts Options
		if d.IsKeyValue() {
			if err := connection.Bind(d, &opts); err != nil {
				return Target{}, err
			}
		} else {
			opts.Value = strings.TrimSpace(d.Value)
		}
		t.Hint = opts.Hint
		t.Container, t.Blob = opts.Container, opts.Blob
		if opts.AccountKey != "" && opts.Value == "" {
			t.ConnectionString = d.Value
		} else {
			if err := t.setURL(opts.Value); err != nil {
				return Target{}, fmt.Errorf("connection '%s': %w", d.Name, err)
			}
			t.AccountName, t.AccountKey = opts.AccountName, opts.AccountKey
			if t.AccountKey != "" && t.AccountName == "" {
				t.AccountName = accountFromHost(t.AccountURL)
			}
		}
	}
	if v := p.Get("container"); v != "" {
		t.Container = v
	}
	if v := p.Get("blob"); v != "" {
		t.Blob = v
	}
	if t.Container == "" {
		return Target{}, verify.MissingParam("container")
	}
	return t, nil
}

// setURL splits an account, container or blob URL.
func (t *Target) setURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if segments[0] != "" {
		t.Container = segments[0]
	}
	if len(segments) == 2 {
		t.Blob = segments[1]
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	t.AccountURL = u.String()
	return nil
}

func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if t.ConnectionString != "" || t.AccountKey != "" {
		return nil, false
	}
	return &t.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, _ verify.Params) (verify.Result, error) {
	if t.Blob == "" {
		return c.probeContainer(ctx, t, cred)
	}
	client, err := newBlobClient(t, cred)
	if err != nil {
		return verify.Result{}, err
	}
	props, err := client.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return verify.Result{}, &connection.NotFoundError{Kind: "blob", Name: t.Container + "/" + t.Blob}
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("reading blob properties: %w", err)
	}
	var length int64
	if props.ContentLength != nil {
		length = *props.ContentLength
	}
	detail := fmt.Sprintf("container=%s; blob=%s; length=%d; modified=%s", t.Container, t.Blob, length, formatTime(props.LastModified))
	return verify.Succeeded(t.message(), detail), nil
}

func (c *Capability) probeContainer(ctx context.Context, t Target, cred *credential.Resolved) (verify.Result, error) {
	client, err := newContainerClient(t, cred)
	if err != nil {
		return verify.Result{}, err
	}
	props, err := client.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return verify.Result{}, &connection.NotFoundError{Kind: "container", Name: t.Container}
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("reading container properties: %w", err)
	}
	return verify.Succeeded(t.message(), fmt.Sprintf("container=%s; modified=%s", t.Container, formatTime(props.LastModified))), nil
}

func (t Target) message() string {
	if t.Descriptor == nil {
		return fmt.Sprintf("BlobUri '%s/%s' is connected", t.AccountURL, strings.TrimSuffix(t.Container+"/"+t.Blob, "/"))
	}
	return verify.ConnectedMessage("Blob", t.Descriptor)
}

func newBlobClient(t Target, cred *credential.Resolved) (*azblobblob.Client, error) {
	blobURL := fmt.Sprintf("%s/%s/%s", t.AccountURL, t.Container, t.Blob)
	var (
		client *azblobblob.Client
		err    error
	)
	switch {
	case t.ConnectionString != "":
		client, err = azblobblob.NewClientFromConnectionString(t.ConnectionString, t.Container, t.Blob, nil)
	case t.AccountKey != "":
		var key *azblob.SharedKeyCredential
		if key, err = azblob.NewSharedKeyCredential(t.AccountName, t.AccountKey); err == nil {
			client, err = azblobblob.NewClientWithSharedKeyCredential(blobURL, key, nil)
		}
	default:
		client, err = azblobblob.NewClient(blobURL, cred.Credential, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return client, nil
}

func newContainerClient(t Target, cred *credential.Resolved) (*container.Client, error) {
	containerURL := fmt.Sprintf("%s/%s", t.AccountURL, t.Container)
	var (
		client *container.Client
		err    error
	)
	switch {
	case t.ConnectionString != "":
		client, err = container.NewClientFromConnectionString(t.ConnectionString, t.Container, nil)
	case t.AccountKey != "":
		var key *azblob.SharedKeyCredential
		if key, err = azblob.NewSharedKeyCredential(t.AccountName, t.AccountKey); err == nil {
			client, err = container.NewClientWithSharedKeyCredential(containerURL, key, nil)
		}
	default:
		client, err = container.NewClient(containerURL, cred.Credential, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating container client: %w", err)
	}
	return client, nil
}

// accountFromHost returns "acct" for https://acct.blob.core.windows.net.
func accountFromHost(accountURL string) string {
	u, err := url.Parse(accountURL)
	if err != nil {
		return ""
	}
	name, _, _ := strings.Cut(u.Hostname(), ".")
	return name
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
