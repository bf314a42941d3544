// Package keyvault verifies Azure Key Vault secrets, keys and certificates.
// Secret values are never part of a result.
package keyvault

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/probes/certificate"
	"github.com/jkaninda/echoservice/internal/verify"
)

const (
	KindSecret      = "keyvault-secret"
	KindKey         = "keyvault-key"
	KindCertificate = "keyvault-certificate"
)

// Item locates one vault object.
type Item struct {
	VaultURL string
	Name     string
	Version  string
}

// ParseItemURL splits "https://vault.vault.azure.net/<collection>/<name>[/<version>]".
// A bare vault URL yields an Item with an empty Name.
func ParseItemURL(raw, collection string) (Item, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Item{}, err
	}
	if u.Scheme != "https" || u.Host == "" {
		return Item{}, fmt.Errorf("%q is not an https vault URL", raw)
	}
	item := Item{VaultURL: "https://" + u.Host + "/"}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == collection {
		item.Name = parts[1]
		if len(parts) >= 3 {
			item.Version = parts[2]
		}
	} else if parts[0] != "" {
		return Item{}, fmt.Errorf("%q does not address a %s item", raw, strings.TrimSuffix(collection, "s"))
	}
	return item, nil
}

// Target is the resolved vault item and identity hint.
type Target struct {
	Descriptor *connection.Descriptor
	Item       Item
	Hint       credential.Hint
}

type mode int

const (
	modeSecret mode = iota
	modeKey
	modeCertificate
)

// Capability reads one vault object through an identity.
type Capability struct {
	mode mode
}

// NewSecret returns the keyvault-secret capability. The item name comes
// from the URL path or the "secret" parameter.
func NewSecret() *Capability { return &Capability{mode: modeSecret} }

// NewKey returns the keyvault-key capability ("key" parameter).
func NewKey() *Capability { return &Capability{mode: modeKey} }

// NewCertificate returns the keyvault-certificate capability
// ("certificate" parameter; "privateKey=true" reads the backing secret).
func NewCertificate() *Capability { return &Capability{mode: modeCertificate} }

func (c *Capability) Kind() string {
	switch c.mode {
	case modeKey:
		return KindKey
	case modeCertificate:
		return KindCertificate
	default:
		return KindSecret
	}
}

func (c *Capability) param() string {
	return strings.TrimPrefix(c.Kind(), "keyvault-")
}

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	cv := connection.TryGetCredentialValue(d)
	if cv.Value == "" {
		return Target{}, connection.Missing("vault URL for connection", d.Name)
	}
	item, err := ParseItemURL(cv.Value, c.param()+"s")
	if err != nil {
		return Target{}, fmt.Errorf("connection '%s': %w", d.Name, err)
	}
	if v := p.Get(c.param()); v != "" {
		item.Name = v
	}
	if v := p.Get("version"); v != "" {
		item.Version = v
	}
	if item.Name == "" {
		return Target{}, verify.MissingParam(c.param())
	}
	return Target{Descriptor: d, Item: item, Hint: cv.Hint}, nil
}

func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) { return &t.Hint, true }

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, p verify.Params) (verify.Result, error) {
	var (
		res verify.Result
		err error
	)
	switch c.mode {
	case modeKey:
		res, err = c.probeKey(ctx, t, cred.Credential)
	case modeCertificate:
		res, err = c.probeCertificate(ctx, t, cred.Credential, p.Bool("privateKey"))
	default:
		res, err = c.probeSecret(ctx, t, cred.Credential)
	}
	if isNotFound(err) {
		return verify.Result{}, &connection.NotFoundError{Kind: c.param(), Name: t.Item.Name}
	}
	return res, err
}

// SecretInfo describes a secret without its value.
type SecretInfo struct {
	Length      int        `json:"length"`
	ContentType string     `json:"contentType,omitempty"`
	Enabled     *bool      `json:"enabled,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	Expires     *time.Time `json:"expires,omitempty"`
}

func (c *Capability) probeSecret(ctx context.Context, t Target, cred azcore.TokenCredential) (verify.Result, error) {
	client, err := azsecrets.NewClient(t.Item.VaultURL, cred, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating secret client: %w", err)
	}
	resp, err := client.GetSecret(ctx, t.Item.Name, t.Item.Version, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("getting secret %s: %w", t.Item.Name, err)
	}
	info := SecretInfo{}
	if resp.Value != nil {
		info.Length = len(*resp.Value)
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if a := resp.Attributes; a != nil {
		info.Enabled, info.Updated, info.Expires = a.Enabled, a.Updated, a.Expires
	}
	detail := fmt.Sprintf("secret=%s; length=%d", t.Item.Name, info.Length)
	return verify.SucceededWithValue(verify.ConnectedMessage("KeyVaultSecret", t.Descriptor), detail, info), nil
}

func (c *Capability) probeKey(ctx context.Context, t Target, cred azcore.TokenCredential) (verify.Result, error) {
	client, err := azkeys.NewClient(t.Item.VaultURL, cred, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating key client: %w", err)
	}
	resp, err := client.GetKey(ctx, t.Item.Name, t.Item.Version, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("getting key %s: %w", t.Item.Name, err)
	}
	keyType := ""
	var ops []string
	if k := resp.Key; k != nil {
		if k.Kty != nil {
			keyType = string(*k.Kty)
		}
		for _, op := range k.KeyOps {
			if op != nil {
				ops = append(ops, string(*op))
			}
		}
	}
	enabled := resp.Attributes != nil && resp.Attributes.Enabled != nil && *resp.Attributes.Enabled
	detail := fmt.Sprintf("KeyType=%s; Enabled=%t; Operations=%s", keyType, enabled, strings.Join(ops, ","))
	return verify.Succeeded(verify.ConnectedMessage("KeyVaultKey", t.Descriptor), detail), nil
}

func (c *Capability) probeCertificate(ctx context.Context, t Target, cred azcore.TokenCredential, privateKey bool) (verify.Result, error) {
	msg := verify.ConnectedMessage("KeyVaultCertificate", t.Descriptor)
	if !privateKey {
		client, err := azcertificates.NewClient(t.Item.VaultURL, cred, nil)
		if err != nil {
			return verify.Result{}, fmt.Errorf("creating certificate client: %w", err)
		}
		resp, err := client.GetCertificate(ctx, t.Item.Name, t.Item.Version, nil)
		if err != nil {
			return verify.Result{}, fmt.Errorf("getting certificate %s: %w", t.Item.Name, err)
		}
		cert, err := x509.ParseCertificate(resp.CER)
		if err != nil {
			return verify.Result{}, fmt.Errorf("parsing certificate %s: %w", t.Item.Name, err)
		}
		return verify.Succeeded(msg, certificate.Format(cert, false)), nil
	}

	client, err := azsecrets.NewClient(t.Item.VaultURL, cred, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating secret client: %w", err)
	}
	resp, err := client.GetSecret(ctx, t.Item.Name, t.Item.Version, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("getting certificate secret %s: %w", t.Item.Name, err)
	}
	if resp.Value == nil {
		return verify.Result{}, fmt.Errorf("certificate secret %s has no value", t.Item.Name)
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	bundle, length, err := decodeSecret(*resp.Value, contentType)
	if err != nil {
		return verify.Result{}, fmt.Errorf("certificate secret %s: %w", t.Item.Name, err)
	}
	detail := fmt.Sprintf("%s; Length=%d", certificate.Format(bundle.Certificates[0], bundle.HasPrivateKey), length)
	return verify.Succeeded(msg, detail), nil
}

// decodeSecret reads the secret backing a certificate: base64 PFX or PEM.
func decodeSecret(value, contentType string) (*certificate.Bundle, int, error) {
	if strings.Contains(contentType, "pem") {
		b, err := certificate.Decode([]byte(value))
		return b, len(value), err
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding pkcs12: %w", err)
	}
	b, err := certificate.DecodePKCS12(raw, "")
	return b, len(raw), err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
