// Package certificate loads a certificate file named by a connection and
// reports its subject and expiry.
package certificate

import (
	"context"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the certificate probe.
const Kind = "certificate"

// ErrNoCertificate is returned when the data holds no certificate.
var ErrNoCertificate = errors.New("certificate not found")

// Options is the connection string view: "Path=/certs/app.pfx;Password=...".
type Options struct {
	Path     string
	Password string
}

// Target is the resolved connection plus its options.
type Target struct {
	Descriptor *connection.Descriptor
	Options    Options
}

// Bundle is what a certificate file decodes to.
type Bundle struct {
	Certificates  []*x509.Certificate
	HasPrivateKey bool
}

// Capability reads a certificate from the local filesystem.
type Capability struct{}

// New returns the certificate capability.
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
		opts.Path = strings.TrimSpace(d.Value)
	}
	if opts.Path == "" {
		return Target{}, connection.Missing("certificate path", d.Name)
	}
	return Target{Descriptor: d, Options: opts}, nil
}

func (c *Capability) CredentialHint(Target) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(_ context.Context, t Target, _ *credential.Resolved, _ verify.Params) (verify.Result, error) {
	data, err := os.ReadFile(filepath.Clean(t.Options.Path))
	if err != nil {
		return verify.Result{}, fmt.Errorf("reading certificate: %w", err)
	}
	pfx := strings.HasSuffix(strings.ToLower(t.Options.Path), ".pfx") || strings.HasSuffix(strings.ToLower(t.Options.Path), ".p12")
	var b *Bundle
	if pfx {
		b, err = DecodePKCS12(data, t.Options.Password)
	} else {
		b, err = Decode(data)
	}
	if err != nil {
		return verify.Result{}, err
	}
	out := make([]string, 0, len(b.Certificates))
	for _, cert := range b.Certificates {
		out = append(out, Format(cert, b.HasPrivateKey))
	}
	return verify.SucceededWithValue(verify.ConnectedMessage("Certificate", t.Descriptor), "", out), nil
}

// Decode reads PEM blocks, or a single DER certificate when data is not PEM.
func Decode(data []byte) (*Bundle, error) {
	b := &Bundle{}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if err := b.add(block); err != nil {
			return nil, err
		}
	}
	if len(b.Certificates) == 0 && !b.HasPrivateKey {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, ErrNoCertificate
		}
		b.Certificates = append(b.Certificates, cert)
	}
	if len(b.Certificates) == 0 {
		return nil, ErrNoCertificate
	}
	return b, nil
}

// DecodePKCS12 reads a PFX archive protected by password.
func DecodePKCS12(data []byte, password string) (*Bundle, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decoding pkcs12: %w", err)
	}
	b := &Bundle{}
	for _, block := range blocks {
		if err := b.add(block); err != nil {
			return nil, err
		}
	}
	if len(b.Certificates) == 0 {
		return nil, ErrNoCertificate
	}
	return b, nil
}

func (b *Bundle) add(block *pem.Block) error {
	switch {
	case block.Type == "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("parsing certificate: %w", err)
		}
		b.Certificates = append(b.Certificates, cert)
	case strings.HasSuffix(block.Type, "PRIVATE KEY"):
		b.HasPrivateKey = true
	}
	return nil
}

// Format renders the one-line certificate summary.
func Format(cert *x509.Certificate, hasPrivateKey bool) string {
	sum := sha1.Sum(cert.Raw)
	return fmt.Sprintf("Subject=%s; Expires=%s; Thumbprint=%s; HasPrivateKey=%t",
		cert.Subject.String(),
		cert.NotAfter.UTC().Format(time.RFC3339),
		strings.ToUpper(hex.EncodeToString(sum[:])),
		hasPrivateKey,
	)
}
