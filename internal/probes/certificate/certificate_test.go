package certificate

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/diag"
	"github.com/jkaninda/echoservice/internal/verify"
)

type noCredentials struct{}

func (noCredentials) ResolveOrDefault(*diag.Scope, *credential.Hint) credential.Resolved {
	return credential.Resolved{}
}

func selfSigned(t *testing.T) (certDER []byte, keyDER []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "echo.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err = x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err = x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return certDER, keyDER
}

func TestProbe_PEM(t *testing.T) {
	certDER, keyDER := selfSigned(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tls.pem")
	data := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	conns := connection.NewResolver(nil, connection.NewStaticSource("test", []connection.Entry{
		{Name: "tls", Value: "Path=" + path},
	}))
	res := verify.New[Target](New(), conns, noCredentials{}).
		Verify(context.Background(), diag.NewScope(), verify.Params{"name": "tls"})
	if !res.Success() {
		t.Fatalf("Verify failed: %s", res.ErrorSummary())
	}
	if res.Message() != "Certificate 'tls/Default/' is connected" {
		t.Errorf("Message = %q", res.Message())
	}
	v, _ := res.Value()
	lines := v.([]string)
	if len(lines) != 1 || !strings.Contains(lines[0], "CN=echo.test") || !strings.HasSuffix(lines[0], "HasPrivateKey=true") {
		t.Errorf("value = %v", lines)
	}
}

func TestDecode(t *testing.T) {
	certDER, _ := selfSigned(t)

	b, err := Decode(certDER)
	if err != nil {
		t.Fatalf("Decode(DER): %v", err)
	}
	if len(b.Certificates) != 1 || b.HasPrivateKey {
		t.Errorf("bundle = %+v", b)
	}

	if _, err := Decode([]byte("not a certificate")); err != ErrNoCertificate {
		t.Errorf("Decode(garbage) error = %v, want ErrNoCertificate", err)
	}
}

func TestProbe_MissingFile(t *testing.T) {
	conns := connection.NewResolver(nil, connection.NewStaticSource("test", []connection.Entry{
		{Name: "tls", Value: filepath.Join(t.TempDir(), "absent.pem")},
	}))
	res := verify.New[Target](New(), conns, noCredentials{}).
		Verify(context.Background(), nil, verify.Params{"name": "tls"})
	if res.Success() || !strings.Contains(res.ErrorSummary(), "reading certificate") {
		t.Errorf("result = %q", res.ErrorSummary())
	}
}
