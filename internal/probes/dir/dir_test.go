package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/diag"
	"github.com/jkaninda/echoservice/internal/verify"
)

type noCredentials struct{}

func (noCredentials) ResolveOrDefault(*diag.Scope, *credential.Hint) credential.Resolved {
	return credential.Resolved{}
}

func newVerifier(entries ...connection.Entry) *verify.Verifier[string] {
	conns := connection.NewResolver(nil, connection.NewStaticSource("test", entries))
	return verify.New[string](New(), conns, noCredentials{})
}

func TestProbe_MissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	res := newVerifier().Verify(context.Background(), diag.NewScope(), verify.Params{"path": missing})

	if res.Success() {
		t.Fatal("Verify succeeded for a missing path")
	}
	if got, want := res.Message(), fmt.Sprintf("Path '%s' is not exist", missing); got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
	if res.Detail() != "" {
		t.Errorf("Detail = %q, want empty", res.Detail())
	}
	if res.ErrorSummary() == "" {
		t.Error("empty error summary")
	}
}

func TestProbe_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := newVerifier().Verify(context.Background(), nil, verify.Params{"path": path})
	if !res.Success() {
		t.Fatalf("Verify failed: %s", res.ErrorSummary())
	}
	if got, want := res.Message(), fmt.Sprintf("File '%s' is exist", path); got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestProbe_DirectoryListing(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		name := filepath.Join(dir, fmt.Sprintf("f%02d.txt", i))
		if err := os.WriteFile(name, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}

	res := newVerifier().Verify(context.Background(), nil, verify.Params{"path": dir})
	if !res.Success() {
		t.Fatalf("Verify failed: %s", res.ErrorSummary())
	}
	if res.Detail() != "length=12" {
		t.Errorf("Detail = %q, want length=12", res.Detail())
	}
	v, ok := res.Value()
	if !ok {
		t.Fatal("missing value")
	}
	files := v.([]string)
	if len(files) != 11 || files[0] != "f00.txt" || files[10] != "..." {
		t.Errorf("listing = %v", files)
	}
}

func TestProbe_PathFromConnection(t *testing.T) {
	dir := t.TempDir()
	v := newVerifier(connection.Entry{Name: "data", Value: "Path=" + dir})
	res := v.Verify(context.Background(), nil, verify.Params{"name": "data"})
	if !res.Success() {
		t.Fatalf("Verify failed: %s", res.ErrorSummary())
	}

	res = v.Verify(context.Background(), nil, verify.Params{})
	if res.Success() || res.ErrorSummary() != "parameter 'path' is required" {
		t.Errorf("no input: %q", res.ErrorSummary())
	}
}
