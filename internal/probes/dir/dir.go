// Package dir verifies that a local path exists and describes it.
package dir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the directory probe.
const Kind = "dir"

const listLimit = 10

// Capability checks a filesystem path. The path comes from the "path"
// parameter, or from the value of the connection named by "name".
type Capability struct{}

// New returns the directory capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (string, error) {
	if path := p.Get("path"); path != "" {
		return path, nil
	}
	if p.Name() == "" {
		return "", verify.MissingParam("path")
	}
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return "", err
	}
	if v, ok := d.Lookup("Path"); ok && v != "" {
		return v, nil
	}
	return d.Value, nil
}

func (c *Capability) CredentialHint(string) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(_ context.Context, path string, _ *credential.Resolved, _ verify.Params) (verify.Result, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return verify.Failed(verify.Failure{
			Message: fmt.Sprintf("Path '%s' is not exist", path),
			Error:   "not found",
		}), nil
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		detail := fmt.Sprintf("length=%d; updated=%s", info.Size(), info.ModTime().UTC().Format(time.RFC3339))
		return verify.Succeeded(fmt.Sprintf("File '%s' is exist", path), detail), nil
	}

	files, err := listFiles(path)
	if err != nil {
		return verify.Result{}, err
	}
	shown := files
	if len(files) > listLimit {
		shown = append(append([]string{}, files[:listLimit]...), "...")
	}
	return verify.SucceededWithValue(
		fmt.Sprintf("Directory '%s' is exist", path),
		fmt.Sprintf("length=%d", len(files)),
		shown,
	), nil
}

// listFiles returns the sorted names of the regular files directly in dir.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
