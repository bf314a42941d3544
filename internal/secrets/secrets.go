// Package secrets resolves secret references embedded in connection strings.
//
// A reference is a URI-like string whose scheme names the backend:
//
//	env://DB_PASSWORD
//	vault://secret/data/orders/db#password
//	keyring://echoservice/orders-db
//
// Resolved values are substituted into connection strings before they are
// parsed and must never be logged or returned in diagnostics.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Secret holds resolved secret material. Never serialize it.
type Secret struct {
	Value    string            // The raw secret value.
	Metadata map[string]string // Backend-specific metadata (source, path, field).
}

// Provider resolves references of one scheme. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Resolve returns the secret behind ref. Returns an error wrapping
	// ErrSecretNotFound when the reference cannot be resolved.
	Resolve(ctx context.Context, ref string) (*Secret, error)

	// Name returns the scheme handled by the provider ("env", "vault", ...).
	Name() string
}

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = fmt.Errorf("secret not found")

var knownSchemes = []string{"env", "vault", "keyring"}

// Scheme returns the scheme of ref, or "" when ref is not a reference.
func Scheme(ref string) string {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(ref), "://")
	if !ok || rest == "" {
		return ""
	}
	scheme = strings.ToLower(scheme)
	for _, s := range knownSchemes {
		if s == scheme {
			return s
		}
	}
	return ""
}

// IsReference reports whether s is a secret reference of a known scheme.
func IsReference(s string) bool {
	return Scheme(s) != ""
}
