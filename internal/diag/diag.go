// Package diag holds the per-request diagnostic scope.
//
// A Scope is created by the dispatch layer for each verification, handed
// explicitly to the credential resolver and verifiers, and read back after
// the call completes to enrich the log line and failure diagnostics.
// Values written here must already be redacted.
package diag

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Well-known scope keys.
const (
	KeyCredentialType = "credential_type"
	KeyCredentialInfo = "credential_info"
	KeyCorrelationID  = "correlation_id"
	KeyErrorClass     = "error_class"
)

// Scope is a mutable key/value sink. Safe for concurrent use.
// A nil *Scope discards writes.
type Scope struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{entries: make(map[string]string)}
}

// Set records key=value, replacing any earlier value for key.
func (s *Scope) Set(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
}

// PushCredential records which credential mechanism served the request.
// The identifier lands under "credential_<mechanism>"; an empty identifier
// is skipped.
func (s *Scope) PushCredential(mechanism, identifier string) {
	s.Set(KeyCredentialType, mechanism)
	if identifier != "" {
		s.Set("credential_"+mechanism, identifier)
	}
}

// Get returns the value stored under key.
func (s *Scope) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Entries returns a copy of the recorded entries.
func (s *Scope) Entries() map[string]string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return maps.Clone(s.entries)
}

// Attrs renders the entries as slog attributes in key order.
func (s *Scope) Attrs() []slog.Attr {
	entries := s.Entries()
	keys := slices.Sorted(maps.Keys(entries))
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, entries[k]))
	}
	return attrs
}
