package connection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/echoservice/internal/secrets"
)

// Entry is one configured connection string as a source stores it.
type Entry struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Provider string `json:"provider,omitempty"`
}

// Source is a place connection strings are read from.
type Source interface {
	// Lookup returns the entry for name, matched case-insensitively.
	Lookup(ctx context.Context, name string) (Entry, bool, error)
	List(ctx context.Context) ([]Entry, error)
	Name() string
}

// StaticSource serves a fixed set of entries, typically from configuration.
type StaticSource struct {
	name    string
	entries map[string]Entry // lower-cased name -> entry
}

// NewStaticSource builds a source over entries. Later duplicates win.
func NewStaticSource(name string, entries []Entry) *StaticSource {
	s := &StaticSource{name: name, entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		s.entries[strings.ToLower(e.Name)] = e
	}
	return s
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Lookup(_ context.Context, name string) (Entry, bool, error) {
	e, ok := s.entries[strings.ToLower(name)]
	return e, ok, nil
}

func (s *StaticSource) List(_ context.Context) ([]Entry, error) {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolver turns connection names into descriptors. Sources are consulted
// in order and the first match wins. Nothing is cached.
type Resolver struct {
	sources []Source
	secrets secrets.Provider
}

// NewResolver creates a resolver. secretProvider may be nil, in which case
// references are left unexpanded.
func NewResolver(secretProvider secrets.Provider, sources ...Source) *Resolver {
	return &Resolver{sources: sources, secrets: secretProvider}
}

// Resolve looks name up and expands secret references in its value.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &NotFoundError{}
	}
	for _, src := range r.sources {
		entry, ok, err := src.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reading connection string '%s' from %s: %w", name, src.Name(), err)
		}
		if !ok {
			continue
		}
		if entry.Name == "" {
			entry.Name = name
		}
		return r.describe(ctx, entry)
	}
	return nil, &NotFoundError{Name: name}
}

// List returns every known connection, first source wins on duplicate
// names. Values are not expanded.
func (r *Resolver) List(ctx context.Context) ([]*Descriptor, error) {
	seen := make(map[string]bool)
	var out []*Descriptor
	for _, src := range r.sources {
		entries, err := src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing connection strings from %s: %w", src.Name(), err)
		}
		for _, e := range entries {
			key := strings.ToLower(e.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, newDescriptor(e, e.Value))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Resolver) describe(ctx context.Context, e Entry) (*Descriptor, error) {
	value, err := r.expand(ctx, e.Value)
	if err != nil {
		return nil, fmt.Errorf("connection string '%s': %w", e.Name, err)
	}
	return newDescriptor(e, value), nil
}

// expand substitutes secret references, either the whole value or the
// value of individual key=value pairs.
func (r *Resolver) expand(ctx context.Context, raw string) (string, error) {
	if r.secrets == nil {
		return raw, nil
	}
	if secrets.IsReference(raw) {
		s, err := r.secrets.Resolve(ctx, raw)
		if err != nil {
			return "", err
		}
		return s.Value, nil
	}
	pairs, err := parsePairs(raw)
	if err != nil {
		return raw, nil
	}
	changed := false
	for i, p := range pairs {
		if !secrets.IsReference(p.value) {
			continue
		}
		s, err := r.secrets.Resolve(ctx, p.value)
		if err != nil {
			return "", fmt.Errorf("key '%s': %w", p.key, err)
		}
		pairs[i].value = s.Value
		changed = true
	}
	if !changed {
		return raw, nil
	}
	return formatPairs(pairs), nil
}

func newDescriptor(e Entry, value string) *Descriptor {
	provider, custom := ParseProvider(e.Provider)
	d := &Descriptor{
		Name:           e.Name,
		Raw:            e.Value,
		Value:          value,
		Provider:       provider,
		CustomProvider: custom,
	}
	if kv, err := ParseKeyValues(value); err == nil {
		d.Custom = kv
	}
	return d
}
