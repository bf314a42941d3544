package secrets

import (
	"context"
	"fmt"
)

// CompositeProvider routes each reference to the provider registered for
// its scheme. When several providers share a scheme they are tried in
// order and the first success wins.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a provider that delegates to the given providers.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	return &CompositeProvider{providers: providers}
}

func (p *CompositeProvider) Name() string { return "composite" }

func (p *CompositeProvider) Resolve(ctx context.Context, ref string) (*Secret, error) {
	scheme := Scheme(ref)
	if scheme == "" {
		return nil, fmt.Errorf("%w: %q is not a secret reference", ErrSecretNotFound, ref)
	}
	var lastErr error
	for _, provider := range p.providers {
		if provider.Name() != scheme {
			continue
		}
		secret, err := provider.Resolve(ctx, ref)
		if err == nil {
			return secret, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: no %s provider configured", ErrSecretNotFound, scheme)
}
