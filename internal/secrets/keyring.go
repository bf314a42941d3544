package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringProvider resolves "keyring://service/user" references from the
// operating system keyring (Secret Service, macOS Keychain, Windows
// Credential Manager).
type KeyringProvider struct{}

// NewKeyringProvider creates a keyring-backed provider.
func NewKeyringProvider() *KeyringProvider { return &KeyringProvider{} }

func (p *KeyringProvider) Name() string { return "keyring" }

func (p *KeyringProvider) Resolve(_ context.Context, ref string) (*Secret, error) {
	const prefix = "keyring://"
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("%w: keyring provider only handles keyring:// references", ErrSecretNotFound)
	}
	service, user, ok := strings.Cut(strings.TrimPrefix(ref, prefix), "/")
	if !ok || service == "" || user == "" {
		return nil, fmt.Errorf("%w: keyring reference must be keyring://service/user", ErrSecretNotFound)
	}

	value, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: keyring entry %s/%s", ErrSecretNotFound, service, user)
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring entry %s/%s: %w", service, user, err)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "keyring", "service": service, "user": user},
	}, nil
}
