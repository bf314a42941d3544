package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// VaultConfig configures a VaultProvider. Empty fields fall back to
// VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	Timeout       time.Duration // Default 5s.
	TLSSkipVerify bool
}

// VaultConfigFromMap reads a VaultConfig from a provider config block
// (keys: address, token, namespace, timeout, tls_skip_verify).
func VaultConfigFromMap(m map[string]string) (VaultConfig, error) {
	cfg := VaultConfig{
		Address:       m["address"],
		Token:         m["token"],
		Namespace:     m["namespace"],
		TLSSkipVerify: strings.EqualFold(m["tls_skip_verify"], "true"),
	}
	if t := m["timeout"]; t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return cfg, fmt.Errorf("invalid vault timeout %q: %w", t, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// VaultProvider reads HashiCorp Vault KV v2 secrets.
//
// Reference format: "vault://secret/data/orders/db#password". The path is
// the full KV v2 API path; the optional #field selects one value, otherwise
// the whole data map is returned as JSON.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a token-authenticated Vault provider.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	address := firstNonEmpty(cfg.Address, os.Getenv("VAULT_ADDR"))
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set 'address' or VAULT_ADDR)")
	}
	token := firstNonEmpty(cfg.Token, os.Getenv("VAULT_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set 'token' or VAULT_TOKEN)")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(address, "/"),
		token:     token,
		namespace: firstNonEmpty(cfg.Namespace, os.Getenv("VAULT_NAMESPACE")),
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

// Address returns the Vault server URL.
func (p *VaultProvider) Address() string { return p.address }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (*Secret, error) {
	const prefix = "vault://"
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("%w: vault provider only handles vault:// references", ErrSecretNotFound)
	}
	path, field, _ := strings.Cut(strings.TrimPrefix(ref, prefix), "#")
	if path == "" {
		return nil, fmt.Errorf("%w: empty vault path", ErrSecretNotFound)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return nil, err
	}
	metadata := map[string]string{"source": "vault", "path": path}

	if field != "" {
		metadata["field"] = field
		val, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("vault field %q in path %q is not a string", field, path)
		}
		return &Secret{Value: str, Metadata: metadata}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling vault data: %w", err)
	}
	return &Secret{Value: string(raw), Metadata: metadata}, nil
}

// Keys returns the sorted field names stored at a KV v2 path without
// exposing their values.
func (p *VaultProvider) Keys(ctx context.Context, path string) ([]string, error) {
	data, err := p.read(ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/%s", p.address, path), nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("vault server error %d for path %q", resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: {"data": {"data": {...}, "metadata": {...}}}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
