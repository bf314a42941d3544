package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func kvV2Response(data map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"data":     data,
			"metadata": map[string]any{"version": 1},
		},
	})
	return b
}

func newTestVaultServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// clearVaultEnv keeps the host environment out of the tests.
func clearVaultEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")
	t.Setenv("VAULT_NAMESPACE", "")
}

func newTestVault(t *testing.T, address string) *VaultProvider {
	t.Helper()
	vp, err := NewVaultProvider(VaultConfig{Address: address, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	return vp
}

func TestVaultProvider_ResolveField(t *testing.T) {
	clearVaultEnv(t)
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/orders/db" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(kvV2Response(map[string]any{"password": "s3cret", "username": "orders"}))
	})

	secret, err := newTestVault(t, srv.URL).Resolve(context.Background(), "vault://secret/data/orders/db#password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "s3cret" {
		t.Errorf("Value = %q, want %q", secret.Value, "s3cret")
	}
	if secret.Metadata["field"] != "password" {
		t.Errorf("field = %q, want password", secret.Metadata["field"])
	}
}

func TestVaultProvider_ResolveWholeMap(t *testing.T) {
	clearVaultEnv(t)
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(kvV2Response(map[string]any{"password": "s3cret", "username": "orders"}))
	})

	secret, err := newTestVault(t, srv.URL).Resolve(context.Background(), "vault://secret/data/orders/db")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(secret.Value), &data); err != nil {
		t.Fatalf("Value is not JSON: %v", err)
	}
	if data["username"] != "orders" {
		t.Errorf("username = %v, want orders", data["username"])
	}
}

func TestVaultProvider_Keys(t *testing.T) {
	clearVaultEnv(t)
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(kvV2Response(map[string]any{"zeta": "1", "alpha": "2"}))
	})

	keys, err := newTestVault(t, srv.URL).Keys(context.Background(), "/secret/data/app")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if want := []string{"alpha", "zeta"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
}

func TestVaultProvider_Errors(t *testing.T) {
	clearVaultEnv(t)

	tests := []struct {
		name         string
		status       int
		body         map[string]any
		ref          string
		wantNotFound bool
	}{
		{name: "not found", status: http.StatusNotFound, ref: "vault://secret/data/missing", wantNotFound: true},
		{name: "forbidden", status: http.StatusForbidden, ref: "vault://secret/data/app"},
		{name: "server error", status: http.StatusBadGateway, ref: "vault://secret/data/app"},
		{name: "missing field", status: http.StatusOK, body: map[string]any{"username": "x"}, ref: "vault://secret/data/app#nope", wantNotFound: true},
		{name: "empty path", status: http.StatusOK, ref: "vault://", wantNotFound: true},
		{name: "wrong scheme", status: http.StatusOK, ref: "env://MY_KEY", wantNotFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != nil {
					w.Write(kvV2Response(tt.body))
				}
			})
			_, err := newTestVault(t, srv.URL).Resolve(context.Background(), tt.ref)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrSecretNotFound); got != tt.wantNotFound {
				t.Errorf("errors.Is(ErrSecretNotFound) = %v, want %v (err=%v)", got, tt.wantNotFound, err)
			}
		})
	}
}

func TestVaultProvider_EnvFallback(t *testing.T) {
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "env-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(kvV2Response(map[string]any{"key": "value"}))
	})
	t.Setenv("VAULT_ADDR", srv.URL)
	t.Setenv("VAULT_TOKEN", "env-token")
	t.Setenv("VAULT_NAMESPACE", "")

	vp, err := NewVaultProvider(VaultConfig{})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	secret, err := vp.Resolve(context.Background(), "vault://secret/data/test#key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "value" {
		t.Errorf("Value = %q, want value", secret.Value)
	}
}

func TestVaultProvider_ExplicitConfigWins(t *testing.T) {
	var gotNamespace string
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotNamespace = r.Header.Get("X-Vault-Namespace")
		w.Write(kvV2Response(map[string]any{"k": "v"}))
	})
	t.Setenv("VAULT_ADDR", "http://unused:8200")
	t.Setenv("VAULT_TOKEN", "env-token")
	t.Setenv("VAULT_NAMESPACE", "env-namespace")

	vp, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "t", Namespace: "admin/team-a"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	if vp.Address() != srv.URL {
		t.Errorf("Address = %q, want %q", vp.Address(), srv.URL)
	}
	if _, err := vp.Resolve(context.Background(), "vault://secret/data/test#k"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotNamespace != "admin/team-a" {
		t.Errorf("namespace header = %q, want admin/team-a", gotNamespace)
	}
}

func TestNewVaultProvider_Required(t *testing.T) {
	clearVaultEnv(t)
	if _, err := NewVaultProvider(VaultConfig{Token: "t"}); err == nil {
		t.Error("expected error for missing address")
	}
	if _, err := NewVaultProvider(VaultConfig{Address: "http://localhost:8200"}); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestVaultConfigFromMap(t *testing.T) {
	cfg, err := VaultConfigFromMap(map[string]string{
		"address":         "http://vault:8200",
		"token":           "t",
		"timeout":         "2s",
		"tls_skip_verify": "TRUE",
	})
	if err != nil {
		t.Fatalf("VaultConfigFromMap: %v", err)
	}
	if cfg.Timeout != 2*time.Second || !cfg.TLSSkipVerify || cfg.Address != "http://vault:8200" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if _, err := VaultConfigFromMap(map[string]string{"timeout": "soon"}); err == nil {
		t.Error("expected error for invalid timeout")
	}
}
