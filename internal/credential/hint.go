package credential

import "strings"

// Hint describes which identity mechanism a connection wants.
// Field names match the keys used in connection strings
// (TenantId, ClientId, ManagedIdentityClientId, ...); binding is
// case-insensitive. The zero value means "use the ambient default".
type Hint struct {
	TenantID                  string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ClientID                  string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret              string `json:"-" yaml:"client_secret,omitempty"`
	ManagedIdentityClientID   string `json:"managed_identity_client_id,omitempty" yaml:"managed_identity_client_id,omitempty"`
	ManagedIdentityResourceID string `json:"managed_identity_resource_id,omitempty" yaml:"managed_identity_resource_id,omitempty"`
	CredentialType            string `json:"credential_type,omitempty" yaml:"credential_type,omitempty"` // Override mechanism, e.g. "azurecli".
}

// IsEmpty reports whether no field of the hint is set.
func (h Hint) IsEmpty() bool {
	return h == Hint{}
}

// Mechanism identifies how an identity is obtained.
type Mechanism string

const (
	MechanismDefault                   Mechanism = "default"
	MechanismManagedIdentityClientID   Mechanism = "managed_identity_client_id"
	MechanismManagedIdentityResourceID Mechanism = "managed_identity_resource_id"
	MechanismClientSecret              Mechanism = "client_secret"
	MechanismOverride                  Mechanism = "override"
)

// Override names accepted in Hint.CredentialType, in canonical form.
const (
	OverrideAzureCLI          = "azurecli"
	OverrideAzureDeveloperCLI = "azuredevelopercli"
	OverrideEnvironment       = "environment"
	OverrideWorkloadIdentity  = "workloadidentity"
)

var overrideAliases = map[string]string{
	"azurecli":          OverrideAzureCLI,
	"cli":               OverrideAzureCLI,
	"az":                OverrideAzureCLI,
	"azuredevelopercli": OverrideAzureDeveloperCLI,
	"azd":               OverrideAzureDeveloperCLI,
	"developercli":      OverrideAzureDeveloperCLI,
	"environment":       OverrideEnvironment,
	"env":               OverrideEnvironment,
	"workloadidentity":  OverrideWorkloadIdentity,
	"workload":          OverrideWorkloadIdentity,
}

// CanonicalOverride maps an override name to its canonical form.
// Case, spaces, dashes and underscores are ignored.
func CanonicalOverride(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	canonical, ok := overrideAliases[n]
	return canonical, ok
}

// normalizeResourceID folds the spellings of one resource id into one key.
func normalizeResourceID(id string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(id), "/"))
}

// clientSecretKey is the memoization key of the client-secret mechanism.
func clientSecretKey(tenantID, clientID, secret string) string {
	return tenantID + "_" + clientID + "_" + secret
}

// choose applies the selection precedence to h. It returns the mechanism,
// its memoization key, and false when no explicit mechanism matches.
func choose(h Hint) (Mechanism, string, bool) {
	if h.CredentialType != "" {
		if name, ok := CanonicalOverride(h.CredentialType); ok {
			return MechanismOverride, name, true
		}
	}
	if h.ClientID != "" {
		if h.TenantID != "" && h.ClientSecret != "" {
			return MechanismClientSecret, clientSecretKey(h.TenantID, h.ClientID, h.ClientSecret), true
		}
		return MechanismManagedIdentityClientID, h.ClientID, true
	}
	if h.ManagedIdentityResourceID != "" {
		return MechanismManagedIdentityResourceID, normalizeResourceID(h.ManagedIdentityResourceID), true
	}
	if h.ManagedIdentityClientID != "" {
		return MechanismManagedIdentityClientID, h.ManagedIdentityClientID, true
	}
	return "", "", false
}
