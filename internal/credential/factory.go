package credential

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Factory builds identity objects. Constructors must not contact the
// network; token acquisition happens later, inside resource clients.
type Factory interface {
	// Default builds the ambient identity.
	Default() (azcore.TokenCredential, error)
	// DefaultInfo describes the ambient identity for audit logs. Must not
	// contain secret material.
	DefaultInfo() string
	ClientSecret(tenantID, clientID, secret string) (azcore.TokenCredential, error)
	ManagedIdentityClientID(clientID string) (azcore.TokenCredential, error)
	ManagedIdentityResourceID(resourceID string) (azcore.TokenCredential, error)
	// Override builds the named override mechanism (canonical name).
	Override(name string) (azcore.TokenCredential, error)
}

// AzureFactory builds identities with azidentity.
type AzureFactory struct {
	ambient Hint
}

// NewAzureFactory returns a factory whose Default identity follows the
// ambient hint: tenant/client/secret selects a client-secret credential,
// a managed identity id selects managed identity, anything else falls back
// to the SDK default credential chain.
func NewAzureFactory(ambient Hint) *AzureFactory {
	return &AzureFactory{ambient: ambient}
}

func (f *AzureFactory) Default() (azcore.TokenCredential, error) {
	a := f.ambient
	switch {
	case a.TenantID != "" && a.ClientID != "" && a.ClientSecret != "":
		return f.ClientSecret(a.TenantID, a.ClientID, a.ClientSecret)
	case a.ManagedIdentityClientID != "":
		return f.ManagedIdentityClientID(a.ManagedIdentityClientID)
	case a.ManagedIdentityResourceID != "":
		return f.ManagedIdentityResourceID(a.ManagedIdentityResourceID)
	}
	opts := &azidentity.DefaultAzureCredentialOptions{}
	if a.TenantID != "" {
		opts.TenantID = a.TenantID
	}
	return azidentity.NewDefaultAzureCredential(opts)
}

func (f *AzureFactory) DefaultInfo() string {
	a := f.ambient
	switch {
	case a.TenantID != "" && a.ClientID != "" && a.ClientSecret != "":
		return "client_secret " + Redact(a.ClientID)
	case a.ManagedIdentityClientID != "":
		return "managed_identity_client_id " + Redact(a.ManagedIdentityClientID)
	case a.ManagedIdentityResourceID != "":
		return "managed_identity_resource_id " + Redact(a.ManagedIdentityResourceID)
	}
	return "default_azure_credential"
}

func (f *AzureFactory) ClientSecret(tenantID, clientID, secret string) (azcore.TokenCredential, error) {
	return azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
}

func (f *AzureFactory) ManagedIdentityClientID(clientID string) (azcore.TokenCredential, error) {
	return azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
		ID: azidentity.ClientID(clientID),
	})
}

func (f *AzureFactory) ManagedIdentityResourceID(resourceID string) (azcore.TokenCredential, error) {
	return azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
		ID: azidentity.ResourceID(resourceID),
	})
}

func (f *AzureFactory) Override(name string) (azcore.TokenCredential, error) {
	switch name {
	case OverrideAzureCLI:
		return azidentity.NewAzureCLICredential(nil)
	case OverrideAzureDeveloperCLI:
		return azidentity.NewAzureDeveloperCLICredential(nil)
	case OverrideEnvironment:
		return azidentity.NewEnvironmentCredential(nil)
	case OverrideWorkloadIdentity:
		return azidentity.NewWorkloadIdentityCredential(nil)
	default:
		return nil, fmt.Errorf("unknown credential override %q", name)
	}
}
