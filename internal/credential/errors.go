package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// CredentialError reports a failure to obtain a token from a resolved
// identity. Resolution itself never fails; this surfaces when a resource
// client first asks for a token.
type CredentialError struct {
	Mechanism Mechanism
	Err       error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("acquiring token via %s credential: %v", e.Mechanism, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// handle is the identity object handed to callers. It tags token failures
// with the mechanism that produced them. When construction failed, inner is
// nil and every GetToken returns the construction error.
type handle struct {
	mechanism Mechanism
	inner     azcore.TokenCredential
	buildErr  error
}

func (h *handle) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if h.inner == nil {
		return azcore.AccessToken{}, &CredentialError{Mechanism: h.mechanism, Err: h.buildErr}
	}
	tok, err := h.inner.GetToken(ctx, opts)
	if err != nil {
		return azcore.AccessToken{}, &CredentialError{Mechanism: h.mechanism, Err: err}
	}
	return tok, nil
}

func newHandle(mechanism Mechanism, cred azcore.TokenCredential, err error) *handle {
	if err != nil {
		return &handle{mechanism: mechanism, buildErr: err}
	}
	return &handle{mechanism: mechanism, inner: cred}
}
