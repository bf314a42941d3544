// Package credential turns connection credential hints into reusable
// identity objects.
//
// Selection is deterministic and first-match-wins:
//  1. a known CredentialType override
//  2. ClientId (client secret when TenantId and ClientSecret are present,
//     managed identity by client id otherwise)
//  3. ManagedIdentityResourceId
//  4. ManagedIdentityClientId
//  5. nothing matched: ResolveOrDefault falls back to the ambient default
//
// Each mechanism memoizes its identities by key, so a given client id,
// resource id or tenant/client/secret triple maps to exactly one identity
// for the lifetime of the Resolver. Resolution never touches the network.
package credential

import (
	"log/slog"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/echoservice/internal/diag"
)

// Resolved is the outcome of a resolution.
type Resolved struct {
	Mechanism  Mechanism
	Override   string // Canonical override name when Mechanism is MechanismOverride.
	Key        string // Memoization key. May contain secret material: never log it.
	Credential azcore.TokenCredential
	AuditLabel string // Mechanism plus redacted identifier, safe to log.
}

// Observer is notified of every resolution. MetricsCollector implements it.
type Observer interface {
	CredentialResolved(mechanism string)
}

// Resolver selects and memoizes identities. Safe for concurrent use.
type Resolver struct {
	factory  Factory
	logger   *slog.Logger
	observer Observer

	group        singleflight.Group
	clientSecret sync.Map // key -> *handle
	miClientID   sync.Map
	miResourceID sync.Map
	overrides    sync.Map

	defaultCred func() *handle
}

// NewResolver creates a resolver backed by factory.
func NewResolver(factory Factory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{factory: factory, logger: logger}
	r.defaultCred = sync.OnceValue(func() *handle {
		cred, err := factory.Default()
		if err != nil {
			logger.Warn("default credential unavailable", slog.String("error", err.Error()))
		}
		return newHandle(MechanismDefault, cred, err)
	})
	return r
}

// WithObserver attaches a resolution observer.
func (r *Resolver) WithObserver(o Observer) *Resolver {
	r.observer = o
	return r
}

// Resolve returns the identity selected by hint, or false when the hint
// carries no disambiguating field. A matched resolution is recorded in scope.
func (r *Resolver) Resolve(scope *diag.Scope, hint Hint) (Resolved, bool) {
	mechanism, key, ok := choose(hint)
	if !ok {
		return Resolved{}, false
	}

	var (
		cred       *handle
		identifier string
		override   string
	)
	switch mechanism {
	case MechanismOverride:
		override = key
		identifier = key
		cred = r.memo(&r.overrides, mechanism, key, func() (azcore.TokenCredential, error) {
			return r.factory.Override(key)
		})
	case MechanismClientSecret:
		identifier = Redact(hint.ClientID)
		cred = r.memo(&r.clientSecret, mechanism, key, func() (azcore.TokenCredential, error) {
			return r.factory.ClientSecret(hint.TenantID, hint.ClientID, hint.ClientSecret)
		})
	case MechanismManagedIdentityResourceID:
		identifier = Redact(hint.ManagedIdentityResourceID)
		resourceID := hint.ManagedIdentityResourceID
		cred = r.memo(&r.miResourceID, mechanism, key, func() (azcore.TokenCredential, error) {
			return r.factory.ManagedIdentityResourceID(resourceID)
		})
	case MechanismManagedIdentityClientID:
		identifier = Redact(key)
		cred = r.memo(&r.miClientID, mechanism, key, func() (azcore.TokenCredential, error) {
			return r.factory.ManagedIdentityClientID(key)
		})
	}

	res := Resolved{
		Mechanism:  mechanism,
		Override:   override,
		Key:        key,
		Credential: cred,
		AuditLabel: string(mechanism) + ":" + identifier,
	}
	r.record(scope, mechanism, identifier)
	return res, true
}

// ResolveOrDefault resolves hint, falling back to the ambient default when
// hint is nil, empty, or matches no mechanism. It never fails.
func (r *Resolver) ResolveOrDefault(scope *diag.Scope, hint *Hint) Resolved {
	if hint != nil {
		if res, ok := r.Resolve(scope, *hint); ok {
			return res
		}
	}
	return r.Default(scope)
}

// Default returns the process-wide ambient identity, built on first use.
func (r *Resolver) Default(scope *diag.Scope) Resolved {
	info := r.factory.DefaultInfo()
	scope.PushCredential(string(MechanismDefault), "")
	scope.Set(diag.KeyCredentialInfo, info)
	if r.observer != nil {
		r.observer.CredentialResolved(string(MechanismDefault))
	}
	return Resolved{
		Mechanism:  MechanismDefault,
		Credential: r.defaultCred(),
		AuditLabel: string(MechanismDefault) + ":" + info,
	}
}

// memo returns the identity cached under key in m, building it at most once.
// Concurrent first callers collapse onto one build through the singleflight
// group; all of them observe the stored handle.
func (r *Resolver) memo(m *sync.Map, mechanism Mechanism, key string, build func() (azcore.TokenCredential, error)) *handle {
	if v, ok := m.Load(key); ok {
		return v.(*handle)
	}
	v, _, _ := r.group.Do(string(mechanism)+"\x00"+key, func() (any, error) {
		if v, ok := m.Load(key); ok {
			return v, nil
		}
		cred, err := build()
		if err != nil {
			r.logger.Warn("credential construction failed",
				slog.String("mechanism", string(mechanism)),
				slog.String("error", err.Error()),
			)
		}
		actual, _ := m.LoadOrStore(key, newHandle(mechanism, cred, err))
		return actual, nil
	})
	return v.(*handle)
}

func (r *Resolver) record(scope *diag.Scope, mechanism Mechanism, identifier string) {
	scope.PushCredential(string(mechanism), identifier)
	if r.observer != nil {
		r.observer.CredentialResolved(string(mechanism))
	}
}
