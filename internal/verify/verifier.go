package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/diag"
)

// Connections resolves connection names. *connection.Resolver implements it.
type Connections interface {
	Resolve(ctx context.Context, name string) (*connection.Descriptor, error)
}

// Credentials resolves identities. *credential.Resolver implements it.
type Credentials interface {
	ResolveOrDefault(scope *diag.Scope, hint *credential.Hint) credential.Resolved
}

// Capability is what a resource kind contributes to verification. T is the
// kind's resolved target, typically the descriptor bound onto typed options.
type Capability[T any] interface {
	Kind() string

	// ResolveConnection builds the target from the request. Lookup failures
	// are returned as *connection.NotFoundError.
	ResolveConnection(ctx context.Context, conns Connections, params Params) (T, error)

	// CredentialHint returns the identity hint for target. false means the
	// kind authenticates on its own (embedded key, password, token) and no
	// identity is resolved.
	CredentialHint(target T) (*credential.Hint, bool)

	// Probe performs a single non-mutating check. cred is nil when
	// CredentialHint returned false. Clients it opens are closed before it
	// returns.
	Probe(ctx context.Context, target T, cred *credential.Resolved, params Params) (Result, error)
}

// Observer is notified once per verification.
type Observer interface {
	VerificationCompleted(kind string, success bool, class string, elapsed time.Duration)
}

// Runner is a kind-erased verifier, the unit the Registry dispatches to.
type Runner interface {
	Kind() string
	Verify(ctx context.Context, scope *diag.Scope, params Params) Result
}

// Option configures a Verifier.
type Option func(*options)

type options struct {
	timeout  func(kind string) time.Duration
	observer Observer
	logger   *slog.Logger
}

// WithTimeout sets the per-kind probe deadline.
func WithTimeout(fn func(kind string) time.Duration) Option {
	return func(o *options) { o.timeout = fn }
}

// WithObserver attaches a verification observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger used for failed verifications.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// DefaultTimeout bounds a probe when no timeout option is given.
const DefaultTimeout = 15 * time.Second

// Verifier runs one Capability through the fixed verification sequence:
// resolve the connection, resolve at most one identity, probe once.
// Every error and panic becomes a failed Result.
type Verifier[T any] struct {
	cap   Capability[T]
	conns Connections
	creds Credentials
	opts  options
}

// New creates a verifier for capability c.
func New[T any](c Capability[T], conns Connections, creds Credentials, opts ...Option) *Verifier[T] {
	o := options{
		timeout: func(string) time.Duration { return DefaultTimeout },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Verifier[T]{cap: c, conns: conns, creds: creds, opts: o}
}

func (v *Verifier[T]) Kind() string { return v.cap.Kind() }

// Verify never returns an error and never panics.
func (v *Verifier[T]) Verify(ctx context.Context, scope *diag.Scope, params Params) (res Result) {
	kind := v.cap.Kind()
	start := time.Now()
	ctx, span := otel.Tracer("echoservice/verify").Start(ctx, "verify "+kind)
	span.SetAttributes(attribute.String("verify.kind", kind), attribute.String("verify.name", params.Name()))

	class := ""
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s verification panicked: %v", kind, r)
			class = ClassProbe
			res = v.failure(scope, err, class, string(debug.Stack()))
		}
		if !res.Success() {
			if class == "" {
				class = ClassProbe
			}
			span.SetStatus(codes.Error, res.ErrorSummary())
			v.opts.logger.Warn("verification failed",
				slog.String("kind", kind),
				slog.String("name", params.Name()),
				slog.String("class", class),
				slog.String("error", res.ErrorSummary()),
			)
		}
		span.SetAttributes(attribute.Bool("verify.success", res.Success()))
		span.End()
		if v.opts.observer != nil {
			v.opts.observer.VerificationCompleted(kind, res.Success(), class, time.Since(start))
		}
	}()

	target, err := v.cap.ResolveConnection(ctx, v.conns, params)
	if err != nil {
		class = Classify(err)
		return v.failure(scope, err, class, "")
	}

	var cred *credential.Resolved
	if hint, ok := v.cap.CredentialHint(target); ok {
		resolved := v.creds.ResolveOrDefault(scope, hint)
		cred = &resolved
	}

	timeout := v.opts.timeout(kind)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err = v.cap.Probe(probeCtx, target, cred, params)
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TimeoutError{Kind: kind, After: timeout}
		}
		class = Classify(err)
		return v.failure(scope, &ProbeError{Kind: kind, Err: err}, class, "")
	}
	if !res.Success() {
		if strings.TrimSpace(res.ErrorSummary()) == "" {
			res = Failed(Failure{
				Message:     res.Message(),
				Detail:      res.Detail(),
				Error:       kind + " probe reported failure",
				StackTrace:  res.StackTrace(),
				Diagnostics: res.Diagnostics(),
			})
		}
		return res.withDiagnostics(scope.Entries())
	}
	return res
}

func (v *Verifier[T]) failure(scope *diag.Scope, err error, class, stack string) Result {
	scope.Set(diag.KeyErrorClass, class)
	return Failed(Failure{
		Error:       err.Error(),
		Detail:      ErrorDetail(err),
		StackTrace:  stack,
		Diagnostics: scope.Entries(),
	})
}

// ConnectedMessage renders the success summary
// "<kind> '<name>/<provider>/<custom>' is connected".
func ConnectedMessage(kind string, d *connection.Descriptor) string {
	return fmt.Sprintf("%s '%s' is connected", kind, d.Summary())
}
