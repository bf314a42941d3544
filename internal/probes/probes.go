// Package probes wires every resource kind into a verify.Registry.
package probes

import (
	"log/slog"

	"github.com/jkaninda/echoservice/internal/config"
	"github.com/jkaninda/echoservice/internal/probes/awssts"
	"github.com/jkaninda/echoservice/internal/probes/blob"
	"github.com/jkaninda/echoservice/internal/probes/certificate"
	"github.com/jkaninda/echoservice/internal/probes/cosmos"
	"github.com/jkaninda/echoservice/internal/probes/dir"
	"github.com/jkaninda/echoservice/internal/probes/dns"
	"github.com/jkaninda/echoservice/internal/probes/httpprobe"
	"github.com/jkaninda/echoservice/internal/probes/keyvault"
	"github.com/jkaninda/echoservice/internal/probes/mongo"
	"github.com/jkaninda/echoservice/internal/probes/objectstore"
	"github.com/jkaninda/echoservice/internal/probes/postgres"
	"github.com/jkaninda/echoservice/internal/probes/redis"
	"github.com/jkaninda/echoservice/internal/probes/servicebus"
	"github.com/jkaninda/echoservice/internal/probes/vault"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Deps are the collaborators every verifier shares.
type Deps struct {
	Connections verify.Connections
	Credentials verify.Credentials
	Config      config.ProbesConfig
	Observer    verify.Observer // Optional.
	Logger      *slog.Logger
}

// NewRegistry builds a registry holding every supported kind.
func NewRegistry(deps Deps) (*verify.Registry, error) {
	opts := []verify.Option{verify.WithTimeout(deps.Config.Timeout)}
	if deps.Observer != nil {
		opts = append(opts, verify.WithObserver(deps.Observer))
	}
	if deps.Logger != nil {
		opts = append(opts, verify.WithLogger(deps.Logger))
	}

	reg := verify.NewRegistry()
	r := registrar{reg: reg, deps: deps, opts: opts}
	register(&r, cosmos.NewContainer())
	register(&r, cosmos.NewCache())
	register(&r, mongo.New())
	register(&r, postgres.New())
	register(&r, blob.New())
	register(&r, objectstore.New())
	register(&r, keyvault.NewSecret())
	register(&r, keyvault.NewKey())
	register(&r, keyvault.NewCertificate())
	register(&r, servicebus.New(deps.Config.ReceiveWait()))
	register(&r, redis.New())
	register(&r, awssts.New())
	register(&r, vault.New())
	register(&r, dir.New())
	register(&r, dns.New(nil))
	register(&r, httpprobe.New(httpprobe.Config{
		BlockPrivateNetworks: deps.Config.HTTP.BlockPrivateNetworks,
		AllowedHosts:         deps.Config.HTTP.AllowedHosts,
	}))
	register(&r, certificate.New())
	if r.err != nil {
		return nil, r.err
	}
	return reg, nil
}

type registrar struct {
	reg  *verify.Registry
	deps Deps
	opts []verify.Option
	err  error
}

func register[T any](r *registrar, c verify.Capability[T]) {
	if r.err != nil {
		return
	}
	r.err = r.reg.Register(verify.New[T](c, r.deps.Connections, r.deps.Credentials, r.opts...))
}
