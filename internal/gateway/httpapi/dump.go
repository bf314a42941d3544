package httpapi

import (
	"log/slog"
	"os"
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

var osEnviron = os.Environ

// ConnectionDump is one entry of /dump/connection-strings.
type ConnectionDump struct {
	Raw      string `json:"raw"`
	Provider string `json:"provider"`
	Custom   string `json:"custom,omitempty"`
}

func (g *Gateway) handleAppSettings(c *okapi.Context) error {
	if g.settings == nil {
		return c.OK(map[string]string{})
	}
	settings, err := g.settings()
	if err != nil {
		return c.AbortInternalServerError("reading settings failed")
	}
	var env map[string]string
	if verify.ParamsFromValues(c.Request().URL.Query()).Bool("env") {
		env = parseEnviron(g.environ())
	}
	return c.OK(appSettings(settings, env))
}

func (g *Gateway) handleConnectionStrings(c *okapi.Context) error {
	descs, err := g.connections.List(c.Context())
	if err != nil {
		g.logger.Error("listing connection strings failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing connection strings failed")
	}
	return c.OK(connectionDumps(descs))
}

func (g *Gateway) handleEnvironments(c *okapi.Context) error {
	return c.OK(redactMap(parseEnviron(g.environ())))
}

// appSettings merges the configuration with env (env wins) and redacts the
// result. env may be nil.
func appSettings(settings, env map[string]string) map[string]string {
	out := make(map[string]string, len(settings)+len(env))
	for k, v := range settings {
		out[k] = v
	}
	for k, v := range env {
		out[k] = v
	}
	return redactMap(out)
}

func connectionDumps(descs []*connection.Descriptor) map[string]ConnectionDump {
	out := make(map[string]ConnectionDump, len(descs))
	for _, d := range descs {
		r := d.Redacted()
		out[r.Name] = ConnectionDump{Raw: r.Raw, Provider: string(r.Provider), Custom: r.CustomProvider}
	}
	return out
}

// redactMap hides values under secret-looking keys and the secret parts of
// connection-string-shaped values. The last ':' segment of a key is what is
// matched.
func redactMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		leaf := k
		if i := strings.LastIndexByte(k, ':'); i >= 0 {
			leaf = k[i+1:]
		}
		switch {
		case v == "":
		case connection.IsSecretKey(leaf):
			v = credential.RedactedValue
		default:
			v = connection.RedactValue(v)
		}
		out[k] = v
	}
	return out
}

func parseEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
