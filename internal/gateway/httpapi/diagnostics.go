package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/echoservice/internal/diag"
	"github.com/jkaninda/echoservice/internal/verify"
)

// kindConnection is answered by the gateway itself rather than a verifier.
const kindConnection = "connection"

// KindsResponse lists the verifiable resource kinds.
type KindsResponse struct {
	Kinds []string `json:"kinds"`
}

func (g *Gateway) handleKinds(c *okapi.Context) error {
	kinds := append(g.registry.Kinds(), kindConnection)
	return c.OK(KindsResponse{Kinds: kinds})
}

func (g *Gateway) handleVerify(c *okapi.Context) error {
	kind := c.Param("kind")
	if strings.EqualFold(kind, kindConnection) {
		return c.OK(connectionSummary(c.Request()))
	}
	r := c.Request()
	return c.OK(g.verify(c.Context(), CorrelationID(r.Context()), kind, r.URL.Query()))
}

// verify runs one verification under a fresh diagnostic scope and logs the
// scope entries. The result is always returned, never an error.
func (g *Gateway) verify(ctx context.Context, correlationID, kind string, query url.Values) verify.Result {
	scope := diag.NewScope()
	if correlationID != "" {
		scope.Set(diag.KeyCorrelationID, correlationID)
	}
	params := verify.ParamsFromValues(query)
	res := g.registry.Verify(ctx, scope, kind, params)

	attrs := []any{
		slog.String("kind", kind),
		slog.String("name", params.Name()),
		slog.Bool("success", res.Success()),
	}
	for _, a := range scope.Attrs() {
		attrs = append(attrs, a)
	}
	g.logger.Info("verification completed", attrs...)
	return res
}

// connectionSummary renders "Server:<scheme>://<host>:<port> Client:<ip>:<port>".
// IPv6 client addresses are bracketed.
func connectionSummary(r *http.Request) string {
	host, port := r.Host, ""
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		host, port = h, p
	}
	if port == "" {
		if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
			_, port, _ = net.SplitHostPort(addr.String())
		}
	}
	clientIP, clientPort := splitAddr(r.RemoteAddr)
	if strings.Contains(clientIP, ":") {
		clientIP = "[" + clientIP + "]"
	}
	return fmt.Sprintf("Server:%s://%s:%s Client:%s:%d", requestScheme(r), host, port, clientIP, clientPort)
}
