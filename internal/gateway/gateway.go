// Package gateway defines the interface for the service's network entry points.
package gateway

import "context"

// Gateway is a long-running entry point such as the diagnostics HTTP server.
type Gateway interface {
	// Start serves until the gateway exits or ctx is canceled. It returns an
	// error only on failure.
	Start(ctx context.Context) error

	// Stop shuts down gracefully within the deadline carried by ctx.
	Stop(ctx context.Context) error
}
