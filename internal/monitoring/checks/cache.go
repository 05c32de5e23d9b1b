package checks

import (
	"context"
	"time"

	"github.com/zeh237/taskly/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Pinger is satisfied by the cache stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a readiness probe for the shared cache backend. A missing backend degrades
// the report; the API keeps working on the database alone.
func Cache(name string, client Pinger, timeout time.Duration) monitoring.Check {
	if name == "" {
		name = "cache"
	}
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: name + " unavailable"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		return monitoring.ResultFromError(name, client.Ping(probeCtx), time.Since(start))
	})
}
