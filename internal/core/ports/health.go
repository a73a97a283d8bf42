package ports

import "context"

// HealthChecker is a dependency reported by GET /health: the database, Redis
// and, when exports are enabled, the export bucket.
type HealthChecker interface {
	// Ping returns nil when the dependency can serve ledger traffic.
	Ping(ctx context.Context) error
	Name() string
}
