package repositories

import (
	"context"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository stores storefront order snapshots delivered by the order webhook.
type OrderRepository interface {
	Upsert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// AccountMappingRepository exposes the product to ledger income account table.
type AccountMappingRepository interface {
	// FindByProducts returns mappings keyed by product id. Unknown products are absent from the result.
	FindByProducts(ctx context.Context, productIDs []string) (map[string]domain.AccountMapping, error)
	Upsert(ctx context.Context, mapping domain.AccountMapping) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
