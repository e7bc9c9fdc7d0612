package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// OrderSyncService reconciles completed storefront payments into ledger transactions.
type OrderSyncService interface {
	SyncCapture(ctx context.Context, cmd SyncCaptureCommand) (SyncResult, error)
	SyncIntent(ctx context.Context, cmd SyncIntentCommand) (SyncResult, error)
	Resync(ctx context.Context, cmd ResyncCommand) (SyncResult, error)
}

// LedgerQueryService exposes the ledger lookups used to configure account mappings.
type LedgerQueryService interface {
	ListBusinesses(ctx context.Context) ([]domain.LedgerBusiness, error)
	ListAccounts(ctx context.Context, filter LedgerAccountFilter) (domain.LedgerAccountPage, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemHealthReport is the aggregated dependency report served by health endpoints.
type SystemHealthReport = domain.SystemHealthReport

// CaptureGateway reads capture-style checkout orders.
type CaptureGateway interface {
	GetOrder(ctx context.Context, orderID string) (domain.CaptureOrder, error)
}

// LedgerSubmitter submits one assembled transaction to the ledger.
type LedgerSubmitter interface {
	Submit(ctx context.Context, txn domain.Transaction) error
}

// LedgerReader runs the read-only ledger queries.
type LedgerReader interface {
	ListBusinesses(ctx context.Context) ([]domain.LedgerBusiness, error)
	ListAccounts(ctx context.Context, businessID string, types []string, page int) (domain.LedgerAccountPage, error)
}

// ProcessedEventGuard remembers completion events that were already handled.
type ProcessedEventGuard interface {
	// Claim returns false when key was claimed before.
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, outcome string) error
	// Release drops the claim so a later delivery of the event runs again.
	Release(ctx context.Context, key string) error
}

// SyncEventPublisher emits structured sync events for alerting.
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) (string, error)
}

// SyncMetrics records sync outcomes.
type SyncMetrics interface {
	RecordSync(ctx context.Context, gateway, outcome, kind string, elapsed time.Duration)
}

// SyncCaptureCommand triggers the capture path for a storefront order.
type SyncCaptureCommand struct {
	OrderID string
	Force   bool
}

// SyncIntentCommand triggers the intent path for a succeeded payment intent.
// OrderID overrides the order reference stored in the intent metadata.
type SyncIntentCommand struct {
	IntentID string
	OrderID  string
	Force    bool
}

// ResyncCommand re-runs the sync for an order regardless of earlier deliveries.
type ResyncCommand struct {
	OrderID  string
	IntentID string
}

// Sync outcomes.
const (
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// SyncResult summarises a successful sync invocation.
type SyncResult struct {
	OrderID     string
	Gateway     domain.Gateway
	Outcome     string
	Settlement  domain.Settlement
	Transaction domain.Transaction
	Warnings    []Warning
}

// SyncEvent is the structured event published for sync failures and ambiguities.
type SyncEvent struct {
	EventID    string            `json:"eventId"`
	Kind       string            `json:"kind"`
	OrderID    string            `json:"orderId"`
	Gateway    string            `json:"gateway"`
	Reference  string            `json:"reference,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// LedgerAccountFilter narrows ledger account listings.
type LedgerAccountFilter struct {
	BusinessID string
	Types      []string
	Page       int
}
