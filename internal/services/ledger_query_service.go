package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// ErrLedgerQueryInvalidInput indicates an unusable ledger query.
var ErrLedgerQueryInvalidInput = errors.New("ledger query: invalid input")

var allowedAccountTypes = map[string]struct{}{
	"ASSET":     {},
	"EQUITY":    {},
	"EXPENSE":   {},
	"INCOME":    {},
	"LIABILITY": {},
}

// LedgerQueryServiceDeps wires the ledger query service.
type LedgerQueryServiceDeps struct {
	Ledger            LedgerReader
	DefaultBusinessID string
}

type ledgerQueryService struct {
	ledger     LedgerReader
	businessID string
}

var _ LedgerQueryService = (*ledgerQueryService)(nil)

// NewLedgerQueryService constructs the pass-through query service used by the admin routes.
func NewLedgerQueryService(deps LedgerQueryServiceDeps) (LedgerQueryService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger query service: ledger client is required")
	}
	return &ledgerQueryService{ledger: deps.Ledger, businessID: strings.TrimSpace(deps.DefaultBusinessID)}, nil
}

func (s *ledgerQueryService) ListBusinesses(ctx context.Context) ([]domain.LedgerBusiness, error) {
	return s.ledger.ListBusinesses(ctx)
}

// ListAccounts defaults to the configured business and the INCOME type.
func (s *ledgerQueryService) ListAccounts(ctx context.Context, filter LedgerAccountFilter) (domain.LedgerAccountPage, error) {
	businessID := strings.TrimSpace(filter.BusinessID)
	if businessID == "" {
		businessID = s.businessID
	}
	if businessID == "" {
		return domain.LedgerAccountPage{}, ErrLedgerQueryInvalidInput
	}

	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		value := strings.ToUpper(strings.TrimSpace(t))
		if value == "" {
			continue
		}
		if _, ok := allowedAccountTypes[value]; !ok {
			return domain.LedgerAccountPage{}, ErrLedgerQueryInvalidInput
		}
		types = append(types, value)
	}
	if len(types) == 0 {
		types = []string{"INCOME"}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return s.ledger.ListAccounts(ctx, businessID, types, page)
}
