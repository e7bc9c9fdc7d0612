package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/ledger"
	"github.com/hanko-field/ledgersync/internal/platform/httpx"
	"github.com/hanko-field/ledgersync/internal/services"
)

// AdminLedgerHandlers lets staff look up ledger businesses and accounts while
// configuring the product account mappings.
type AdminLedgerHandlers struct {
	ledger services.LedgerQueryService
}

// NewAdminLedgerHandlers constructs the admin ledger endpoints.
func NewAdminLedgerHandlers(ledger services.LedgerQueryService) *AdminLedgerHandlers {
	return &AdminLedgerHandlers{ledger: ledger}
}

// Routes registers the /admin/ledger endpoints.
func (h *AdminLedgerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/ledger/businesses", h.listBusinesses)
	r.Get("/ledger/accounts", h.listAccounts)
}

type ledgerBusinessResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ledgerAccountResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Subtype    string `json:"subtype,omitempty"`
	IsArchived bool   `json:"isArchived"`
}

type ledgerPageInfoResponse struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalCount  int `json:"totalCount"`
}

func (h *AdminLedgerHandlers) listBusinesses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "ledger queries are not configured", http.StatusServiceUnavailable))
		return
	}
	businesses, err := h.ledger.ListBusinesses(ctx)
	if err != nil {
		writeLedgerQueryError(w, r, err)
		return
	}
	items := make([]ledgerBusinessResponse, 0, len(businesses))
	for _, business := range businesses {
		items = append(items, ledgerBusinessResponse{ID: business.ID, Name: business.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"businesses": items})
}

func (h *AdminLedgerHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "ledger queries are not configured", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.LedgerAccountFilter{BusinessID: strings.TrimSpace(query.Get("businessId"))}
	for _, raw := range query["types"] {
		for _, value := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				filter.Types = append(filter.Types, trimmed)
			}
		}
	}
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_page", "page must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.Page = page
	}

	page, err := h.ledger.ListAccounts(ctx, filter)
	if err != nil {
		writeLedgerQueryError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"accounts": toAccountResponses(page.Accounts),
		"pageInfo": ledgerPageInfoResponse{
			CurrentPage: page.PageInfo.CurrentPage,
			TotalPages:  page.PageInfo.TotalPages,
			TotalCount:  page.PageInfo.TotalCount,
		},
	})
}

func toAccountResponses(accounts []domain.LedgerAccount) []ledgerAccountResponse {
	items := make([]ledgerAccountResponse, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, ledgerAccountResponse{
			ID:         account.ID,
			Name:       account.Name,
			Type:       account.Type,
			Subtype:    account.Subtype,
			IsArchived: account.IsArchived,
		})
	}
	return items
}

func writeLedgerQueryError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		apiErr       *ledger.APIError
		httpErr      *ledger.HTTPError
		transportErr *ledger.TransportError
	)
	switch {
	case errors.Is(err, services.ErrLedgerQueryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "businessId and types must be valid", http.StatusBadRequest))
	case errors.As(err, &apiErr):
		httpx.WriteError(ctx, w, httpx.NewError("ledger_api_error", apiErr.Error(), http.StatusBadGateway))
	case errors.As(err, &httpErr):
		httpx.WriteError(ctx, w, httpx.NewError("ledger_http_error", httpErr.Error(), http.StatusBadGateway))
	case errors.As(err, &transportErr):
		httpx.WriteError(ctx, w, httpx.NewError("ledger_transport_error", "ledger unreachable", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "ledger query failed", http.StatusInternalServerError))
	}
}
