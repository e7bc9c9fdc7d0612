package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/platform/httpx"
	"github.com/hanko-field/ledgersync/internal/platform/observability"
	"github.com/hanko-field/ledgersync/internal/platform/requestctx"
	"github.com/hanko-field/ledgersync/internal/services"
)

const maxResyncBodySize = 4 * 1024

// InternalSyncHandlers exposes the operator resync endpoint to trusted callers.
type InternalSyncHandlers struct {
	sync services.OrderSyncService
}

// NewInternalSyncHandlers constructs the internal endpoints.
func NewInternalSyncHandlers(sync services.OrderSyncService) *InternalSyncHandlers {
	return &InternalSyncHandlers{sync: sync}
}

// Routes registers the /internal endpoints.
func (h *InternalSyncHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}:sync", h.resyncOrder)
}

type resyncRequest struct {
	IntentID string `json:"intentId"`
}

type resyncResponse struct {
	OrderID      string   `json:"orderId"`
	Gateway      string   `json:"gateway,omitempty"`
	Outcome      string   `json:"outcome"`
	Settlement   string   `json:"settlement,omitempty"`
	ExternalID   string   `json:"externalId,omitempty"`
	AnchorAmount string   `json:"anchorAmount,omitempty"`
	LineItems    int      `json:"lineItems"`
	Warnings     []string `json:"warnings,omitempty"`
}

func (h *InternalSyncHandlers) resyncOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_unavailable", "order sync is not configured", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_id", "order id is required", http.StatusBadRequest))
		return
	}
	ctx = requestctx.WithOrderID(ctx, orderID)
	observability.TagRequest(r.WithContext(ctx))

	var req resyncRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResyncBodySize+1))
	if err != nil || len(body) > maxResyncBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body unreadable or too large", http.StatusBadRequest))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	result, err := h.sync.Resync(ctx, services.ResyncCommand{OrderID: orderID, IntentID: strings.TrimSpace(req.IntentID)})
	if err != nil {
		writeSyncError(ctx, w, err)
		return
	}

	resp := resyncResponse{
		OrderID:    firstNonEmpty(result.OrderID, orderID),
		Gateway:    string(result.Gateway),
		Outcome:    result.Outcome,
		Settlement: string(result.Settlement.Source),
		ExternalID: result.Transaction.ExternalID,
		LineItems:  len(result.Transaction.LineItems),
	}
	if result.Outcome == services.OutcomeSubmitted {
		resp.AnchorAmount = domain.FormatMoney(result.Transaction.Anchor.Amount)
	}
	for _, warning := range result.Warnings {
		resp.Warnings = append(resp.Warnings, warning.Reason)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// writeSyncError maps the failure taxonomy onto HTTP statuses.
func writeSyncError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrSyncInvalidInput) {
		if _, ok := services.KindOf(err); !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
	}

	kind, ok := services.KindOf(err)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "order sync failed", http.StatusInternalServerError))
		return
	}

	status := http.StatusInternalServerError
	code := string(kind)
	switch kind {
	case services.KindValidation:
		status = http.StatusUnprocessableEntity
		if errors.Is(err, services.ErrOrderNotFound) {
			status = http.StatusNotFound
			code = "order_not_found"
		}
	case services.KindGatewayUnavailable:
		status = http.StatusServiceUnavailable
	case services.KindReconciliationAmbiguous:
		status = http.StatusConflict
	case services.KindLedgerTransport:
		status = http.StatusGatewayTimeout
	case services.KindLedgerHTTP, services.KindLedgerAPI:
		status = http.StatusBadGateway
	}

	var syncErr *services.SyncError
	details := map[string]any{"kind": string(kind)}
	if errors.As(err, &syncErr) && syncErr.Reason != "" {
		details["reason"] = syncErr.Reason
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status).WithDetails(details))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
