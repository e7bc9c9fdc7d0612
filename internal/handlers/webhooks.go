package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/payments"
	"github.com/hanko-field/ledgersync/internal/platform/httpx"
	"github.com/hanko-field/ledgersync/internal/platform/observability"
	"github.com/hanko-field/ledgersync/internal/platform/requestctx"
	"github.com/hanko-field/ledgersync/internal/repositories"
	"github.com/hanko-field/ledgersync/internal/services"
)

const (
	maxWebhookBodySize      = 1 << 20
	storefrontEventComplete = "order.completed"
	stripeSignatureHeader   = "Stripe-Signature"
	webhookRateWindow       = time.Minute

	// Webhook acknowledgement outcomes besides the sync outcomes.
	outcomeStored    = "stored"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
)

// WebhookHandlers receives storefront order snapshots and Stripe events.
// Both deliveries are acknowledged with 202 once authenticated and parsed, whatever the sync outcome.
type WebhookHandlers struct {
	orders         repositories.OrderRepository
	sync           services.OrderSyncService
	storefrontAuth func(http.Handler) http.Handler
	stripeSecret   string
	limiter        rateLimiter
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithStorefrontAuth sets the middleware authenticating storefront deliveries (HMAC).
func WithStorefrontAuth(mw func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.storefrontAuth = mw
	}
}

// WithStripeWebhookSecret sets the endpoint secret used to verify Stripe-Signature.
func WithStripeWebhookSecret(secret string) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripeSecret = strings.TrimSpace(secret)
	}
}

// WithWebhookRateLimit throttles deliveries per source address. Zero disables limiting.
func WithWebhookRateLimit(perMinute int, clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(perMinute, webhookRateWindow, clock)
	}
}

// WithWebhookLogger registers a structured logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(orders repositories.OrderRepository, sync services.OrderSyncService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		orders: orders,
		sync:   sync,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.storefrontAuth == nil {
		h.storefrontAuth = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpx.WriteError(r.Context(), w, httpx.NewError("storefront_auth_unconfigured", "storefront signing secret not configured", http.StatusServiceUnavailable))
			})
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.limiter, "storefront", webhookRateWindow), h.storefrontAuth).
		Post("/storefront/orders", h.storefrontOrder)
	r.With(rateLimitMiddleware(h.limiter, "stripe", webhookRateWindow)).
		Post("/stripe", h.stripeEvent)
}

type storefrontOrderRequest struct {
	Event string                  `json:"event"`
	Order *storefrontOrderPayload `json:"order"`
}

// storefrontID accepts ids sent either as JSON numbers or as strings.
type storefrontID string

func (id *storefrontID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = storefrontID(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = storefrontID(number.String())
	return nil
}

type storefrontOrderPayload struct {
	ID       storefrontID `json:"id"`
	Customer struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"customer"`
	CompletedAt    *time.Time            `json:"completedAt"`
	Gateway        string                `json:"gateway"`
	Currency       string                `json:"currency"`
	BillingCountry string                `json:"billingCountry"`
	Total          decimal.NullDecimal   `json:"total"`
	Cart           []storefrontCartEntry `json:"cart"`
	Products       []storefrontID        `json:"products"`
	PaymentMeta    map[string]string     `json:"paymentMeta"`
}

type storefrontCartEntry struct {
	ProductID storefrontID        `json:"productId"`
	PriceID   storefrontID        `json:"priceId"`
	Name      string              `json:"name"`
	Upgrade   bool                `json:"upgrade"`
	Subtotal  decimal.NullDecimal `json:"subtotal"`
	Discount  decimal.NullDecimal `json:"discount"`
	Fees      []struct {
		Label  string          `json:"label"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"fees"`
}

type webhookAck struct {
	OrderID string `json:"orderId,omitempty"`
	EventID string `json:"eventId,omitempty"`
	Outcome string `json:"outcome"`
	Kind    string `json:"kind,omitempty"`
}

func (p storefrontOrderPayload) toDomain() domain.Order {
	order := domain.Order{
		ID: strings.TrimSpace(string(p.ID)),
		Customer: domain.Customer{
			FirstName: strings.TrimSpace(p.Customer.FirstName),
			LastName:  strings.TrimSpace(p.Customer.LastName),
			Email:     strings.TrimSpace(p.Customer.Email),
		},
		Gateway:        domain.NormalizeGateway(p.Gateway),
		Currency:       strings.ToUpper(strings.TrimSpace(p.Currency)),
		BillingCountry: strings.ToUpper(strings.TrimSpace(p.BillingCountry)),
		Total:          p.Total,
		PaymentMeta:    normalizePaymentMeta(p.PaymentMeta),
	}
	if p.CompletedAt != nil {
		order.CompletedAt = p.CompletedAt.UTC()
	}
	for _, product := range p.Products {
		if trimmed := strings.TrimSpace(string(product)); trimmed != "" {
			order.Products = append(order.Products, trimmed)
		}
	}
	for _, entry := range p.Cart {
		cart := domain.CartEntry{
			ProductID: strings.TrimSpace(string(entry.ProductID)),
			PriceID:   strings.TrimSpace(string(entry.PriceID)),
			Name:      entry.Name,
			Upgrade:   entry.Upgrade,
			Subtotal:  entry.Subtotal,
			Discount:  entry.Discount,
		}
		for _, fee := range entry.Fees {
			cart.Fees = append(cart.Fees, domain.Fee{Label: fee.Label, Amount: fee.Amount})
		}
		order.Cart = append(order.Cart, cart)
	}
	return order
}

// normalizePaymentMeta trims keys and values and drops entries without a key.
func normalizePaymentMeta(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	meta := make(map[string]string, len(values))
	for key, value := range values {
		if key = strings.TrimSpace(key); key != "" {
			meta[key] = strings.TrimSpace(value)
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func (h *WebhookHandlers) storefrontOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_unavailable", "order sync is not configured", http.StatusServiceUnavailable))
		return
	}

	var req storefrontOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if req.Order == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order is required", http.StatusBadRequest))
		return
	}
	order := req.Order.toDomain()
	if order.ID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order.id is required", http.StatusBadRequest))
		return
	}

	ctx = requestctx.WithOrderID(ctx, order.ID)
	r = r.WithContext(ctx)
	observability.TagRequest(r)

	if err := h.orders.Upsert(ctx, order); err != nil {
		h.logger(ctx, "webhook.storefront.store_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order snapshot could not be stored", http.StatusServiceUnavailable))
		return
	}

	event := strings.ToLower(strings.TrimSpace(req.Event))
	if event == "" {
		event = storefrontEventComplete
	}
	ack := webhookAck{OrderID: order.ID, Outcome: outcomeStored}
	if event == storefrontEventComplete {
		switch intentID, ok := order.Meta(domain.PaymentMetaTransactionID); {
		case order.Gateway != domain.GatewayStripe:
			result, err := h.sync.SyncCapture(ctx, services.SyncCaptureCommand{OrderID: order.ID})
			ack = syncAck(order.ID, result, err)
		case ok:
			// The Stripe event may have arrived before this snapshot; whichever
			// delivery comes second finds the other's data and syncs.
			result, err := h.sync.SyncIntent(ctx, services.SyncIntentCommand{IntentID: intentID, OrderID: order.ID})
			ack = syncAck(order.ID, result, err)
		}
	}
	h.logger(ctx, "webhook.storefront.accepted", map[string]any{
		"event":   event,
		"gateway": string(order.Gateway),
		"outcome": ack.Outcome,
		"kind":    ack.Kind,
	})
	httpx.WriteJSON(w, http.StatusAccepted, ack)
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripeSecret == "" || h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stripe_webhook_unconfigured", "stripe webhook is not configured", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := payments.ParseStripeEvent(payload, r.Header.Get(stripeSignatureHeader), h.stripeSecret)
	if err != nil {
		if errors.Is(err, payments.ErrStripeSignature) {
			h.logger(ctx, "webhook.stripe.signature_failed", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "stripe signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if event.Type != payments.StripeEventPaymentIntentSucceeded || event.IntentID == "" {
		h.logger(ctx, "webhook.stripe.ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		httpx.WriteJSON(w, http.StatusAccepted, webhookAck{EventID: event.ID, Outcome: outcomeIgnored})
		return
	}

	result, err := h.sync.SyncIntent(ctx, services.SyncIntentCommand{IntentID: event.IntentID})
	orderID := result.OrderID
	if orderID != "" {
		ctx = requestctx.WithOrderID(ctx, orderID)
		observability.TagRequest(r.WithContext(ctx))
	}
	ack := syncAck(orderID, result, err)
	ack.EventID = event.ID
	h.logger(ctx, "webhook.stripe.accepted", map[string]any{
		"eventId":  event.ID,
		"intentId": event.IntentID,
		"outcome":  ack.Outcome,
		"kind":     ack.Kind,
	})
	httpx.WriteJSON(w, http.StatusAccepted, ack)
}

// syncAck folds a sync result into the webhook acknowledgement. Failures are
// already logged, published and counted by the sync service.
func syncAck(orderID string, result services.SyncResult, err error) webhookAck {
	ack := webhookAck{OrderID: orderID, Outcome: result.Outcome}
	switch {
	case errors.Is(err, services.ErrAlreadyProcessed):
		ack.Outcome = outcomeDuplicate
	case err != nil:
		ack.Outcome = services.OutcomeFailed
		if kind, ok := services.KindOf(err); ok {
			ack.Kind = string(kind)
		}
	}
	if ack.Outcome == "" {
		ack.Outcome = services.OutcomeSkipped
	}
	return ack
}

func decodeJSONBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		return errors.New("failed to read body")
	}
	if len(body) > maxWebhookBodySize {
		return errors.New("body too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}
