package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

const (
	// PayPalLiveBaseURL is the production REST host.
	PayPalLiveBaseURL = "https://api-m.paypal.com"
	// PayPalSandboxBaseURL is the sandbox REST host.
	PayPalSandboxBaseURL = "https://api-m.sandbox.paypal.com"

	defaultPayPalTimeout = 15 * time.Second
	maxPayPalBody        = 1 << 20
	maxPayPalErrorBody   = 512
)

// PayPalHTTPError is returned when the orders API answers with a non-200 status.
type PayPalHTTPError struct {
	Status int
	Body   string
}

func (e *PayPalHTTPError) Error() string {
	return fmt.Sprintf("paypal: orders api returned %d: %s", e.Status, e.Body)
}

// PayPalGatewayConfig configures the PayPalOrdersGateway.
type PayPalGatewayConfig struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	// BaseURL overrides the live/sandbox host.
	BaseURL string
	Timeout time.Duration
	// HTTPClient is the transport used for both token and order requests.
	HTTPClient *http.Client
	Logger     Logger
}

// PayPalOrdersGateway fetches checkout orders and their capture breakdowns.
type PayPalOrdersGateway struct {
	baseURL string
	client  *http.Client
	logger  Logger
}

// NewPayPalOrdersGateway builds an OAuth2 client-credentials backed orders client.
func NewPayPalOrdersGateway(cfg PayPalGatewayConfig) (*PayPalOrdersGateway, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = PayPalLiveBaseURL
		if cfg.Sandbox {
			base = PayPalSandboxBaseURL
		}
	}
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return nil, fmt.Errorf("paypal: invalid base url %q", base)
	}
	base = strings.TrimRight(parsed.String(), "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPayPalTimeout
	}
	transport := cfg.HTTPClient
	if transport == nil {
		transport = &http.Client{Timeout: timeout}
	}

	creds := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, transport)
	client := oauth2.NewClient(tokenCtx, creds.TokenSource(tokenCtx))
	client.Timeout = timeout

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PayPalOrdersGateway{baseURL: base, client: client, logger: logger}, nil
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalCapture struct {
	ID                        string      `json:"id"`
	Status                    string      `json:"status"`
	Amount                    paypalMoney `json:"amount"`
	SellerReceivableBreakdown *struct {
		GrossAmount *paypalMoney `json:"gross_amount"`
		PayPalFee   *paypalMoney `json:"paypal_fee"`
		NetAmount   *paypalMoney `json:"net_amount"`
	} `json:"seller_receivable_breakdown"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CreateTime    string `json:"create_time"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// GetOrder retrieves a checkout order by id.
func (g *PayPalOrdersGateway) GetOrder(ctx context.Context, orderID string) (domain.CaptureOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CaptureOrder{}, errors.New("paypal: order id is required")
	}

	endpoint := g.baseURL + "/v2/checkout/orders/" + url.PathEscape(orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CaptureOrder{}, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.CaptureOrder{}, fmt.Errorf("paypal: get order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayPalBody))
	if err != nil {
		return domain.CaptureOrder{}, fmt.Errorf("paypal: read order: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		excerpt := strings.TrimSpace(string(body))
		if len(excerpt) > maxPayPalErrorBody {
			excerpt = excerpt[:maxPayPalErrorBody]
		}
		g.logger(ctx, "payments.paypal.order.http_failed", map[string]any{
			"orderId": orderID,
			"status":  resp.StatusCode,
		})
		return domain.CaptureOrder{}, &PayPalHTTPError{Status: resp.StatusCode, Body: excerpt}
	}

	var payload paypalOrder
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.CaptureOrder{}, fmt.Errorf("paypal: decode order: %w", err)
	}
	return toCaptureOrder(payload), nil
}

func toCaptureOrder(payload paypalOrder) domain.CaptureOrder {
	order := domain.CaptureOrder{
		ID:     payload.ID,
		Status: payload.Status,
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.CreateTime)); err == nil {
		order.CreateTime = ts
	}
	for _, unit := range payload.PurchaseUnits {
		pu := domain.PurchaseUnit{ReferenceID: unit.ReferenceID}
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			pu.CaptureID = capture.ID
			pu.Currency = capture.Amount.CurrencyCode
			pu.Gross = parseMoney(&capture.Amount)
			if breakdown := capture.SellerReceivableBreakdown; breakdown != nil {
				if breakdown.GrossAmount != nil {
					pu.Gross = parseMoney(breakdown.GrossAmount)
				}
				pu.Fee = parseMoney(breakdown.PayPalFee)
				pu.Net = parseMoney(breakdown.NetAmount)
			}
		}
		order.PurchaseUnits = append(order.PurchaseUnits, pu)
	}
	return order
}

func parseMoney(m *paypalMoney) decimal.NullDecimal {
	if m == nil {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(strings.TrimSpace(m.Value))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: value, Valid: true}
}
