package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway identifies the payment gateway an order was paid through.
type Gateway string

const (
	// GatewayPayPal is the capture-style gateway.
	GatewayPayPal Gateway = "paypal"
	// GatewayStripe is the intent-style gateway.
	GatewayStripe Gateway = "stripe"
)

// NormalizeGateway maps storefront gateway names onto the supported gateways.
// Unknown names are returned lowercased and trimmed.
func NormalizeGateway(raw string) Gateway {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "paypal", "paypal_commerce", "paypal_checkout", "paypal_pro":
		return GatewayPayPal
	case "stripe", "stripe_checkout":
		return GatewayStripe
	default:
		return Gateway(value)
	}
}

const (
	// PaymentMetaPayPalOrderID is the payment meta key holding the PayPal checkout order id.
	PaymentMetaPayPalOrderID = "paypal_order_id"
	// PaymentMetaTransactionID holds the gateway transaction reference (the Stripe payment intent id).
	PaymentMetaTransactionID = "transaction_id"
)

// Customer is the buyer attached to an order.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
}

// DisplayName joins the first and last name, skipping empty parts.
func (c Customer) DisplayName() string {
	parts := make([]string, 0, 2)
	for _, part := range []string{c.FirstName, c.LastName} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// Fee is a per-item fee attached to a cart entry (handling, setup, ...).
type Fee struct {
	Label  string
	Amount decimal.Decimal
}

// CartEntry is one purchased item as recorded by the storefront.
type CartEntry struct {
	ProductID string
	// PriceID is the optional variable-pricing variant of the product.
	PriceID  string
	Name     string
	Upgrade  bool
	Subtotal decimal.NullDecimal
	Discount decimal.NullDecimal
	Fees     []Fee
}

// Order is the storefront order snapshot the sync pipeline reads.
type Order struct {
	ID             string
	Customer       Customer
	CompletedAt    time.Time
	Gateway        Gateway
	Currency       string
	BillingCountry string
	Total          decimal.NullDecimal
	Cart           []CartEntry
	// Products lists the purchased product references (downloads).
	Products    []string
	PaymentMeta map[string]string
	UpdatedAt   time.Time
}

// Meta returns the trimmed payment meta value for key and whether it was non-empty.
func (o Order) Meta(key string) (string, bool) {
	if o.PaymentMeta == nil {
		return "", false
	}
	value := strings.TrimSpace(o.PaymentMeta[key])
	return value, value != ""
}

// AccountMapping ties a storefront product to its ledger income accounts.
type AccountMapping struct {
	ProductID       string
	IncomeAccountID string
	// VariantAccounts maps price ids to income accounts for variable-priced products.
	VariantAccounts map[string]string
	UpdatedAt       time.Time
}

// VariantPriceID normalises a cart price id. Blank and "0" mean the product has no price variant.
func VariantPriceID(priceID string) string {
	priceID = strings.TrimSpace(priceID)
	if priceID == "0" {
		return ""
	}
	return priceID
}

// AccountFor resolves the income account for the product or one of its price variants.
// When a price id is supplied only the variant table is consulted.
func (m AccountMapping) AccountFor(priceID string) (string, bool) {
	if priceID = VariantPriceID(priceID); priceID != "" {
		account := strings.TrimSpace(m.VariantAccounts[priceID])
		return account, account != ""
	}
	account := strings.TrimSpace(m.IncomeAccountID)
	return account, account != ""
}
