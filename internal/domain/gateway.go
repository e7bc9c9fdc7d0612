package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CaptureStatusCompleted is the settled status of a capture-style order.
const CaptureStatusCompleted = "completed"

// CaptureOrder is the capture-style gateway view of a checkout order.
type CaptureOrder struct {
	ID            string
	Status        string
	CreateTime    time.Time
	PurchaseUnits []PurchaseUnit
}

// Completed reports whether the order reached the settled state.
func (o CaptureOrder) Completed() bool {
	return strings.EqualFold(strings.TrimSpace(o.Status), CaptureStatusCompleted)
}

// PurchaseUnit carries the first capture of one purchase unit.
type PurchaseUnit struct {
	ReferenceID string
	CaptureID   string
	Currency    string
	Gross       decimal.NullDecimal
	Net         decimal.NullDecimal
	Fee         decimal.NullDecimal
}

// IntentStatusSucceeded is the success status of an intent-style payment.
const IntentStatusSucceeded = "succeeded"

// PaymentIntent is the intent-style gateway payment object.
type PaymentIntent struct {
	ID             string
	Status         string
	Currency       string
	AmountReceived int64
	Created        time.Time
	LatestChargeID string
	Metadata       map[string]string
}

// Succeeded reports whether the intent reached the success state.
func (p PaymentIntent) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(p.Status), IntentStatusSucceeded)
}

// Charge is the charge behind a payment intent.
type Charge struct {
	ID                   string
	BalanceTransactionID string
	BillingCountry       string
}

// BalanceTransaction holds gateway-native minor unit amounts.
type BalanceTransaction struct {
	ID       string
	Currency string
	Amount   int64
	Fee      int64
	Net      int64
}

// SettlementSource tags whether settlement figures were reported or estimated.
type SettlementSource string

const (
	SettlementAuthoritative SettlementSource = "authoritative"
	SettlementEstimated     SettlementSource = "estimated"
)

// Settlement is the reconciled gateway settlement for one order.
type Settlement struct {
	Gateway Gateway
	Source  SettlementSource
	Gross   decimal.NullDecimal
	Fee     decimal.NullDecimal
	// Net is empty on the estimated path.
	Net decimal.NullDecimal
	// Date overrides the order completion date when non-empty.
	Date      string
	Reference string
	Country   string
}

// Estimated reports whether the figures came from the fee estimate.
func (s Settlement) Estimated() bool {
	return s.Source == SettlementEstimated
}

// MinorUnits converts gateway-native integer minor units into a two-place amount.
func MinorUnits(value int64) decimal.Decimal {
	return decimal.New(value, -2)
}
