package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	intent  *stripe.PaymentIntent
	err     error
	account string
	gotID   string
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.gotID = id
	if params != nil && params.StripeAccount != nil {
		f.account = *params.StripeAccount
	}
	return f.intent, f.err
}

type fakeChargeAPI struct {
	charge *stripe.Charge
	err    error
}

func (f *fakeChargeAPI) Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error) {
	return f.charge, f.err
}

type fakeBalanceAPI struct {
	txn *stripe.BalanceTransaction
	err error
}

func (f *fakeBalanceAPI) Get(id string, params *stripe.BalanceTransactionParams) (*stripe.BalanceTransaction, error) {
	return f.txn, f.err
}

func newTestStripeGateway(t *testing.T, intents *fakeIntentAPI, charges *fakeChargeAPI, balances *fakeBalanceAPI) *StripeIntentGateway {
	t.Helper()
	gw, err := NewStripeIntentGateway(StripeGatewayConfig{
		AccountID: "acct_connected",
		Clients:   &stripeClients{intents: intents, charges: charges, balances: balances},
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestStripeGatewayRetrievePaymentIntent(t *testing.T) {
	intents := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		ID:             "pi_123",
		Status:         stripe.PaymentIntentStatusSucceeded,
		Currency:       stripe.CurrencyUSD,
		AmountReceived: 10000,
		Created:        1709640000,
		LatestCharge:   &stripe.Charge{ID: "ch_123"},
		Metadata:       map[string]string{"order_id": "501"},
	}}
	gw := newTestStripeGateway(t, intents, &fakeChargeAPI{}, &fakeBalanceAPI{})

	intent, err := gw.RetrievePaymentIntent(context.Background(), " pi_123 ")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if intents.gotID != "pi_123" {
		t.Fatalf("expected trimmed id, got %q", intents.gotID)
	}
	if intents.account != "acct_connected" {
		t.Fatalf("expected connected account header, got %q", intents.account)
	}
	if !intent.Succeeded() || intent.LatestChargeID != "ch_123" || intent.Currency != "USD" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Created.Unix() != 1709640000 {
		t.Fatalf("unexpected created %v", intent.Created)
	}
	if intent.Metadata["order_id"] != "501" {
		t.Fatalf("expected metadata to be carried")
	}
}

func TestStripeGatewayChargeAndBalance(t *testing.T) {
	charges := &fakeChargeAPI{charge: &stripe.Charge{
		ID:                 "ch_123",
		BalanceTransaction: &stripe.BalanceTransaction{ID: "txn_123"},
		BillingDetails:     &stripe.ChargeBillingDetails{Address: &stripe.Address{Country: "gb"}},
	}}
	balances := &fakeBalanceAPI{txn: &stripe.BalanceTransaction{
		ID: "txn_123", Currency: stripe.CurrencyUSD, Amount: 10000, Fee: 320, Net: 9680,
	}}
	gw := newTestStripeGateway(t, &fakeIntentAPI{}, charges, balances)

	charge, err := gw.RetrieveCharge(context.Background(), "ch_123")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charge.BalanceTransactionID != "txn_123" || charge.BillingCountry != "GB" {
		t.Fatalf("unexpected charge %+v", charge)
	}

	txn, err := gw.RetrieveBalanceTransaction(context.Background(), charge.BalanceTransactionID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if txn.Amount != 10000 || txn.Fee != 320 || txn.Net != 9680 {
		t.Fatalf("unexpected balance transaction %+v", txn)
	}
}

func TestStripeGatewayPropagatesErrors(t *testing.T) {
	upstream := errors.New("boom")
	gw := newTestStripeGateway(t, &fakeIntentAPI{err: upstream}, &fakeChargeAPI{err: upstream}, &fakeBalanceAPI{err: upstream})

	if _, err := gw.RetrievePaymentIntent(context.Background(), "pi_1"); !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if _, err := gw.RetrieveCharge(context.Background(), "ch_1"); !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if _, err := gw.RetrieveBalanceTransaction(context.Background(), "txn_1"); !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if _, err := gw.RetrieveCharge(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank id")
	}
}

func TestNewStripeIntentGatewayRequiresKey(t *testing.T) {
	if _, err := NewStripeIntentGateway(StripeGatewayConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
	gw, err := NewStripeIntentGateway(StripeGatewayConfig{APIKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if gw.api.intents == nil || gw.api.charges == nil || gw.api.balances == nil {
		t.Fatalf("expected stripe clients to be wired")
	}
}
