package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeChargeAPI interface {
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type stripeBalanceTransactionAPI interface {
	Get(id string, params *stripe.BalanceTransactionParams) (*stripe.BalanceTransaction, error)
}

type stripeClients struct {
	intents  stripePaymentIntentAPI
	charges  stripeChargeAPI
	balances stripeBalanceTransactionAPI
}

// StripeGatewayConfig configures the StripeIntentGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clients   *stripeClients
}

// StripeIntentGateway reads payment intents, charges and balance transactions from Stripe.
type StripeIntentGateway struct {
	api     stripeClients
	account string
	logger  Logger
}

// NewStripeIntentGateway constructs the intent-style gateway client.
func NewStripeIntentGateway(cfg StripeGatewayConfig) (*StripeIntentGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:  sc.PaymentIntents,
			charges:  sc.Charges,
			balances: sc.BalanceTransactions,
		}
	}
	if clients.intents == nil || clients.charges == nil || clients.balances == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeIntentGateway{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// RetrievePaymentIntent loads a payment intent by id.
func (g *StripeIntentGateway) RetrievePaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PaymentIntent{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.api.intents.Get(id, params)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.intent.retrieved", map[string]any{
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return toPaymentIntent(intent), nil
}

// RetrieveCharge loads the charge behind a payment intent.
func (g *StripeIntentGateway) RetrieveCharge(ctx context.Context, id string) (domain.Charge, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Charge{}, errors.New("stripe: charge id is required")
	}
	params := &stripe.ChargeParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	charge, err := g.api.charges.Get(id, params)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("stripe: retrieve charge: %w", err)
	}
	result := domain.Charge{ID: charge.ID}
	if charge.BalanceTransaction != nil {
		result.BalanceTransactionID = charge.BalanceTransaction.ID
	}
	if charge.BillingDetails != nil && charge.BillingDetails.Address != nil {
		result.BillingCountry = strings.ToUpper(strings.TrimSpace(charge.BillingDetails.Address.Country))
	}
	return result, nil
}

// RetrieveBalanceTransaction loads the settlement record of a charge. Amounts stay in minor units.
func (g *StripeIntentGateway) RetrieveBalanceTransaction(ctx context.Context, id string) (domain.BalanceTransaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BalanceTransaction{}, errors.New("stripe: balance transaction id is required")
	}
	params := &stripe.BalanceTransactionParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	txn, err := g.api.balances.Get(id, params)
	if err != nil {
		return domain.BalanceTransaction{}, fmt.Errorf("stripe: retrieve balance transaction: %w", err)
	}
	return domain.BalanceTransaction{
		ID:       txn.ID,
		Currency: strings.ToUpper(string(txn.Currency)),
		Amount:   txn.Amount,
		Fee:      txn.Fee,
		Net:      txn.Net,
	}, nil
}

func toPaymentIntent(intent *stripe.PaymentIntent) domain.PaymentIntent {
	if intent == nil {
		return domain.PaymentIntent{}
	}
	result := domain.PaymentIntent{
		ID:             intent.ID,
		Status:         string(intent.Status),
		Currency:       strings.ToUpper(string(intent.Currency)),
		AmountReceived: intent.AmountReceived,
		Metadata:       intent.Metadata,
	}
	if intent.Created > 0 {
		result.Created = time.Unix(intent.Created, 0).UTC()
	}
	if intent.LatestCharge != nil {
		result.LatestChargeID = intent.LatestCharge.ID
	}
	return result
}
