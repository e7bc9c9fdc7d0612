package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeEventPaymentIntentSucceeded is the event that triggers the intent sync.
const StripeEventPaymentIntentSucceeded = "payment_intent.succeeded"

// ErrStripeSignature indicates a webhook payload whose signature could not be verified.
var ErrStripeSignature = errors.New("stripe: invalid webhook signature")

// StripeEvent is the verified subset of a Stripe webhook event.
type StripeEvent struct {
	ID       string
	Type     string
	IntentID string
	Metadata map[string]string
}

// ParseStripeEvent verifies the Stripe-Signature header and decodes the event.
// Payment intent ids are extracted for payment_intent.* events.
func ParseStripeEvent(payload []byte, signature, secret string) (StripeEvent, error) {
	if strings.TrimSpace(secret) == "" {
		return StripeEvent{}, errors.New("stripe: webhook secret is required")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeEvent{}, fmt.Errorf("%w: %v", ErrStripeSignature, err)
	}

	result := StripeEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(result.Type, "payment_intent.") || event.Data == nil {
		return result, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return StripeEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
	}
	result.IntentID = intent.ID
	result.Metadata = intent.Metadata
	return result, nil
}
