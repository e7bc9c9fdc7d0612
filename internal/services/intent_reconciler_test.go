package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

type stubIntentGateway struct {
	intent     domain.PaymentIntent
	intentErr  error
	charge     domain.Charge
	chargeErr  error
	balance    domain.BalanceTransaction
	balanceErr error

	intentCalls  int
	chargeCalls  int
	balanceCalls int
}

func (s *stubIntentGateway) RetrievePaymentIntent(_ context.Context, id string) (domain.PaymentIntent, error) {
	s.intentCalls++
	if s.intentErr != nil {
		return domain.PaymentIntent{}, s.intentErr
	}
	intent := s.intent
	if intent.ID == "" {
		intent.ID = id
	}
	return intent, nil
}

func (s *stubIntentGateway) RetrieveCharge(context.Context, string) (domain.Charge, error) {
	s.chargeCalls++
	return s.charge, s.chargeErr
}

func (s *stubIntentGateway) RetrieveBalanceTransaction(context.Context, string) (domain.BalanceTransaction, error) {
	s.balanceCalls++
	return s.balance, s.balanceErr
}

func succeededIntent() domain.PaymentIntent {
	return domain.PaymentIntent{
		ID:             "pi_1",
		Status:         "succeeded",
		AmountReceived: 10000,
		Created:        time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC),
		LatestChargeID: "ch_1",
	}
}

func TestEstimateFee(t *testing.T) {
	amount := decimal.RequireFromString("100.00")
	if got := domain.FormatMoney(EstimateFee(amount, "US")); got != "3.20" {
		t.Fatalf("US fee = %s, want 3.20", got)
	}
	if got := domain.FormatMoney(EstimateFee(amount, "us")); got != "3.20" {
		t.Fatalf("lowercase US fee = %s, want 3.20", got)
	}
	if got := domain.FormatMoney(EstimateFee(amount, "DE")); got != "4.20" {
		t.Fatalf("DE fee = %s, want 4.20", got)
	}
	if got := domain.FormatMoney(EstimateFee(amount, "")); got != "4.20" {
		t.Fatalf("unknown country fee = %s, want 4.20", got)
	}
}

func TestIntentReconcilerAuthoritative(t *testing.T) {
	gateway := &stubIntentGateway{
		charge:  domain.Charge{ID: "ch_1", BalanceTransactionID: "txn_1", BillingCountry: "us"},
		balance: domain.BalanceTransaction{ID: "txn_1", Amount: 10000, Fee: 320, Net: 9680},
	}
	rec := NewIntentReconciler(gateway, "acct-stripe-fees", time.UTC, nil)

	result, err := rec.Reconcile(context.Background(), succeededIntent(), "")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	s := result.Settlement
	if s.Source != domain.SettlementAuthoritative || result.EstimateReason != "" {
		t.Fatalf("expected authoritative settlement, got %+v", result)
	}
	if domain.FormatMoney(s.Gross.Decimal) != "100.00" || domain.FormatMoney(s.Fee.Decimal) != "3.20" || domain.FormatMoney(s.Net.Decimal) != "96.80" {
		t.Fatalf("unexpected figures %+v", s)
	}
	if s.Date != "2024-05-01" || s.Country != "US" || result.CountryName != "United States" {
		t.Fatalf("unexpected date/country %s %s %s", s.Date, s.Country, result.CountryName)
	}
	if len(result.FeeLines) != 1 || result.FeeLines[0].Balance != domain.BalanceDebit || result.FeeLines[0].AccountID != "acct-stripe-fees" {
		t.Fatalf("unexpected fee lines %+v", result.FeeLines)
	}
}

func TestIntentReconcilerEstimatesWhenBalanceUnavailable(t *testing.T) {
	gateway := &stubIntentGateway{
		charge:     domain.Charge{ID: "ch_1", BalanceTransactionID: "txn_1", BillingCountry: "DE"},
		balanceErr: errors.New("balance transaction not ready"),
	}
	var events []string
	rec := NewIntentReconciler(gateway, "fees", nil, func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	})

	result, err := rec.Reconcile(context.Background(), succeededIntent(), "US")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Settlement.Estimated() || result.EstimateReason != EstimateBalanceUnavailable {
		t.Fatalf("expected estimate, got %+v", result)
	}
	if result.Settlement.Net.Valid {
		t.Fatalf("estimated settlement must leave net unresolved")
	}
	if got := domain.FormatMoney(result.Settlement.Fee.Decimal); got != "4.20" {
		t.Fatalf("estimated fee = %s, want 4.20 for DE", got)
	}
	if len(events) != 1 || events[0] != "ledgersync.intent.balance_unavailable" {
		t.Fatalf("unexpected log events %v", events)
	}
}

func TestIntentReconcilerFallsBackToOrderCountry(t *testing.T) {
	gateway := &stubIntentGateway{chargeErr: errors.New("charge lookup failed")}
	rec := NewIntentReconciler(gateway, "fees", nil, nil)

	result, err := rec.Reconcile(context.Background(), succeededIntent(), "us")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.EstimateReason != EstimateChargeUnavailable || result.Settlement.Country != "US" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := domain.FormatMoney(result.Settlement.Fee.Decimal); got != "3.20" {
		t.Fatalf("estimated fee = %s, want 3.20", got)
	}
	if gateway.balanceCalls != 0 {
		t.Fatalf("balance transaction should not be fetched without a charge")
	}
}

func TestIntentReconcilerMissingBalanceTransaction(t *testing.T) {
	gateway := &stubIntentGateway{charge: domain.Charge{ID: "ch_1"}}
	result, err := NewIntentReconciler(gateway, "fees", nil, nil).Reconcile(context.Background(), succeededIntent(), "")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.EstimateReason != EstimateBalanceTxMissing {
		t.Fatalf("expected missing balance transaction, got %q", result.EstimateReason)
	}
}

func TestIntentReconcilerRejectsNonSucceeded(t *testing.T) {
	gateway := &stubIntentGateway{}
	intent := succeededIntent()
	intent.Status = "requires_payment_method"

	_, err := NewIntentReconciler(gateway, "fees", nil, nil).Reconcile(context.Background(), intent, "US")
	if !errors.Is(err, ErrIntentNotSucceeded) {
		t.Fatalf("expected ErrIntentNotSucceeded, got %v", err)
	}
	if gateway.chargeCalls != 0 || gateway.balanceCalls != 0 {
		t.Fatalf("expected no gateway calls after status check")
	}
}
