package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// Estimate reasons recorded when the authoritative balance transaction is not used.
const (
	EstimateChargeUnavailable  = "charge_unavailable"
	EstimateBalanceTxMissing   = "balance_transaction_missing"
	EstimateBalanceUnavailable = "balance_transaction_unavailable"
)

var (
	domesticFeeRate      = decimal.RequireFromString("0.029")
	internationalFeeRate = decimal.RequireFromString("0.039")
	fixedFee             = decimal.RequireFromString("0.30")
)

// domesticCountry is the billing country charged the domestic processing rate.
const domesticCountry = "US"

// EstimateFee approximates the gateway fee for amount charged to a card billed in country.
// Currency conversion surcharges are not included.
func EstimateFee(amount decimal.Decimal, country string) decimal.Decimal {
	rate := internationalFeeRate
	if strings.EqualFold(strings.TrimSpace(country), domesticCountry) {
		rate = domesticFeeRate
	}
	return domain.RoundMoney(amount.Mul(rate).Add(fixedFee))
}

// IntentGateway reads the intent-style gateway objects behind a payment.
type IntentGateway interface {
	RetrievePaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error)
	RetrieveCharge(ctx context.Context, id string) (domain.Charge, error)
	RetrieveBalanceTransaction(ctx context.Context, id string) (domain.BalanceTransaction, error)
}

// IntentReconciliation is the outcome of reconciling a payment intent.
type IntentReconciliation struct {
	Settlement     domain.Settlement
	FeeLines       []domain.LineItem
	EstimateReason string
	CountryName    string
}

// IntentReconciler derives gateway fees from the balance transaction or the fee estimate.
type IntentReconciler struct {
	gateway     IntentGateway
	feesAccount string
	location    *time.Location
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewIntentReconciler constructs a reconciler reading charges through gateway.
func NewIntentReconciler(gateway IntentGateway, feesAccount string, loc *time.Location, logger func(ctx context.Context, event string, fields map[string]any)) IntentReconciler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return IntentReconciler{
		gateway:     gateway,
		feesAccount: strings.TrimSpace(feesAccount),
		location:    loc,
		logger:      logger,
	}
}

// Reconcile aborts on a non-succeeded intent. Otherwise it prefers the authoritative balance
// transaction and falls back to the estimate when the charge chain is unavailable.
// fallbackCountry is used when the charge carries no billing country.
func (r IntentReconciler) Reconcile(ctx context.Context, intent domain.PaymentIntent, fallbackCountry string) (IntentReconciliation, error) {
	if !intent.Succeeded() {
		return IntentReconciliation{}, fmt.Errorf("%w: status %q", ErrIntentNotSucceeded, intent.Status)
	}

	charge, chargeErr := r.charge(ctx, intent)
	country := strings.ToUpper(strings.TrimSpace(charge.BillingCountry))
	if country == "" {
		country = strings.ToUpper(strings.TrimSpace(fallbackCountry))
	}

	result := IntentReconciliation{
		Settlement: domain.Settlement{
			Gateway:   domain.GatewayStripe,
			Reference: intent.ID,
			Country:   country,
		},
		CountryName: countryDisplayName(country),
	}
	if !intent.Created.IsZero() {
		result.Settlement.Date = domain.LedgerDate(intent.Created, r.location)
	}

	balance, reason := r.balanceTransaction(ctx, intent, charge, chargeErr)
	if reason == "" {
		result.Settlement.Source = domain.SettlementAuthoritative
		result.Settlement.Gross = decimal.NewNullDecimal(domain.MinorUnits(balance.Amount))
		result.Settlement.Fee = decimal.NewNullDecimal(domain.MinorUnits(balance.Fee))
		result.Settlement.Net = decimal.NewNullDecimal(domain.MinorUnits(balance.Net))
	} else {
		amount := domain.MinorUnits(intent.AmountReceived)
		result.Settlement.Source = domain.SettlementEstimated
		result.Settlement.Gross = decimal.NewNullDecimal(amount)
		result.Settlement.Fee = decimal.NewNullDecimal(EstimateFee(amount, country))
		result.EstimateReason = reason
	}

	if fee := domain.RoundMoney(result.Settlement.Fee.Decimal); !fee.IsZero() {
		result.FeeLines = append(result.FeeLines, domain.NewLineItem(domain.LineKindGatewayFee, r.feesAccount, fee, domain.BalanceDebit))
	}
	return result, nil
}

func (r IntentReconciler) charge(ctx context.Context, intent domain.PaymentIntent) (domain.Charge, error) {
	chargeID := strings.TrimSpace(intent.LatestChargeID)
	if chargeID == "" || r.gateway == nil {
		return domain.Charge{}, fmt.Errorf("intent %s has no charge", intent.ID)
	}
	charge, err := r.gateway.RetrieveCharge(ctx, chargeID)
	if err != nil {
		r.logger(ctx, "ledgersync.intent.charge_unavailable", map[string]any{
			"intentId": intent.ID,
			"chargeId": chargeID,
			"error":    err.Error(),
		})
		return domain.Charge{}, err
	}
	return charge, nil
}

func (r IntentReconciler) balanceTransaction(ctx context.Context, intent domain.PaymentIntent, charge domain.Charge, chargeErr error) (domain.BalanceTransaction, string) {
	if chargeErr != nil {
		return domain.BalanceTransaction{}, EstimateChargeUnavailable
	}
	balanceID := strings.TrimSpace(charge.BalanceTransactionID)
	if balanceID == "" {
		return domain.BalanceTransaction{}, EstimateBalanceTxMissing
	}
	balance, err := r.gateway.RetrieveBalanceTransaction(ctx, balanceID)
	if err != nil {
		r.logger(ctx, "ledgersync.intent.balance_unavailable", map[string]any{
			"intentId":             intent.ID,
			"balanceTransactionId": balanceID,
			"error":                err.Error(),
		})
		return domain.BalanceTransaction{}, EstimateBalanceUnavailable
	}
	return balance, ""
}

func countryDisplayName(code string) string {
	if code == "" {
		return ""
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return code
}
