package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// CaptureReconciliation is the outcome of reconciling a capture-style order.
type CaptureReconciliation struct {
	Settlement domain.Settlement
	FeeLines   []domain.LineItem
	UnitCount  int
}

// CaptureReconciler derives net settlement and gateway fees from capture records.
type CaptureReconciler struct {
	feesAccount string
	location    *time.Location
}

// NewCaptureReconciler constructs a reconciler posting gateway fees to feesAccount.
// Settlement timestamps are converted to calendar dates in loc (UTC when nil).
func NewCaptureReconciler(feesAccount string, loc *time.Location) CaptureReconciler {
	if loc == nil {
		loc = time.UTC
	}
	return CaptureReconciler{feesAccount: strings.TrimSpace(feesAccount), location: loc}
}

// Reconcile validates the order and reads its purchase units.
// The last unit's net amount is the settlement net; each unit with a fee yields one DEBIT line.
func (r CaptureReconciler) Reconcile(order domain.CaptureOrder) (CaptureReconciliation, error) {
	if strings.TrimSpace(order.ID) == "" {
		return CaptureReconciliation{}, fmt.Errorf("%w: missing order id", ErrSettlementInvalid)
	}
	if !order.Completed() {
		return CaptureReconciliation{}, fmt.Errorf("%w: status %q is not completed", ErrSettlementInvalid, order.Status)
	}
	if len(order.PurchaseUnits) == 0 {
		return CaptureReconciliation{}, fmt.Errorf("%w: no purchase units", ErrSettlementInvalid)
	}

	settlement := domain.Settlement{
		Gateway:   domain.GatewayPayPal,
		Source:    domain.SettlementAuthoritative,
		Reference: order.ID,
	}
	var (
		fees   []domain.LineItem
		feeSum decimal.Decimal
		hasFee bool
	)
	for _, unit := range order.PurchaseUnits {
		settlement.Net = unit.Net
		settlement.Gross = unit.Gross
		if unit.Fee.Valid && !unit.Fee.Decimal.IsZero() {
			fees = append(fees, domain.NewLineItem(domain.LineKindGatewayFee, r.feesAccount, unit.Fee.Decimal, domain.BalanceDebit))
			feeSum = feeSum.Add(domain.RoundMoney(unit.Fee.Decimal))
			hasFee = true
		}
	}
	if !settlement.Net.Valid {
		return CaptureReconciliation{}, fmt.Errorf("%w: capture without net amount", ErrSettlementInvalid)
	}
	settlement.Net.Decimal = domain.RoundMoney(settlement.Net.Decimal)
	if hasFee {
		settlement.Fee.Decimal = feeSum
		settlement.Fee.Valid = true
	}
	if !order.CreateTime.IsZero() {
		settlement.Date = domain.LedgerDate(order.CreateTime, r.location)
	}

	return CaptureReconciliation{
		Settlement: settlement,
		FeeLines:   fees,
		UnitCount:  len(order.PurchaseUnits),
	}, nil
}
