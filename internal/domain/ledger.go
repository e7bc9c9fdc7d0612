package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the role of a line item within a ledger transaction.
type Balance string

const (
	// BalanceCredit increases the income side.
	BalanceCredit Balance = "CREDIT"
	// BalanceDebit reduces it.
	BalanceDebit Balance = "DEBIT"
)

// Direction is the direction of the anchor leg.
type Direction string

const (
	// DirectionDeposit records money arriving in the anchor account.
	DirectionDeposit Direction = "DEPOSIT"
	// DirectionWithdrawal records money leaving it.
	DirectionWithdrawal Direction = "WITHDRAWAL"
)

// LineKind records where a line item came from.
type LineKind string

const (
	LineKindIncome      LineKind = "income"
	LineKindDiscount    LineKind = "discount"
	LineKindPurchaseFee LineKind = "purchase_fee"
	LineKindGatewayFee  LineKind = "gateway_fee"
)

// LineItem is one CREDIT or DEBIT entry besides the anchor leg.
type LineItem struct {
	AccountID string
	Amount    decimal.Decimal
	Balance   Balance
	Kind      LineKind
	// Unresolved marks income lines whose product has no mapped ledger account.
	Unresolved bool
	ProductID  string
	PriceID    string
}

// NewLineItem builds a line item with the amount rounded to two places.
// Negative amounts flip the balance so the stored amount is never negative.
func NewLineItem(kind LineKind, accountID string, amount decimal.Decimal, balance Balance) LineItem {
	amount = RoundMoney(amount)
	if amount.IsNegative() {
		amount = amount.Neg()
		balance = balance.Opposite()
	}
	return LineItem{AccountID: accountID, Amount: amount, Balance: balance, Kind: kind}
}

// Opposite returns the other balance role.
func (b Balance) Opposite() Balance {
	if b == BalanceCredit {
		return BalanceDebit
	}
	return BalanceCredit
}

// RoundMoney rounds to the two fractional digits the ledger accepts.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// FormatMoney renders an amount with exactly two fractional digits.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// AnchorLeg is the merchant account receiving the net settlement.
type AnchorLeg struct {
	AccountID string
	Amount    decimal.Decimal
	Direction Direction
}

// DateLayout is the calendar date format used by the ledger.
const DateLayout = "2006-01-02"

// LedgerDate formats t as a calendar date in loc (UTC when nil).
func LedgerDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// Transaction is the money transaction submitted to the ledger once per order.
type Transaction struct {
	BusinessID  string
	ExternalID  string
	Date        string
	Description string
	Notes       string
	Anchor      AnchorLeg
	LineItems   []LineItem
}

// LineTotals sums credit and debit line amounts.
func LineTotals(items []LineItem) (credits, debits decimal.Decimal) {
	for _, item := range items {
		switch item.Balance {
		case BalanceCredit:
			credits = credits.Add(item.Amount)
		case BalanceDebit:
			debits = debits.Add(item.Amount)
		}
	}
	return credits, debits
}

// LedgerBusiness is a business visible to the configured ledger token.
type LedgerBusiness struct {
	ID   string
	Name string
}

// LedgerAccount is a chart-of-accounts entry of a ledger business.
type LedgerAccount struct {
	ID         string
	Name       string
	Type       string
	Subtype    string
	IsArchived bool
}

// LedgerPageInfo describes the page returned by an accounts query.
type LedgerPageInfo struct {
	CurrentPage int
	TotalPages  int
	TotalCount  int
}

// LedgerAccountPage is one page of ledger accounts.
type LedgerAccountPage struct {
	Accounts []LedgerAccount
	PageInfo LedgerPageInfo
}
