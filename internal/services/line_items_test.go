package services

import (
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func nullMoney(value string) decimal.NullDecimal {
	return decimal.NewNullDecimal(money(value))
}

func TestLineItemBuilderOrderAndCounts(t *testing.T) {
	builder := NewLineItemBuilder("acct-discounts", "acct-purchase-fees")
	order := domain.Order{
		ID: "700",
		Cart: []domain.CartEntry{
			{
				ProductID: "10",
				Subtotal:  nullMoney("50"),
				Discount:  nullMoney("5"),
				Fees: []domain.Fee{
					{Label: "Setup", Amount: money("2.499")},
					{Label: "Handling", Amount: money("1")},
				},
			},
			{ProductID: "", Subtotal: nullMoney("9.99")},
			{ProductID: "11", Upgrade: true, Subtotal: nullMoney("20")},
			{ProductID: "12", PriceID: "2", Subtotal: nullMoney("15.5"), Discount: nullMoney("0.001")},
		},
	}
	accounts := AccountTable{
		"10": {ProductID: "10", IncomeAccountID: "acct-10"},
		"12": {ProductID: "12", IncomeAccountID: "acct-12", VariantAccounts: map[string]string{"2": "acct-12-2"}},
	}

	lines, warnings := builder.Build(order, accounts)

	want := []struct {
		account string
		amount  string
		balance domain.Balance
		kind    domain.LineKind
	}{
		{"acct-10", "50.00", domain.BalanceCredit, domain.LineKindIncome},
		{"acct-discounts", "5.00", domain.BalanceDebit, domain.LineKindDiscount},
		{"acct-purchase-fees", "2.50", domain.BalanceCredit, domain.LineKindPurchaseFee},
		{"acct-purchase-fees", "1.00", domain.BalanceCredit, domain.LineKindPurchaseFee},
		{"acct-12-2", "15.50", domain.BalanceCredit, domain.LineKindIncome},
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %+v", len(want), len(lines), lines)
	}
	for i, w := range want {
		line := lines[i]
		if line.AccountID != w.account || domain.FormatMoney(line.Amount) != w.amount || line.Balance != w.balance || line.Kind != w.kind {
			t.Errorf("line %d = {%s %s %s %s}, want %+v", i, line.AccountID, domain.FormatMoney(line.Amount), line.Balance, line.Kind, w)
		}
		if line.Unresolved {
			t.Errorf("line %d unexpectedly unresolved", i)
		}
	}

	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %+v", warnings)
	}
	if warnings[0].Index != 1 || warnings[0].Reason != WarningMissingProduct {
		t.Errorf("unexpected first warning %+v", warnings[0])
	}
	if warnings[1].ProductID != "11" || warnings[1].Reason != WarningUpgradePurchase {
		t.Errorf("unexpected second warning %+v", warnings[1])
	}
}

func TestLineItemBuilderAmountsHaveTwoPlaces(t *testing.T) {
	builder := NewLineItemBuilder("d", "f")
	order := domain.Order{Cart: []domain.CartEntry{{
		ProductID: "1",
		Subtotal:  nullMoney("19.999"),
		Discount:  nullMoney("0.125"),
		Fees:      []domain.Fee{{Amount: money("-3.333")}},
	}}}

	lines, _ := builder.Build(order, AccountTable{"1": {IncomeAccountID: "a"}})
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if line.Amount.IsNegative() {
			t.Errorf("line %d has negative amount %s", i, line.Amount)
		}
		if line.Amount.Exponent() < -2 || !line.Amount.Equal(line.Amount.Round(2)) {
			t.Errorf("line %d amount %s not rounded to 2 places", i, line.Amount)
		}
	}
	if got := domain.FormatMoney(lines[0].Amount); got != "20.00" {
		t.Errorf("subtotal = %s", got)
	}
	if got := domain.FormatMoney(lines[1].Amount); got != "0.13" {
		t.Errorf("discount = %s", got)
	}
	// A negative fee is posted as a debit of the absolute amount.
	if lines[2].Balance != domain.BalanceDebit || domain.FormatMoney(lines[2].Amount) != "3.33" {
		t.Errorf("negative fee line = %+v", lines[2])
	}
}

func TestLineItemBuilderUnresolvedAccount(t *testing.T) {
	builder := NewLineItemBuilder("d", "f")
	order := domain.Order{Cart: []domain.CartEntry{
		{ProductID: "1", PriceID: "3", Subtotal: nullMoney("10")},
		{ProductID: "2", Subtotal: nullMoney("5")},
	}}

	lines, _ := builder.Build(order, AccountTable{"1": {IncomeAccountID: "acct-1"}})
	if len(lines) != 2 {
		t.Fatalf("expected both income lines to be kept, got %d", len(lines))
	}
	for _, line := range lines {
		if !line.Unresolved || line.AccountID != "" {
			t.Errorf("expected unresolved line, got %+v", line)
		}
	}
	if got := unresolvedProducts(lines); len(got) != 2 || got[0] != "1:3" || got[1] != "2" {
		t.Errorf("unresolvedProducts = %v", got)
	}
}

func TestLineItemBuilderZeroPriceIDUsesDefaultAccount(t *testing.T) {
	builder := NewLineItemBuilder("d", "f")
	order := domain.Order{Cart: []domain.CartEntry{{ProductID: "12", PriceID: "0", Subtotal: nullMoney("15")}}}

	lines, _ := builder.Build(order, AccountTable{
		"12": {ProductID: "12", IncomeAccountID: "acct-12", VariantAccounts: map[string]string{"2": "acct-12-2"}},
	})
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0].AccountID != "acct-12" || lines[0].Unresolved || lines[0].PriceID != "" {
		t.Fatalf("expected default income account, got %+v", lines[0])
	}
}

func TestLineItemBuilderSkipsZeroSubtotalAndDiscount(t *testing.T) {
	builder := NewLineItemBuilder("d", "f")
	order := domain.Order{Cart: []domain.CartEntry{{
		ProductID: "1",
		Subtotal:  nullMoney("0"),
		Discount:  nullMoney("0.00"),
	}}}

	lines, warnings := builder.Build(order, AccountTable{})
	if len(lines) != 0 || len(warnings) != 0 {
		t.Fatalf("expected no lines or warnings, got %+v %+v", lines, warnings)
	}
}
