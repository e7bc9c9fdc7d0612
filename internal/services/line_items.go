package services

import (
	"strings"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// Warning reasons emitted by the line-item builder.
const (
	WarningMissingProduct  = "missing_product_id"
	WarningUpgradePurchase = "upgrade_purchase"
)

// Warning describes a cart entry the builder skipped.
type Warning struct {
	Index     int
	ProductID string
	Reason    string
}

// AccountLookup resolves the income account for a product and optional price variant.
type AccountLookup interface {
	IncomeAccount(productID, priceID string) (string, bool)
}

// AccountTable is an AccountLookup backed by preloaded product mappings.
type AccountTable map[string]domain.AccountMapping

// IncomeAccount implements AccountLookup.
func (t AccountTable) IncomeAccount(productID, priceID string) (string, bool) {
	mapping, ok := t[strings.TrimSpace(productID)]
	if !ok {
		return "", false
	}
	return mapping.AccountFor(priceID)
}

// LineItemBuilder turns cart contents into ordered income, discount and fee lines.
type LineItemBuilder struct {
	discountsAccount    string
	purchaseFeesAccount string
}

// NewLineItemBuilder constructs a builder posting discounts and per-item fees to the given accounts.
func NewLineItemBuilder(discountsAccount, purchaseFeesAccount string) LineItemBuilder {
	return LineItemBuilder{
		discountsAccount:    strings.TrimSpace(discountsAccount),
		purchaseFeesAccount: strings.TrimSpace(purchaseFeesAccount),
	}
}

// Build walks the cart in order. Each entry yields its income line, then its discount, then its fees.
// Entries without a product id or flagged as upgrades are skipped with a warning.
func (b LineItemBuilder) Build(order domain.Order, accounts AccountLookup) ([]domain.LineItem, []Warning) {
	var (
		lines    []domain.LineItem
		warnings []Warning
	)
	for index, entry := range order.Cart {
		productID := strings.TrimSpace(entry.ProductID)
		if productID == "" {
			warnings = append(warnings, Warning{Index: index, Reason: WarningMissingProduct})
			continue
		}
		if entry.Upgrade {
			warnings = append(warnings, Warning{Index: index, ProductID: productID, Reason: WarningUpgradePurchase})
			continue
		}
		priceID := domain.VariantPriceID(entry.PriceID)

		if entry.Subtotal.Valid && !domain.RoundMoney(entry.Subtotal.Decimal).IsZero() {
			var (
				account string
				found   bool
			)
			if accounts != nil {
				account, found = accounts.IncomeAccount(productID, priceID)
			}
			line := domain.NewLineItem(domain.LineKindIncome, account, entry.Subtotal.Decimal, domain.BalanceCredit)
			line.ProductID = productID
			line.PriceID = priceID
			line.Unresolved = !found
			lines = append(lines, line)
		}

		if entry.Discount.Valid && domain.FormatMoney(domain.RoundMoney(entry.Discount.Decimal)) != "0.00" {
			line := domain.NewLineItem(domain.LineKindDiscount, b.discountsAccount, entry.Discount.Decimal, domain.BalanceDebit)
			line.ProductID = productID
			line.PriceID = priceID
			lines = append(lines, line)
		}

		for _, fee := range entry.Fees {
			line := domain.NewLineItem(domain.LineKindPurchaseFee, b.purchaseFeesAccount, fee.Amount, domain.BalanceCredit)
			line.ProductID = productID
			line.PriceID = priceID
			lines = append(lines, line)
		}
	}
	return lines, warnings
}

// unresolvedProducts lists the products whose income account could not be resolved.
func unresolvedProducts(lines []domain.LineItem) []string {
	var products []string
	seen := make(map[string]struct{})
	for _, line := range lines {
		if !line.Unresolved {
			continue
		}
		key := line.ProductID
		if line.PriceID != "" {
			key += ":" + line.PriceID
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		products = append(products, key)
	}
	return products
}
