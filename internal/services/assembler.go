package services

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/platform/textutil"
)

// DefaultDescriptionPrefix precedes the order id in transaction descriptions.
const DefaultDescriptionPrefix = "EDD #"

// TransactionAssembler combines the anchor leg and line items into a ledger transaction.
type TransactionAssembler struct {
	businessID string
	prefix     string
}

// NewTransactionAssembler constructs an assembler for businessID.
// An empty prefix falls back to DefaultDescriptionPrefix.
func NewTransactionAssembler(businessID, descriptionPrefix string) TransactionAssembler {
	if descriptionPrefix == "" {
		descriptionPrefix = DefaultDescriptionPrefix
	}
	return TransactionAssembler{businessID: strings.TrimSpace(businessID), prefix: descriptionPrefix}
}

// Assemble builds the transaction for order. It refuses an empty line-item list.
func (a TransactionAssembler) Assemble(order domain.Order, anchorAccountID string, lines []domain.LineItem, net decimal.Decimal, date string) (domain.Transaction, error) {
	if len(lines) == 0 {
		return domain.Transaction{}, ErrEmptyLineItems
	}
	orderID := strings.TrimSpace(order.ID)

	description := a.prefix + orderID
	if name := textutil.PlainText(order.Customer.DisplayName()); name != "" {
		description += " from " + name
	}
	var notes string
	if email := textutil.PlainText(order.Customer.Email); email != "" {
		notes = "Email: " + email
	}

	items := make([]domain.LineItem, len(lines))
	copy(items, lines)

	return domain.Transaction{
		BusinessID:  a.businessID,
		ExternalID:  orderID,
		Date:        date,
		Description: textutil.PlainText(description),
		Notes:       notes,
		Anchor: domain.AnchorLeg{
			AccountID: strings.TrimSpace(anchorAccountID),
			Amount:    domain.RoundMoney(net),
			Direction: domain.DirectionDeposit,
		},
		LineItems: items,
	}, nil
}
