package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

const operationMoneyTransactionCreate = "moneyTransactionCreate"

const moneyTransactionCreateMutation = `mutation ($input: MoneyTransactionCreateInput!) {
  moneyTransactionCreate(input: $input) {
    didSucceed
    inputErrors { code message path }
  }
}`

type anchorInput struct {
	AccountID string      `json:"accountId"`
	Amount    json.Number `json:"amount"`
	Direction string      `json:"direction"`
}

type lineItemInput struct {
	AccountID string      `json:"accountId"`
	Amount    json.Number `json:"amount"`
	Balance   string      `json:"balance"`
}

type moneyTransactionInput struct {
	BusinessID  string          `json:"businessId"`
	ExternalID  string          `json:"externalId"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Notes       string          `json:"notes,omitempty"`
	Anchor      anchorInput     `json:"anchor"`
	LineItems   []lineItemInput `json:"lineItems"`
}

type moneyTransactionCreateData struct {
	MoneyTransactionCreate *struct {
		DidSucceed  bool         `json:"didSucceed"`
		InputErrors []InputError `json:"inputErrors"`
	} `json:"moneyTransactionCreate"`
}

// Submit sends txn as a single moneyTransactionCreate mutation. It never retries.
func (c *Client) Submit(ctx context.Context, txn domain.Transaction) error {
	if strings.TrimSpace(txn.BusinessID) == "" || strings.TrimSpace(txn.ExternalID) == "" {
		return errors.New("ledger: transaction requires business and external ids")
	}
	if len(txn.LineItems) == 0 {
		return errors.New("ledger: transaction requires line items")
	}

	var data moneyTransactionCreateData
	err := c.execute(ctx, operationMoneyTransactionCreate, moneyTransactionCreateMutation, map[string]any{
		"input": encodeTransaction(txn),
	}, &data)
	if err != nil {
		return err
	}

	result := data.MoneyTransactionCreate
	if result == nil {
		return &APIError{Operation: operationMoneyTransactionCreate, Cause: errors.New("response has no mutation result")}
	}
	if !result.DidSucceed || len(result.InputErrors) > 0 {
		apiErr := &APIError{Operation: operationMoneyTransactionCreate, InputErrors: result.InputErrors}
		c.logger(ctx, "ledger.transaction.rejected", map[string]any{
			"externalId": txn.ExternalID,
			"errors":     apiErr.Error(),
		})
		return apiErr
	}
	return nil
}

func encodeTransaction(txn domain.Transaction) moneyTransactionInput {
	direction := txn.Anchor.Direction
	if direction == "" {
		direction = domain.DirectionDeposit
	}
	lines := make([]lineItemInput, 0, len(txn.LineItems))
	for _, item := range txn.LineItems {
		lines = append(lines, lineItemInput{
			AccountID: item.AccountID,
			Amount:    json.Number(domain.FormatMoney(item.Amount)),
			Balance:   string(item.Balance),
		})
	}
	return moneyTransactionInput{
		BusinessID:  txn.BusinessID,
		ExternalID:  txn.ExternalID,
		Date:        txn.Date,
		Description: txn.Description,
		Notes:       txn.Notes,
		Anchor: anchorInput{
			AccountID: txn.Anchor.AccountID,
			Amount:    json.Number(domain.FormatMoney(txn.Anchor.Amount)),
			Direction: string(direction),
		},
		LineItems: lines,
	}
}
