package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/ledger"
)

// FailureKind classifies sync failures for logs, metrics and alerting events.
type FailureKind string

const (
	// KindValidation covers missing products or cart data, empty line items and malformed settlements.
	KindValidation FailureKind = "validation_failure"
	// KindGatewayUnavailable covers transport or auth failures talking to a payment gateway.
	KindGatewayUnavailable FailureKind = "gateway_unavailable"
	// KindReconciliationAmbiguous marks settlements that could not be reconciled authoritatively.
	KindReconciliationAmbiguous FailureKind = "reconciliation_ambiguous"
	// KindLedgerTransport covers network failures and timeouts talking to the ledger.
	KindLedgerTransport FailureKind = "ledger_transport_error"
	// KindLedgerHTTP covers non-200 ledger responses.
	KindLedgerHTTP FailureKind = "ledger_http_error"
	// KindLedgerAPI covers ledger responses rejecting the mutation.
	KindLedgerAPI FailureKind = "ledger_api_error"
)

var (
	// ErrSyncInvalidInput indicates the caller supplied an unusable command.
	ErrSyncInvalidInput = errors.New("ledgersync: invalid input")
	// ErrAlreadyProcessed indicates the completion event was already handled by this deployment.
	ErrAlreadyProcessed = errors.New("ledgersync: completion event already processed")
	// ErrSettlementInvalid indicates a gateway settlement that cannot be reconciled.
	ErrSettlementInvalid = errors.New("ledgersync: settlement invalid")
	// ErrIntentNotSucceeded indicates an intent that has not reached the success state.
	ErrIntentNotSucceeded = errors.New("ledgersync: payment intent not succeeded")
	// ErrEmptyLineItems indicates an attempt to assemble an anchor-only transaction.
	ErrEmptyLineItems = errors.New("ledgersync: transaction has no line items")
	// ErrOrderNotFound indicates the order snapshot is unknown.
	ErrOrderNotFound = errors.New("ledgersync: order not found")
)

// SyncError is the terminal failure of one sync invocation.
type SyncError struct {
	Kind    FailureKind
	OrderID string
	Gateway domain.Gateway
	Reason  string
	Err     error
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("ledgersync: ")
	b.WriteString(string(e.Kind))
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.Gateway != "" {
		fmt.Fprintf(&b, " gateway=%s", e.Gateway)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the failure kind from err.
func KindOf(err error) (FailureKind, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr != nil {
		return syncErr.Kind, true
	}
	return "", false
}

// ledgerFailureKind maps ledger client errors onto the failure taxonomy.
func ledgerFailureKind(err error) FailureKind {
	var (
		apiErr       *ledger.APIError
		httpErr      *ledger.HTTPError
		transportErr *ledger.TransportError
	)
	switch {
	case errors.As(err, &apiErr):
		return KindLedgerAPI
	case errors.As(err, &httpErr):
		return KindLedgerHTTP
	case errors.As(err, &transportErr):
		return KindLedgerTransport
	default:
		return KindLedgerTransport
	}
}
