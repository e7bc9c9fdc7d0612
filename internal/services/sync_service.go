package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/repositories"
)

// DefaultIntentOrderMetadataKey is the payment intent metadata key carrying the storefront order id.
const DefaultIntentOrderMetadataKey = "order_id"

const (
	captureGuardPrefix = "capture:"
	intentGuardPrefix  = "intent:"
)

// SyncAccounts lists the fixed ledger accounts used when posting orders.
type SyncAccounts struct {
	PayPalAnchor string
	PayPalFees   string
	StripeAnchor string
	StripeFees   string
	Discounts    string
	PurchaseFees string
}

// OrderSyncServiceDeps wires the collaborators of the sync pipeline.
type OrderSyncServiceDeps struct {
	Orders   repositories.OrderRepository
	Mappings repositories.AccountMappingRepository
	Capture  CaptureGateway
	Intents  IntentGateway
	Ledger   LedgerSubmitter
	Guard    ProcessedEventGuard
	Events   SyncEventPublisher
	Metrics  SyncMetrics

	Accounts               SyncAccounts
	BusinessID             string
	DescriptionPrefix      string
	Location               *time.Location
	StrictBalance          bool
	IntentOrderMetadataKey string

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderSyncService struct {
	orders   repositories.OrderRepository
	mappings repositories.AccountMappingRepository
	capture  CaptureGateway
	intents  IntentGateway
	ledger   LedgerSubmitter
	guard    ProcessedEventGuard
	events   SyncEventPublisher
	metrics  SyncMetrics

	accounts      SyncAccounts
	builder       LineItemBuilder
	captureRec    CaptureReconciler
	intentRec     IntentReconciler
	assembler     TransactionAssembler
	location      *time.Location
	strictBalance bool
	metadataKey   string

	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderSyncService = (*orderSyncService)(nil)

// NewOrderSyncService validates dependencies and builds the sync pipeline.
func NewOrderSyncService(deps OrderSyncServiceDeps) (OrderSyncService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order sync service: order repository is required")
	}
	if deps.Mappings == nil {
		return nil, errors.New("order sync service: account mapping repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order sync service: ledger client is required")
	}
	if deps.Capture == nil && deps.Intents == nil {
		return nil, errors.New("order sync service: at least one payment gateway is required")
	}
	if strings.TrimSpace(deps.BusinessID) == "" {
		return nil, errors.New("order sync service: business id is required")
	}
	accounts := deps.Accounts
	if strings.TrimSpace(accounts.Discounts) == "" || strings.TrimSpace(accounts.PurchaseFees) == "" {
		return nil, errors.New("order sync service: discount and purchase fee accounts are required")
	}
	if deps.Capture != nil && (strings.TrimSpace(accounts.PayPalAnchor) == "" || strings.TrimSpace(accounts.PayPalFees) == "") {
		return nil, errors.New("order sync service: paypal anchor and fee accounts are required")
	}
	if deps.Intents != nil && (strings.TrimSpace(accounts.StripeAnchor) == "" || strings.TrimSpace(accounts.StripeFees) == "") {
		return nil, errors.New("order sync service: stripe anchor and fee accounts are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	metadataKey := strings.TrimSpace(deps.IntentOrderMetadataKey)
	if metadataKey == "" {
		metadataKey = DefaultIntentOrderMetadataKey
	}

	return &orderSyncService{
		orders:        deps.Orders,
		mappings:      deps.Mappings,
		capture:       deps.Capture,
		intents:       deps.Intents,
		ledger:        deps.Ledger,
		guard:         deps.Guard,
		events:        deps.Events,
		metrics:       deps.Metrics,
		accounts:      accounts,
		builder:       NewLineItemBuilder(accounts.Discounts, accounts.PurchaseFees),
		captureRec:    NewCaptureReconciler(accounts.PayPalFees, loc),
		intentRec:     NewIntentReconciler(deps.Intents, accounts.StripeFees, loc, logger),
		assembler:     NewTransactionAssembler(deps.BusinessID, deps.DescriptionPrefix),
		location:      loc,
		strictBalance: deps.StrictBalance,
		metadataKey:   metadataKey,
		now:           clock,
		logger:        logger,
	}, nil
}

// syncRun carries the state of one invocation through the pipeline.
type syncRun struct {
	key      string
	gateway  domain.Gateway
	orderID  string
	intentID string
	force    bool
}

func (r syncRun) fields() map[string]any {
	fields := map[string]any{
		"orderId": r.orderID,
		"gateway": string(r.gateway),
		"forced":  r.force,
	}
	if r.intentID != "" {
		fields["intentId"] = r.intentID
	}
	return fields
}

func (s *orderSyncService) SyncCapture(ctx context.Context, cmd SyncCaptureCommand) (SyncResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return SyncResult{}, ErrSyncInvalidInput
	}
	return s.execute(ctx, &syncRun{
		key:     captureGuardPrefix + orderID,
		gateway: domain.GatewayPayPal,
		orderID: orderID,
		force:   cmd.Force,
	})
}

func (s *orderSyncService) SyncIntent(ctx context.Context, cmd SyncIntentCommand) (SyncResult, error) {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return SyncResult{}, ErrSyncInvalidInput
	}
	return s.execute(ctx, &syncRun{
		key:      intentGuardPrefix + intentID,
		gateway:  domain.GatewayStripe,
		orderID:  strings.TrimSpace(cmd.OrderID),
		intentID: intentID,
		force:    cmd.Force,
	})
}

// Resync reruns the sync for an order, bypassing the processed-event guard.
func (s *orderSyncService) Resync(ctx context.Context, cmd ResyncCommand) (SyncResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return SyncResult{}, ErrSyncInvalidInput
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return SyncResult{}, s.fail(ctx, &syncRun{orderID: orderID}, err)
	}

	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" && order.Gateway == domain.GatewayStripe {
		intentID, _ = order.Meta(domain.PaymentMetaTransactionID)
	}
	if intentID != "" {
		return s.SyncIntent(ctx, SyncIntentCommand{IntentID: intentID, OrderID: orderID, Force: true})
	}
	if order.Gateway == domain.GatewayStripe {
		return SyncResult{}, s.fail(ctx, &syncRun{orderID: orderID, gateway: order.Gateway}, &SyncError{
			Kind:   KindValidation,
			Reason: "order has no payment intent reference",
			Err:    ErrSyncInvalidInput,
		})
	}
	return s.SyncCapture(ctx, SyncCaptureCommand{OrderID: orderID, Force: true})
}

func (s *orderSyncService) execute(ctx context.Context, run *syncRun) (SyncResult, error) {
	start := s.now()

	if !run.force && s.guard != nil {
		claimed, err := s.guard.Claim(ctx, run.key)
		switch {
		case err != nil:
			// The ledger still deduplicates on externalId.
			fields := run.fields()
			fields["error"] = err.Error()
			s.logger(ctx, "ledgersync.guard.unavailable", fields)
		case !claimed:
			s.logger(ctx, "ledgersync.sync.duplicate", run.fields())
			s.record(ctx, run, OutcomeSkipped, "", start)
			return SyncResult{OrderID: run.orderID, Gateway: run.gateway, Outcome: OutcomeSkipped}, ErrAlreadyProcessed
		}
	}

	result, err := s.process(ctx, run)
	outcome := result.Outcome
	kind := ""
	if err != nil {
		outcome = OutcomeFailed
		if k, ok := KindOf(err); ok {
			kind = string(k)
		}
		err = s.fail(ctx, run, err)
	}

	if s.guard != nil {
		s.settleGuard(ctx, run, outcome, err)
	}
	s.record(ctx, run, outcome, kind, start)
	return result, err
}

// settleGuard records the outcome of a claimed event. An event whose order is
// not stored yet, or whose intent has not succeeded yet, is released so a later
// delivery can retry it.
func (s *orderSyncService) settleGuard(ctx context.Context, run *syncRun, outcome string, err error) {
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrIntentNotSucceeded) {
		if rerr := s.guard.Release(ctx, run.key); rerr != nil {
			fields := run.fields()
			fields["error"] = rerr.Error()
			s.logger(ctx, "ledgersync.guard.release_failed", fields)
			return
		}
		s.logger(ctx, "ledgersync.guard.released", run.fields())
		return
	}
	if cerr := s.guard.Complete(ctx, run.key, outcome); cerr != nil {
		fields := run.fields()
		fields["error"] = cerr.Error()
		s.logger(ctx, "ledgersync.guard.complete_failed", fields)
	}
}

type gatewayStep struct {
	settlement domain.Settlement
	feeLines   []domain.LineItem
	anchor     string
}

func (s *orderSyncService) process(ctx context.Context, run *syncRun) (SyncResult, error) {
	var intent domain.PaymentIntent
	if run.gateway == domain.GatewayStripe {
		if s.intents == nil {
			return SyncResult{}, &SyncError{Kind: KindGatewayUnavailable, Reason: "intent gateway not configured"}
		}
		var err error
		intent, err = s.intents.RetrievePaymentIntent(ctx, run.intentID)
		if err != nil {
			return SyncResult{}, &SyncError{Kind: KindGatewayUnavailable, Reason: "retrieve payment intent", Err: err}
		}
		if run.orderID == "" {
			run.orderID = strings.TrimSpace(intent.Metadata[s.metadataKey])
		}
		if run.orderID == "" {
			return SyncResult{}, &SyncError{Kind: KindValidation, Reason: fmt.Sprintf("payment intent has no %q metadata", s.metadataKey)}
		}
	}

	order, err := s.loadOrder(ctx, run.orderID)
	if err != nil {
		return SyncResult{}, err
	}
	if len(order.Products) == 0 {
		return SyncResult{}, &SyncError{Kind: KindValidation, Reason: "order has no purchased products"}
	}
	if len(order.Cart) == 0 {
		return SyncResult{}, &SyncError{Kind: KindValidation, Reason: "order has no cart details"}
	}

	var step gatewayStep
	switch run.gateway {
	case domain.GatewayPayPal:
		if order.Gateway == domain.GatewayStripe {
			s.logger(ctx, "ledgersync.capture.skipped", run.fields())
			return SyncResult{OrderID: order.ID, Gateway: run.gateway, Outcome: OutcomeSkipped}, nil
		}
		step, err = s.captureStep(ctx, run, order)
	case domain.GatewayStripe:
		step, err = s.intentStep(ctx, run, order, intent)
	default:
		err = &SyncError{Kind: KindValidation, Reason: fmt.Sprintf("unsupported gateway %q", run.gateway)}
	}
	if err != nil {
		return SyncResult{}, err
	}

	table, err := s.accountTable(ctx, order)
	if err != nil {
		return SyncResult{}, err
	}
	lines, warnings := s.builder.Build(order, table)
	for _, warning := range warnings {
		fields := run.fields()
		fields["cartIndex"] = warning.Index
		fields["productId"] = warning.ProductID
		fields["reason"] = warning.Reason
		s.logger(ctx, "ledgersync.line_items.skipped", fields)
	}
	if len(lines) == 0 {
		return SyncResult{}, &SyncError{Kind: KindValidation, Reason: "no line items", Err: ErrEmptyLineItems}
	}
	if unresolved := unresolvedProducts(lines); len(unresolved) > 0 {
		return SyncResult{}, &SyncError{
			Kind:   KindValidation,
			Reason: "unresolved income accounts for products " + strings.Join(unresolved, ","),
		}
	}
	lines = append(lines, step.feeLines...)

	net, err := s.anchorAmount(ctx, run, step.settlement, lines)
	if err != nil {
		return SyncResult{}, err
	}

	txn, err := s.assembler.Assemble(order, step.anchor, lines, net, s.transactionDate(order, step.settlement))
	if err != nil {
		return SyncResult{}, &SyncError{Kind: KindValidation, Reason: "assemble transaction", Err: err}
	}

	if err := s.ledger.Submit(ctx, txn); err != nil {
		return SyncResult{}, &SyncError{Kind: ledgerFailureKind(err), Reason: "submit transaction", Err: err}
	}

	fields := run.fields()
	fields["externalId"] = txn.ExternalID
	fields["lineItems"] = len(txn.LineItems)
	fields["anchorAmount"] = domain.FormatMoney(txn.Anchor.Amount)
	fields["settlement"] = string(step.settlement.Source)
	s.logger(ctx, "ledgersync.submit.succeeded", fields)

	return SyncResult{
		OrderID:     order.ID,
		Gateway:     run.gateway,
		Outcome:     OutcomeSubmitted,
		Settlement:  step.settlement,
		Transaction: txn,
		Warnings:    warnings,
	}, nil
}

func (s *orderSyncService) captureStep(ctx context.Context, run *syncRun, order domain.Order) (gatewayStep, error) {
	if s.capture == nil {
		return gatewayStep{}, &SyncError{Kind: KindGatewayUnavailable, Reason: "capture gateway not configured"}
	}
	checkoutID, ok := order.Meta(domain.PaymentMetaPayPalOrderID)
	if !ok {
		return gatewayStep{}, &SyncError{Kind: KindValidation, Reason: "order has no paypal order id"}
	}
	captureOrder, err := s.capture.GetOrder(ctx, checkoutID)
	if err != nil {
		return gatewayStep{}, &SyncError{Kind: KindGatewayUnavailable, Reason: "retrieve paypal order " + checkoutID, Err: err}
	}
	rec, err := s.captureRec.Reconcile(captureOrder)
	if err != nil {
		return gatewayStep{}, &SyncError{Kind: KindValidation, Reason: "reconcile capture", Err: err}
	}
	if rec.UnitCount > 1 {
		fields := run.fields()
		fields["purchaseUnits"] = rec.UnitCount
		fields["net"] = domain.FormatMoney(rec.Settlement.Net.Decimal)
		s.logger(ctx, "ledgersync.capture.multiple_units", fields)
	}
	return gatewayStep{settlement: rec.Settlement, feeLines: rec.FeeLines, anchor: s.accounts.PayPalAnchor}, nil
}

func (s *orderSyncService) intentStep(ctx context.Context, run *syncRun, order domain.Order, intent domain.PaymentIntent) (gatewayStep, error) {
	rec, err := s.intentRec.Reconcile(ctx, intent, order.BillingCountry)
	if err != nil {
		return gatewayStep{}, &SyncError{Kind: KindValidation, Reason: "reconcile payment intent", Err: err}
	}
	if rec.Settlement.Estimated() {
		fields := run.fields()
		fields["reason"] = rec.EstimateReason
		fields["country"] = rec.Settlement.Country
		fields["countryName"] = rec.CountryName
		fields["estimatedFee"] = domain.FormatMoney(rec.Settlement.Fee.Decimal)
		s.logger(ctx, "ledgersync.intent.fee_estimated", fields)
		s.publish(ctx, run, KindReconciliationAmbiguous, rec.EstimateReason, map[string]string{
			"country":      rec.Settlement.Country,
			"estimatedFee": domain.FormatMoney(rec.Settlement.Fee.Decimal),
		})
	}
	return gatewayStep{settlement: rec.Settlement, feeLines: rec.FeeLines, anchor: s.accounts.StripeAnchor}, nil
}

// anchorAmount returns the deposit amount. Without an authoritative net the line balance is used.
// With one, the balance is cross-checked and a mismatch is fatal only in strict mode.
func (s *orderSyncService) anchorAmount(ctx context.Context, run *syncRun, settlement domain.Settlement, lines []domain.LineItem) (decimal.Decimal, error) {
	credits, debits := domain.LineTotals(lines)
	computed := domain.RoundMoney(credits.Sub(debits))
	if !settlement.Net.Valid {
		return computed, nil
	}

	net := domain.RoundMoney(settlement.Net.Decimal)
	if net.Equal(computed) {
		return net, nil
	}
	details := map[string]string{
		"net":      domain.FormatMoney(net),
		"computed": domain.FormatMoney(computed),
	}
	fields := run.fields()
	fields["net"] = details["net"]
	fields["computed"] = details["computed"]
	fields["strict"] = s.strictBalance
	s.logger(ctx, "ledgersync.balance.mismatch", fields)
	if s.strictBalance {
		return decimal.Decimal{}, &SyncError{
			Kind:   KindValidation,
			Reason: fmt.Sprintf("line items balance to %s but settlement net is %s", details["computed"], details["net"]),
		}
	}
	s.publish(ctx, run, KindReconciliationAmbiguous, "balance_mismatch", details)
	return net, nil
}

func (s *orderSyncService) transactionDate(order domain.Order, settlement domain.Settlement) string {
	if settlement.Date != "" {
		return settlement.Date
	}
	if !order.CompletedAt.IsZero() {
		return domain.LedgerDate(order.CompletedAt, s.location)
	}
	return domain.LedgerDate(s.now(), s.location)
}

func (s *orderSyncService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err == nil {
		return order, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return domain.Order{}, &SyncError{Kind: KindValidation, Reason: "order not found", Err: ErrOrderNotFound}
	}
	return domain.Order{}, &SyncError{Kind: KindGatewayUnavailable, Reason: "order source unavailable", Err: err}
}

func (s *orderSyncService) accountTable(ctx context.Context, order domain.Order) (AccountTable, error) {
	seen := make(map[string]struct{}, len(order.Cart))
	productIDs := make([]string, 0, len(order.Cart))
	for _, entry := range order.Cart {
		id := strings.TrimSpace(entry.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)
	if len(productIDs) == 0 {
		return AccountTable{}, nil
	}
	mappings, err := s.mappings.FindByProducts(ctx, productIDs)
	if err != nil {
		return nil, &SyncError{Kind: KindGatewayUnavailable, Reason: "account mappings unavailable", Err: err}
	}
	return AccountTable(mappings), nil
}

// fail completes a SyncError with run context, logs it and publishes the failure event.
func (s *orderSyncService) fail(ctx context.Context, run *syncRun, err error) error {
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		syncErr = &SyncError{Kind: KindValidation, Err: err}
	}
	if syncErr.OrderID == "" {
		syncErr.OrderID = run.orderID
	}
	if syncErr.Gateway == "" {
		syncErr.Gateway = run.gateway
	}

	fields := run.fields()
	fields["kind"] = string(syncErr.Kind)
	fields["reason"] = syncErr.Reason
	if syncErr.Err != nil {
		fields["error"] = syncErr.Err.Error()
	}
	s.logger(ctx, "ledgersync.sync.failed", fields)

	details := map[string]string{}
	if syncErr.Err != nil {
		details["error"] = excerpt(syncErr.Err.Error())
	}
	s.publish(ctx, run, syncErr.Kind, syncErr.Reason, details)
	return syncErr
}

func (s *orderSyncService) publish(ctx context.Context, run *syncRun, kind FailureKind, reason string, details map[string]string) {
	if s.events == nil {
		return
	}
	reference := run.intentID
	if reference == "" {
		reference = run.key
	}
	event := SyncEvent{
		Kind:       string(kind),
		OrderID:    run.orderID,
		Gateway:    string(run.gateway),
		Reference:  reference,
		Reason:     reason,
		Details:    details,
		OccurredAt: s.now().UTC(),
	}
	if _, err := s.events.PublishSyncEvent(ctx, event); err != nil {
		fields := run.fields()
		fields["kind"] = string(kind)
		fields["error"] = err.Error()
		s.logger(ctx, "ledgersync.events.publish_failed", fields)
	}
}

func (s *orderSyncService) record(ctx context.Context, run *syncRun, outcome, kind string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSync(ctx, string(run.gateway), outcome, kind, s.now().Sub(start))
}

const maxExcerpt = 512

func excerpt(value string) string {
	if len(value) <= maxExcerpt {
		return value
	}
	return value[:maxExcerpt] + "..."
}
