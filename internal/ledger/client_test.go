package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/ledger"
)

func sampleTransaction() domain.Transaction {
	return domain.Transaction{
		BusinessID:  "biz-1",
		ExternalID:  "501",
		Date:        "2024-03-05",
		Description: "EDD #501 from Jane Doe",
		Notes:       "Email: jane@example.com",
		Anchor: domain.AnchorLeg{
			AccountID: "acct-paypal",
			Amount:    decimal.RequireFromString("48.5"),
			Direction: domain.DirectionDeposit,
		},
		LineItems: []domain.LineItem{
			domain.NewLineItem(domain.LineKindIncome, "acct-10", decimal.RequireFromString("50"), domain.BalanceCredit),
			domain.NewLineItem(domain.LineKindGatewayFee, "acct-fees", decimal.RequireFromString("1.5"), domain.BalanceDebit),
		},
	}
}

type observed struct {
	mu       sync.Mutex
	statuses []string
}

func (o *observed) observe(_ context.Context, operation, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, operation+":"+status)
}

func newClient(t *testing.T, ts *httptest.Server, opts ...ledger.Option) *ledger.Client {
	t.Helper()
	opts = append([]ledger.Option{ledger.WithHTTPClient(ts.Client())}, opts...)
	client, err := ledger.NewClient(ts.URL+"/graphql/public", "token-123", opts...)
	require.NoError(t, err)
	return client
}

func TestClientSubmitSendsMutation(t *testing.T) {
	t.Parallel()

	var (
		auth    string
		payload map[string]any
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/graphql/public", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&payload))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"moneyTransactionCreate":{"didSucceed":true,"inputErrors":[]}}}`))
	}))
	t.Cleanup(ts.Close)

	obs := &observed{}
	client := newClient(t, ts, ledger.WithObserver(obs.observe))
	require.NoError(t, client.Submit(context.Background(), sampleTransaction()))

	require.Equal(t, "Bearer token-123", auth)
	require.Contains(t, payload["query"], "moneyTransactionCreate(input: $input)")

	input := payload["variables"].(map[string]any)["input"].(map[string]any)
	require.Equal(t, "biz-1", input["businessId"])
	require.Equal(t, "501", input["externalId"])
	require.Equal(t, "2024-03-05", input["date"])
	require.Equal(t, "EDD #501 from Jane Doe", input["description"])
	require.Equal(t, "Email: jane@example.com", input["notes"])

	anchor := input["anchor"].(map[string]any)
	require.Equal(t, "acct-paypal", anchor["accountId"])
	require.Equal(t, json.Number("48.50"), anchor["amount"])
	require.Equal(t, "DEPOSIT", anchor["direction"])

	lines := input["lineItems"].([]any)
	require.Len(t, lines, 2)
	first := lines[0].(map[string]any)
	require.Equal(t, "acct-10", first["accountId"])
	require.Equal(t, json.Number("50.00"), first["amount"])
	require.Equal(t, "CREDIT", first["balance"])
	second := lines[1].(map[string]any)
	require.Equal(t, json.Number("1.50"), second["amount"])
	require.Equal(t, "DEBIT", second["balance"])

	require.Equal(t, []string{"moneyTransactionCreate:ok"}, obs.statuses)
}

func TestClientSubmitHTTPError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	var events []string
	obs := &observed{}
	client := newClient(t, ts,
		ledger.WithObserver(obs.observe),
		ledger.WithLogger(func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }),
	)

	err := client.Submit(context.Background(), sampleTransaction())
	require.Error(t, err)

	var httpErr *ledger.HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusInternalServerError, httpErr.Status)
	require.Contains(t, httpErr.Body, "upstream exploded")
	require.Contains(t, events, "ledger.request.http_failed")
	require.Equal(t, []string{"moneyTransactionCreate:http_error"}, obs.statuses)
}

func TestClientSubmitAPIErrorOnInputErrors(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"moneyTransactionCreate":{"didSucceed":false,"inputErrors":[{"code":"INVALID","message":"Account not found","path":["lineItems","0","accountId"]}]}}}`))
	}))
	t.Cleanup(ts.Close)

	err := newClient(t, ts).Submit(context.Background(), sampleTransaction())
	var apiErr *ledger.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Len(t, apiErr.InputErrors, 1)
	require.Equal(t, "INVALID", apiErr.InputErrors[0].Code)
	require.Equal(t, []string{"lineItems", "0", "accountId"}, apiErr.InputErrors[0].Path)
	require.Contains(t, apiErr.Error(), "Account not found")
}

func TestClientSubmitAPIErrorWhenNotSucceeded(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"moneyTransactionCreate":{"didSucceed":false,"inputErrors":[]}}}`))
	}))
	t.Cleanup(ts.Close)

	err := newClient(t, ts).Submit(context.Background(), sampleTransaction())
	var apiErr *ledger.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Empty(t, apiErr.InputErrors)
}

func TestClientTopLevelGraphQLErrors(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Not authorized","path":["businesses"],"extensions":{"code":"UNAUTHENTICATED"}}]}`))
	}))
	t.Cleanup(ts.Close)

	_, err := newClient(t, ts).ListBusinesses(context.Background())
	var apiErr *ledger.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "UNAUTHENTICATED", apiErr.InputErrors[0].Code)
	require.Equal(t, []string{"businesses"}, apiErr.InputErrors[0].Path)
}

func TestClientSubmitTransportError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client, err := ledger.NewClient(url, "token-123", ledger.WithTimeout(time.Second))
	require.NoError(t, err)

	err = client.Submit(context.Background(), sampleTransaction())
	var transportErr *ledger.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, "moneyTransactionCreate", transportErr.Operation)
}

func TestClientSubmitTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		ts.Close()
	})

	client := newClient(t, ts, ledger.WithTimeout(20*time.Millisecond))
	err := client.Submit(context.Background(), sampleTransaction())
	var transportErr *ledger.TransportError
	require.True(t, errors.As(err, &transportErr))
}

func TestClientSubmitRejectsEmptyLineItems(t *testing.T) {
	t.Parallel()

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	t.Cleanup(ts.Close)

	txn := sampleTransaction()
	txn.LineItems = nil
	require.Error(t, newClient(t, ts).Submit(context.Background(), txn))
	require.Zero(t, calls)
}

func TestClientListBusinesses(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body["query"], "businesses")
		_, _ = w.Write([]byte(`{"data":{"businesses":{"edges":[{"node":{"id":"biz-1","name":"Acme"}},{"node":{"id":"biz-2","name":"Beta"}}]}}}`))
	}))
	t.Cleanup(ts.Close)

	businesses, err := newClient(t, ts).ListBusinesses(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.LedgerBusiness{{ID: "biz-1", Name: "Acme"}, {ID: "biz-2", Name: "Beta"}}, businesses)
}

func TestClientListAccounts(t *testing.T) {
	t.Parallel()

	var variables map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, strings.Contains(body.Query, "accounts(page: $page, pageSize: $pageSize, types: $types)"))
		variables = body.Variables
		_, _ = w.Write([]byte(`{"data":{"business":{"id":"biz-1","accounts":{
			"pageInfo":{"currentPage":2,"totalPages":3,"totalCount":250},
			"edges":[{"node":{"id":"acct-1","name":"Sales","type":{"name":"Income","value":"INCOME"},"subtype":{"name":"Sales","value":"INCOME"},"isArchived":false}}]}}}}`))
	}))
	t.Cleanup(ts.Close)

	page, err := newClient(t, ts).ListAccounts(context.Background(), "biz-1", []string{"income", " expense ", "INCOME"}, 2)
	require.NoError(t, err)

	require.Equal(t, "biz-1", variables["businessId"])
	require.Equal(t, float64(2), variables["page"])
	require.Equal(t, float64(ledger.AccountsPageSize), variables["pageSize"])
	require.Equal(t, []any{"INCOME", "EXPENSE"}, variables["types"])

	require.Equal(t, domain.LedgerPageInfo{CurrentPage: 2, TotalPages: 3, TotalCount: 250}, page.PageInfo)
	require.Equal(t, []domain.LedgerAccount{{ID: "acct-1", Name: "Sales", Type: "INCOME", Subtype: "INCOME"}}, page.Accounts)
}

func TestNewClientValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := ledger.NewClient("", "")
	require.Error(t, err)

	_, err = ledger.NewClient("ftp://ledger.example.com", "token")
	require.Error(t, err)

	client, err := ledger.NewClient("", "token")
	require.NoError(t, err)
	require.NotNil(t, client)
}
