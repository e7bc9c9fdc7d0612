//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	"github.com/hanko-field/ledgersync/internal/platform/config"
	pfirestore "github.com/hanko-field/ledgersync/internal/platform/firestore"
	"github.com/hanko-field/ledgersync/internal/repositories"
)

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "ledgersync-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	order := domain.Order{
		ID:       "it-501",
		Gateway:  domain.GatewayStripe,
		Customer: domain.Customer{FirstName: "Jane", Email: "jane@example.com"},
		Cart:     []domain.CartEntry{{ProductID: "10", Subtotal: decimal.NullDecimal{Decimal: decimal.NewFromInt(50), Valid: true}}},
		Products: []string{"10"},
	}
	if err := repo.Upsert(ctx, order); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	loaded, err := repo.FindByID(ctx, "it-501")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.Gateway != domain.GatewayStripe || loaded.Customer.Email != "jane@example.com" || loaded.UpdatedAt.IsZero() {
		t.Fatalf("unexpected order %+v", loaded)
	}

	_, err = repo.FindByID(ctx, "it-missing")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}
}

func TestAccountMappingRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	repo, err := NewAccountMappingRepository(provider)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := repo.Upsert(ctx, domain.AccountMapping{ProductID: "it-10", IncomeAccountID: "acct-10"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, domain.AccountMapping{ProductID: "it-11", VariantAccounts: map[string]string{"2": "acct-11-2"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mappings, err := repo.FindByProducts(ctx, []string{"it-10", "it-11", "it-unknown"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected two mappings, got %d", len(mappings))
	}
	if account, ok := mappings["it-11"].AccountFor("2"); !ok || account != "acct-11-2" {
		t.Fatalf("expected variant account, got %q", account)
	}
}
