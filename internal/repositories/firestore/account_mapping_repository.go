package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	pfirestore "github.com/hanko-field/ledgersync/internal/platform/firestore"
	"github.com/hanko-field/ledgersync/internal/repositories"
)

const accountMappingsCollection = "ledger_account_mappings"

// AccountMappingRepository stores the product to ledger income account table, one document per product.
type AccountMappingRepository struct {
	base *pfirestore.BaseRepository[domain.AccountMapping]
	now  func() time.Time
}

var _ repositories.AccountMappingRepository = (*AccountMappingRepository)(nil)

type accountMappingDocument struct {
	IncomeAccountID string            `firestore:"incomeAccountId"`
	VariantAccounts map[string]string `firestore:"variantAccounts,omitempty"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

// NewAccountMappingRepository constructs a Firestore-backed mapping repository.
func NewAccountMappingRepository(provider *pfirestore.Provider) (*AccountMappingRepository, error) {
	if provider == nil {
		return nil, errors.New("account mapping repository: firestore provider is required")
	}
	encoder := func(_ context.Context, m domain.AccountMapping) (any, error) {
		return accountMappingDocument{
			IncomeAccountID: strings.TrimSpace(m.IncomeAccountID),
			VariantAccounts: m.VariantAccounts,
			UpdatedAt:       m.UpdatedAt,
		}, nil
	}
	decoder := func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.AccountMapping, error) {
		var doc accountMappingDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.AccountMapping{}, err
		}
		return domain.AccountMapping{
			ProductID:       snap.Ref.ID,
			IncomeAccountID: doc.IncomeAccountID,
			VariantAccounts: doc.VariantAccounts,
			UpdatedAt:       doc.UpdatedAt,
		}, nil
	}
	return &AccountMappingRepository{
		base: pfirestore.NewBaseRepository[domain.AccountMapping](provider, accountMappingsCollection, encoder, decoder),
		now:  time.Now,
	}, nil
}

// FindByProducts loads the mappings of the given products in one batch read.
func (r *AccountMappingRepository) FindByProducts(ctx context.Context, productIDs []string) (map[string]domain.AccountMapping, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("account mapping repository not initialised")
	}
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.AccountMapping, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Data
	}
	return out, nil
}

// Upsert replaces the mapping of a product.
func (r *AccountMappingRepository) Upsert(ctx context.Context, mapping domain.AccountMapping) error {
	if r == nil || r.base == nil {
		return errors.New("account mapping repository not initialised")
	}
	mapping.ProductID = strings.TrimSpace(mapping.ProductID)
	if mapping.ProductID == "" {
		return errors.New("account mapping repository: product id is required")
	}
	mapping.UpdatedAt = r.now().UTC()
	_, err := r.base.Set(ctx, mapping.ProductID, mapping)
	return err
}
