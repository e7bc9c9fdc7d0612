package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ledgersync/internal/domain"
	pfirestore "github.com/hanko-field/ledgersync/internal/platform/firestore"
	"github.com/hanko-field/ledgersync/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists storefront order snapshots keyed by order id.
type OrderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
	now  func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	encoder := func(_ context.Context, order domain.Order) (any, error) {
		return encodeOrder(order), nil
	}
	decoder := func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, err
		}
		order := decodeOrder(doc)
		order.ID = snap.Ref.ID
		if order.UpdatedAt.IsZero() {
			order.UpdatedAt = snap.UpdateTime
		}
		return order, nil
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, encoder, decoder),
		now:  time.Now,
	}, nil
}

// Upsert replaces the stored snapshot of the order.
func (r *OrderRepository) Upsert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return errors.New("order repository: id is required")
	}
	order.UpdatedAt = r.now().UTC()
	_, err := r.base.Set(ctx, order.ID, order)
	return err
}

// FindByID loads the order snapshot. Missing orders surface as a not-found RepositoryError.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

type orderDocument struct {
	CustomerFirstName string            `firestore:"customerFirstName"`
	CustomerLastName  string            `firestore:"customerLastName"`
	CustomerEmail     string            `firestore:"customerEmail"`
	CompletedAt       *time.Time        `firestore:"completedAt,omitempty"`
	Gateway           string            `firestore:"gateway"`
	Currency          string            `firestore:"currency"`
	BillingCountry    string            `firestore:"billingCountry,omitempty"`
	Total             string            `firestore:"total,omitempty"`
	Cart              []cartDocument    `firestore:"cart"`
	Products          []string          `firestore:"products"`
	PaymentMeta       map[string]string `firestore:"paymentMeta,omitempty"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

type cartDocument struct {
	ProductID string        `firestore:"productId"`
	PriceID   string        `firestore:"priceId,omitempty"`
	Name      string        `firestore:"name,omitempty"`
	Upgrade   bool          `firestore:"upgrade,omitempty"`
	Subtotal  string        `firestore:"subtotal,omitempty"`
	Discount  string        `firestore:"discount,omitempty"`
	Fees      []feeDocument `firestore:"fees,omitempty"`
}

type feeDocument struct {
	Label  string `firestore:"label,omitempty"`
	Amount string `firestore:"amount"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerFirstName: order.Customer.FirstName,
		CustomerLastName:  order.Customer.LastName,
		CustomerEmail:     order.Customer.Email,
		Gateway:           string(order.Gateway),
		Currency:          order.Currency,
		BillingCountry:    order.BillingCountry,
		Total:             encodeNullMoney(order.Total),
		Products:          order.Products,
		PaymentMeta:       order.PaymentMeta,
		UpdatedAt:         order.UpdatedAt,
	}
	if !order.CompletedAt.IsZero() {
		completed := order.CompletedAt.UTC()
		doc.CompletedAt = &completed
	}
	doc.Cart = make([]cartDocument, 0, len(order.Cart))
	for _, entry := range order.Cart {
		cart := cartDocument{
			ProductID: entry.ProductID,
			PriceID:   entry.PriceID,
			Name:      entry.Name,
			Upgrade:   entry.Upgrade,
			Subtotal:  encodeNullMoney(entry.Subtotal),
			Discount:  encodeNullMoney(entry.Discount),
		}
		for _, fee := range entry.Fees {
			cart.Fees = append(cart.Fees, feeDocument{Label: fee.Label, Amount: fee.Amount.String()})
		}
		doc.Cart = append(doc.Cart, cart)
	}
	return doc
}

func decodeOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		Customer: domain.Customer{
			FirstName: doc.CustomerFirstName,
			LastName:  doc.CustomerLastName,
			Email:     doc.CustomerEmail,
		},
		Gateway:        domain.NormalizeGateway(doc.Gateway),
		Currency:       doc.Currency,
		BillingCountry: doc.BillingCountry,
		Total:          decodeNullMoney(doc.Total),
		Products:       doc.Products,
		PaymentMeta:    doc.PaymentMeta,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.CompletedAt != nil {
		order.CompletedAt = doc.CompletedAt.UTC()
	}
	for _, cart := range doc.Cart {
		entry := domain.CartEntry{
			ProductID: cart.ProductID,
			PriceID:   cart.PriceID,
			Name:      cart.Name,
			Upgrade:   cart.Upgrade,
			Subtotal:  decodeNullMoney(cart.Subtotal),
			Discount:  decodeNullMoney(cart.Discount),
		}
		for _, fee := range cart.Fees {
			amount := decodeNullMoney(fee.Amount)
			if !amount.Valid {
				continue
			}
			entry.Fees = append(entry.Fees, domain.Fee{Label: fee.Label, Amount: amount.Decimal})
		}
		order.Cart = append(order.Cart, entry)
	}
	return order
}

func encodeNullMoney(value decimal.NullDecimal) string {
	if !value.Valid {
		return ""
	}
	return value.Decimal.String()
}

func decodeNullMoney(raw string) decimal.NullDecimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: value, Valid: true}
}
