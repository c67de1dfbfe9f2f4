package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vendora/api/internal/domain"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/platform/pagination"
	"github.com/vendora/api/internal/repositories"
)

const orderCollection = "orders"

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	VendorID  string  `firestore:"vendorId"`
	Name      string  `firestore:"name"`
	Image     string  `firestore:"image"`
	Price     float64 `firestore:"price"`
	Quantity  int     `firestore:"quantity"`
}

type orderShippingDocument struct {
	Name    string `firestore:"name"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
	Region  string `firestore:"region"`
}

type orderDocument struct {
	OrderNumber   string                `firestore:"orderNumber"`
	UserID        string                `firestore:"userId"`
	Status        string                `firestore:"status"`
	Items         []orderItemDocument   `firestore:"items"`
	VendorIDs     []string              `firestore:"vendorIds"`
	Shipping      orderShippingDocument `firestore:"shipping"`
	Note          string                `firestore:"note,omitempty"`
	Subtotal      float64               `firestore:"subtotal"`
	ShippingCost  float64               `firestore:"shippingCost"`
	Total         float64               `firestore:"total"`
	DeclineReason *string               `firestore:"declineReason,omitempty"`
	CancelReason  *string               `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
	AcceptedAt    *time.Time            `firestore:"acceptedAt,omitempty"`
	ConfirmedAt   *time.Time            `firestore:"confirmedAt,omitempty"`
	DeliveredAt   *time.Time            `firestore:"deliveredAt,omitempty"`
	DeclinedAt    *time.Time            `firestore:"declinedAt,omitempty"`
	CancelledAt   *time.Time            `firestore:"cancelledAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	return orderDocument{
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Items:         items,
		VendorIDs:     order.VendorIDs(),
		Shipping:      orderShippingDocument(order.Shipping),
		Note:          order.Note,
		Subtotal:      order.Subtotal,
		ShippingCost:  order.ShippingCost,
		Total:         order.Total,
		DeclineReason: order.DeclineReason,
		CancelReason:  order.CancelReason,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		AcceptedAt:    order.AcceptedAt,
		ConfirmedAt:   order.ConfirmedAt,
		DeliveredAt:   order.DeliveredAt,
		DeclinedAt:    order.DeclinedAt,
		CancelledAt:   order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem(item))
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Status:        domain.OrderStatus(d.Status),
		Items:         items,
		Shipping:      domain.ShippingDetails(d.Shipping),
		Note:          d.Note,
		Subtotal:      d.Subtotal,
		ShippingCost:  d.ShippingCost,
		Total:         d.Total,
		DeclineReason: d.DeclineReason,
		CancelReason:  d.CancelReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		AcceptedAt:    d.AcceptedAt,
		ConfirmedAt:   d.ConfirmedAt,
		DeliveredAt:   d.DeliveredAt,
		DeclinedAt:    d.DeclinedAt,
		CancelledAt:   d.CancelledAt,
	}
}

// OrderRepository persists order documents in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document. Inside an ambient transaction the write
// commits together with the stock decrement.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	if _, err := r.base.Set(ctx, order.ID, doc); err != nil {
		return err
	}
	return nil
}

// FindByID loads an order by document ID, joining the ambient transaction when present.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
		}
		return doc.toDomain(orderID), nil
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ExistsByNumber reports whether an order already carries orderNumber. Within a
// transaction the lookup shares the transaction snapshot so concurrent creates
// of the same number conflict at commit time.
func (r *OrderRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return false, errors.New("order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	query := client.Collection(orderCollection).Where("orderNumber", "==", number).Limit(1)

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return false, pfirestore.WrapError("orders.exists_by_number", err)
		}
		return len(docs) > 0, nil
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return false, pfirestore.WrapError("orders.exists_by_number", err)
	}
	return len(docs) > 0, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "", filter)
}

// ListByVendor returns orders containing at least one item sold by vendorID.
func (r *OrderRepository) ListByVendor(ctx context.Context, vendorID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if strings.TrimSpace(vendorID) == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("vendor id is required")
	}
	return r.list(ctx, vendorID, filter)
}

func (r *OrderRepository) list(ctx context.Context, vendorID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if vendorID != "" {
			q = q.Where("vendorIds", "array-contains", vendorID)
		}
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Data.CreatedAt, last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
