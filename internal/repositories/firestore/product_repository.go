package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vendora/api/internal/domain"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/platform/pagination"
	"github.com/vendora/api/internal/repositories"
)

const productCollection = "products"

// searchSentinel closes the prefix range for name searches.
const searchSentinel = "\uf8ff"

type productDocument struct {
	VendorID    string    `firestore:"vendorId"`
	CategoryID  string    `firestore:"categoryId"`
	SKU         string    `firestore:"sku"`
	Name        string    `firestore:"name"`
	NameLower   string    `firestore:"nameLower"`
	Slug        string    `firestore:"slug"`
	Description string    `firestore:"description"`
	Price       float64   `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Images      []string  `firestore:"images"`
	Active      bool      `firestore:"active"`
	Featured    bool      `firestore:"isFeatured"`
	Rating      float64   `firestore:"rating"`
	ReviewCount int       `firestore:"reviewCount"`
	RankScore   float64   `firestore:"rankScore"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		VendorID:    product.VendorID,
		CategoryID:  product.CategoryID,
		SKU:         product.SKU,
		Name:        product.Name,
		NameLower:   strings.ToLower(product.Name),
		Slug:        product.Slug,
		Description: product.Description,
		Price:       product.Price,
		Stock:       product.Stock,
		Images:      append([]string(nil), product.Images...),
		Active:      product.Active,
		Featured:    product.Featured,
		Rating:      product.Rating,
		ReviewCount: product.ReviewCount,
		RankScore:   domain.WilsonScore(product.Rating, product.ReviewCount),
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		VendorID:    d.VendorID,
		CategoryID:  d.CategoryID,
		SKU:         d.SKU,
		Name:        d.Name,
		Slug:        d.Slug,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		Images:      append([]string(nil), d.Images...),
		Active:      d.Active,
		Featured:    d.Featured,
		Rating:      d.Rating,
		ReviewCount: d.ReviewCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// ProductRepository persists catalog documents and runs the stock ledger.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert creates the product document, failing when the ID is already taken.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	if _, err := r.base.Set(ctx, product.ID, newProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return domain.Product{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Product{}, pfirestore.WrapError("products.get", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
		}
		return doc.toDomain(productID), nil
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns catalog entries matching the filter with cursor pagination.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if !filter.IncludeInactive {
			q = q.Where("active", "==", true)
		}
		if filter.VendorID != "" {
			q = q.Where("vendorId", "==", filter.VendorID)
		}
		if filter.CategoryID != "" {
			q = q.Where("categoryId", "==", filter.CategoryID)
		}
		if filter.FeaturedOnly {
			q = q.Where("isFeatured", "==", true)
		}
		if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
			q = q.Where("nameLower", ">=", search).
				Where("nameLower", "<", search+searchSentinel).
				OrderBy("nameLower", firestore.Asc)
		} else {
			switch filter.Sort {
			case domain.ProductSortPriceAsc:
				q = q.OrderBy("price", firestore.Asc)
			case domain.ProductSortPriceDesc:
				q = q.OrderBy("price", firestore.Desc)
			case domain.ProductSortRating:
				q = q.OrderBy("rankScore", firestore.Desc)
			default:
				q = q.OrderBy("createdAt", firestore.Desc)
			}
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{sortValue(last, filter), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func sortValue(doc pfirestore.Document[productDocument], filter repositories.ProductListFilter) any {
	if strings.TrimSpace(filter.Search) != "" {
		return doc.Data.NameLower
	}
	switch filter.Sort {
	case domain.ProductSortPriceAsc, domain.ProductSortPriceDesc:
		return doc.Data.Price
	case domain.ProductSortRating:
		return doc.Data.RankScore
	default:
		return doc.Data.CreatedAt
	}
}

// DecrementStock validates and applies every line atomically. All failing lines
// are reported together so the caller can surface the complete picture.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return nil, repositories.NewStockError(repositories.StockErrorInvalidInput, "at least one line is required", nil, nil)
	}

	var updated []domain.Product
	err := r.runWrite(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated = updated[:0]
		var failures []repositories.StockLineError

		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		writes := make([]pending, 0, len(lines))

		for _, line := range lines {
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("quantity for %s must be positive", line.ProductID), nil, nil)
			}
			ref, err := r.base.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					failures = append(failures, repositories.StockLineError{
						ProductID: line.ProductID,
						Reason:    repositories.StockLineUnknownProduct,
						Requested: line.Quantity,
					})
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			if !doc.Active {
				failures = append(failures, repositories.StockLineError{
					ProductID: line.ProductID,
					Name:      doc.Name,
					Reason:    repositories.StockLineInactiveProduct,
					Requested: line.Quantity,
					Available: doc.Stock,
				})
				continue
			}
			if doc.Stock < line.Quantity {
				failures = append(failures, repositories.StockLineError{
					ProductID: line.ProductID,
					Name:      doc.Name,
					Reason:    repositories.StockLineInsufficient,
					Requested: line.Quantity,
					Available: doc.Stock,
				})
				continue
			}
			writes = append(writes, pending{ref: ref, doc: doc, qty: line.Quantity})
		}

		if len(failures) > 0 {
			return repositories.NewStockError(repositories.StockErrorUnavailable, "stock unavailable", failures, nil)
		}

		now := time.Now().UTC()
		for _, w := range writes {
			w.doc.Stock -= w.qty
			w.doc.UpdatedAt = now
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
			updated = append(updated, w.doc.toDomain(w.ref.ID))
		}
		return nil
	})
	if err != nil {
		return nil, wrapStockError("products.decrement_stock", err)
	}
	return updated, nil
}

// RestoreStock adds quantities back to each product, atomically with any
// surrounding transaction. Missing products are skipped rather than failing
// the restore, so a deleted catalog entry cannot wedge an order transition.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}

	err := r.runWrite(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pending, 0, len(lines))
		now := time.Now().UTC()

		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}
			ref, err := r.base.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStockError("products.restore_stock", err)
}

// UpdateRating overwrites the denormalised aggregate, keeping the rank score in step.
func (r *ProductRepository) UpdateRating(ctx context.Context, productID string, rating float64, reviewCount int, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return errors.New("product id is required")
	}

	updates := []firestore.Update{
		{Path: "rating", Value: rating},
		{Path: "reviewCount", Value: reviewCount},
		{Path: "rankScore", Value: domain.WilsonScore(rating, reviewCount)},
		{Path: "updatedAt", Value: now.UTC()},
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("products.update_rating", tx.Update(ref, updates))
	}
	_, err := r.base.Update(ctx, productID, updates)
	return err
}

// runWrite joins the ambient transaction when one is active, otherwise it
// opens a dedicated transaction for the write.
func (r *ProductRepository) runWrite(ctx context.Context, fn pfirestore.TxFunc) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	return r.provider.RunTransaction(ctx, fn)
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
