package firestore

import (
	"context"
	"errors"
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

const vendorCollection = "vendors"

type vendorDocument struct {
	OwnerUserID string     `firestore:"ownerUserId"`
	StoreName   string     `firestore:"storeName"`
	Slug        string     `firestore:"slug"`
	Description string     `firestore:"description"`
	Status      string     `firestore:"status"`
	ReviewedBy  *string    `firestore:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `firestore:"reviewedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func newVendorDocument(vendor domain.Vendor) vendorDocument {
	return vendorDocument{
		OwnerUserID: vendor.OwnerUserID,
		StoreName:   vendor.StoreName,
		Slug:        vendor.Slug,
		Description: vendor.Description,
		Status:      string(vendor.Status),
		ReviewedBy:  vendor.ReviewedBy,
		ReviewedAt:  vendor.ReviewedAt,
		CreatedAt:   vendor.CreatedAt.UTC(),
		UpdatedAt:   vendor.UpdatedAt.UTC(),
	}
}

func (d vendorDocument) toDomain(id string) domain.Vendor {
	return domain.Vendor{
		ID:          id,
		OwnerUserID: d.OwnerUserID,
		StoreName:   d.StoreName,
		Slug:        d.Slug,
		Description: d.Description,
		Status:      domain.VendorStatus(d.Status),
		ReviewedBy:  d.ReviewedBy,
		ReviewedAt:  d.ReviewedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// VendorRepository persists vendor applications and seller profiles.
type VendorRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[vendorDocument]
}

var _ repositories.VendorRepository = (*VendorRepository)(nil)

// NewVendorRepository constructs a Firestore-backed vendor repository.
func NewVendorRepository(provider *pfirestore.Provider) (*VendorRepository, error) {
	if provider == nil {
		return nil, errors.New("vendor repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[vendorDocument](provider, vendorCollection)
	return &VendorRepository{provider: provider, base: base}, nil
}

// Insert creates the vendor document, failing when the ID is already taken.
func (r *VendorRepository) Insert(ctx context.Context, vendor domain.Vendor) error {
	if r == nil || r.base == nil {
		return errors.New("vendor repository not initialised")
	}
	if strings.TrimSpace(vendor.ID) == "" {
		return errors.New("vendor id is required")
	}
	ref, err := r.base.DocumentRef(ctx, vendor.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newVendorDocument(vendor)); err != nil {
		return pfirestore.WrapError("vendors.insert", err)
	}
	return nil
}

// Update overwrites the vendor document.
func (r *VendorRepository) Update(ctx context.Context, vendor domain.Vendor) error {
	if r == nil || r.base == nil {
		return errors.New("vendor repository not initialised")
	}
	if strings.TrimSpace(vendor.ID) == "" {
		return errors.New("vendor id is required")
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, vendor.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("vendors.update", tx.Set(ref, newVendorDocument(vendor)))
	}
	if _, err := r.base.Set(ctx, vendor.ID, newVendorDocument(vendor)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a vendor by document ID.
func (r *VendorRepository) FindByID(ctx context.Context, vendorID string) (domain.Vendor, error) {
	if r == nil || r.base == nil {
		return domain.Vendor{}, errors.New("vendor repository not initialised")
	}
	if strings.TrimSpace(vendorID) == "" {
		return domain.Vendor{}, errors.New("vendor id is required")
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, vendorID)
		if err != nil {
			return domain.Vendor{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Vendor{}, pfirestore.WrapError("vendors.get", err)
		}
		var doc vendorDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Vendor{}, err
		}
		return doc.toDomain(vendorID), nil
	}
	doc, err := r.base.Get(ctx, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOwner loads the vendor owned by userID. A user holds at most one
// vendor record, including pending applications.
func (r *VendorRepository) FindByOwner(ctx context.Context, userID string) (domain.Vendor, error) {
	if r == nil || r.base == nil {
		return domain.Vendor{}, errors.New("vendor repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Vendor{}, errors.New("user id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("ownerUserId", "==", userID).Limit(1)
	})
	if err != nil {
		return domain.Vendor{}, err
	}
	if len(docs) == 0 {
		return domain.Vendor{}, pfirestore.WrapError("vendors.find_by_owner", status.Error(codes.NotFound, "vendor not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns vendors matching the filter.
func (r *VendorRepository) List(ctx context.Context, filter repositories.VendorListFilter) (domain.CursorPage[domain.Vendor], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Vendor]{}, errors.New("vendor repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Vendor]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Vendor]{}, err
	}

	page := domain.CursorPage[domain.Vendor]{}
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
			return domain.CursorPage[domain.Vendor]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
