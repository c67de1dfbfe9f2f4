package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vendora/api/internal/domain"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/platform/pagination"
	"github.com/vendora/api/internal/repositories"
)

const categoryCollection = "categories"

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{
		ID:        id,
		Name:      d.Name,
		Slug:      d.Slug,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// CategoryRepository persists the category tree.
type CategoryRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[categoryDocument]
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection)
	return &CategoryRepository{provider: provider, base: base}, nil
}

// Insert creates the category document.
func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	if strings.TrimSpace(category.ID) == "" {
		return errors.New("category id is required")
	}
	ref, err := r.base.DocumentRef(ctx, category.ID)
	if err != nil {
		return err
	}
	doc := categoryDocument{
		Name:      category.Name,
		Slug:      category.Slug,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("categories.insert", err)
	}
	return nil
}

// Update overwrites the category document.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	if strings.TrimSpace(category.ID) == "" {
		return errors.New("category id is required")
	}
	doc := categoryDocument{
		Name:      category.Name,
		Slug:      category.Slug,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
	if _, err := r.base.Set(ctx, category.ID, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the category document.
func (r *CategoryRepository) Delete(ctx context.Context, categoryID string) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, categoryID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("categories.delete", err)
	}
	return nil
}

// FindByID loads a category by document ID.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	if strings.TrimSpace(categoryID) == "" {
		return domain.Category{}, errors.New("category id is required")
	}
	doc, err := r.base.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns categories ordered by name.
func (r *CategoryRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Category]{}, errors.New("category repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Category]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Category]{}, err
	}

	page := domain.CursorPage[domain.Category]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Data.Name, last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Category]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
