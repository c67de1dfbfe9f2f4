package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

const (
	productIDPrefix  = "prod_"
	categoryIDPrefix = "cat_"

	// skuCounterID is the sequence backing generated stock keeping units.
	skuCounterID = "product-sku"
	skuFormat    = "SKU-%06d"

	maxProductNameLength        = 200
	maxProductDescriptionLength = 5000
	maxCategoryNameLength       = 80
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product or category could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogForbidden indicates the actor may not manage this entry.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
	// ErrCatalogConflict indicates duplicate slugs or concurrent updates.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Counters    repositories.CounterRepository
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	counters   repositories.CounterRepository
	clock      func() time.Time
	newID      func() string
	sanitize   func(string) string
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("catalog service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = sanitizeUserText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		counters:   deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	if !cmd.Actor.IsVendor() {
		return Product{}, fmt.Errorf("%w: vendor role is required", ErrCatalogForbidden)
	}
	name := strings.TrimSpace(cmd.Name)
	if err := validateProductFields(name, cmd.Price, cmd.Stock); err != nil {
		return Product{}, err
	}
	if len(cmd.Description) > maxProductDescriptionLength {
		return Product{}, fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescriptionLength)
	}

	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID != "" {
		if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
			return Product{}, s.mapRepositoryError(err)
		}
	}

	seq, err := s.counters.Next(ctx, skuCounterID, 1)
	if err != nil {
		return Product{}, s.mapCounterError(err)
	}

	now := s.now()
	id := productIDPrefix + s.newID()
	product := Product{
		ID:          id,
		VendorID:    cmd.Actor.VendorID,
		CategoryID:  categoryID,
		SKU:         fmt.Sprintf(skuFormat, seq),
		Name:        name,
		Slug:        domain.SlugWithSuffix(name, slugToken(id)),
		Description: s.sanitize(cmd.Description),
		Price:       cmd.Price,
		Stock:       cmd.Stock,
		Images:      trimImages(cmd.Images),
		Active:      true,
		Featured:    cmd.Featured,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product": product.ID,
		"vendor":  product.VendorID,
		"sku":     product.SKU,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if err := canManageProduct(cmd.Actor, product); err != nil {
		return Product{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name must not be empty", ErrCatalogInvalidInput)
		}
		if len(name) > maxProductNameLength {
			return Product{}, fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
		}
		product.Name = name
		product.Slug = domain.SlugWithSuffix(name, slugToken(product.ID))
	}
	if cmd.Description != nil {
		if len(*cmd.Description) > maxProductDescriptionLength {
			return Product{}, fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescriptionLength)
		}
		product.Description = s.sanitize(*cmd.Description)
	}
	if cmd.CategoryID != nil {
		categoryID := strings.TrimSpace(*cmd.CategoryID)
		if categoryID != "" {
			if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
				return Product{}, s.mapRepositoryError(err)
			}
		}
		product.CategoryID = categoryID
	}
	if cmd.Price != nil {
		if *cmd.Price < 0 {
			return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
		}
		product.Price = *cmd.Price
	}
	if cmd.Stock != nil {
		if *cmd.Stock < 0 {
			return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
		}
		product.Stock = *cmd.Stock
	}
	if cmd.Images != nil {
		product.Images = trimImages(cmd.Images)
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	if cmd.Featured != nil {
		product.Featured = *cmd.Featured
	}
	product.UpdatedAt = s.now()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) DeactivateProduct(ctx context.Context, actor Actor, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if err := canManageProduct(actor, product); err != nil {
		return err
	}
	if !product.Active {
		return nil
	}

	product.Active = false
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.deactivated", map[string]any{
		"product": product.ID,
		"actor":   actor.UserID,
	})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	includeInactive := query.IncludeInactive
	if includeInactive {
		// Inactive entries are visible only to admins and the owning vendor.
		owns := query.Actor.IsVendor() && query.Actor.VendorID == strings.TrimSpace(query.VendorID)
		if !query.Actor.IsAdmin() && !owns {
			includeInactive = false
		}
	}

	page, err := s.products.List(ctx, repositories.ProductListFilter{
		VendorID:        strings.TrimSpace(query.VendorID),
		CategoryID:      strings.TrimSpace(query.CategoryID),
		Search:          strings.TrimSpace(query.Search),
		Sort:            query.Sort,
		IncludeInactive: includeInactive,
		FeaturedOnly:    query.FeaturedOnly,
		Pagination:      query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd CategoryCommand) (Category, error) {
	if !cmd.Actor.IsAdmin() {
		return Category{}, fmt.Errorf("%w: admin role is required", ErrCatalogForbidden)
	}
	name, err := validateCategoryName(cmd.Name)
	if err != nil {
		return Category{}, err
	}

	now := s.now()
	category := Category{
		ID:        categoryIDPrefix + s.newID(),
		Name:      name,
		Slug:      domain.Slugify(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd CategoryCommand) (Category, error) {
	if !cmd.Actor.IsAdmin() {
		return Category{}, fmt.Errorf("%w: admin role is required", ErrCatalogForbidden)
	}
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	name, err := validateCategoryName(cmd.Name)
	if err != nil {
		return Category{}, err
	}

	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	category.Name = name
	category.Slug = domain.Slugify(name)
	category.UpdatedAt = s.now()

	if err := s.categories.Update(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, actor Actor, categoryID string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role is required", ErrCatalogForbidden)
	}
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context, pager Pagination) (domain.CursorPage[Category], error) {
	page, err := s.categories.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Category]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func canManageProduct(actor Actor, product Product) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.IsVendor() && actor.VendorID == product.VendorID {
		return nil
	}
	return fmt.Errorf("%w: product %s belongs to another vendor", ErrCatalogForbidden, product.ID)
}

func validateProductFields(name string, price float64, stock int) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if len(name) > maxProductNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	}
	if price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	return nil
}

func validateCategoryName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if len(name) > maxCategoryNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxCategoryNameLength)
	}
	return name, nil
}

// slugToken shortens the generated entity id into a slug suffix.
func slugToken(id string) string {
	trimmed := id
	if idx := strings.IndexByte(trimmed, '_'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if len(trimmed) > 8 {
		trimmed = trimmed[len(trimmed)-8:]
	}
	return strings.ToLower(trimmed)
}

func trimImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		if trimmed := strings.TrimSpace(img); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *catalogService) mapCounterError(err error) error {
	if err == nil {
		return nil
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("catalog: sku sequence exhausted: %w", err)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *catalogService) now() time.Time {
	return s.clock()
}
