package repositories

import (
	"context"
	"time"

	domain "github.com/vendora/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Vendors() VendorRepository
	Categories() CategoryRepository
	Products() ProductRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Implementations propagate the active transaction through the context passed to fn, so
// repository calls made inside fn observe snapshot reads and commit atomically.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository stores profile documents mirroring auth identities.
type UserRepository interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	FindByID(ctx context.Context, userID string) (domain.User, error)
	AttachVendor(ctx context.Context, userID string, vendorID string, now time.Time) (domain.User, error)
}

// VendorRepository persists vendor applications and approved seller profiles.
type VendorRepository interface {
	Insert(ctx context.Context, vendor domain.Vendor) error
	Update(ctx context.Context, vendor domain.Vendor) error
	FindByID(ctx context.Context, vendorID string) (domain.Vendor, error)
	FindByOwner(ctx context.Context, userID string) (domain.Vendor, error)
	List(ctx context.Context, filter VendorListFilter) (domain.CursorPage[domain.Vendor], error)
}

// VendorListFilter controls vendor listing queries.
type VendorListFilter struct {
	Status     []string
	Pagination domain.Pagination
}

// CategoryRepository persists the admin-managed category tree.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error)
}

// StockLine identifies a product and the quantity an order takes from it.
type StockLine struct {
	ProductID string
	Quantity  int
}

// ProductRepository owns catalog documents and the stock ledger. DecrementStock and
// RestoreStock participate in an ambient UnitOfWork transaction when one is active;
// otherwise each call opens its own transaction.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	// DecrementStock validates every line before writing anything: unknown products,
	// inactive products, and lines exceeding available stock are all reported together
	// via a StockError. On success every decrement is applied atomically.
	DecrementStock(ctx context.Context, lines []StockLine) ([]domain.Product, error)
	// RestoreStock adds the quantities back, atomically with the surrounding transaction.
	RestoreStock(ctx context.Context, lines []StockLine) error
	// UpdateRating overwrites the denormalised rating aggregate on the product document.
	UpdateRating(ctx context.Context, productID string, rating float64, reviewCount int, now time.Time) error
}

// ProductListFilter controls catalog listing queries.
type ProductListFilter struct {
	VendorID        string
	CategoryID      string
	Search          string
	Sort            domain.ProductSort
	IncludeInactive bool
	FeaturedOnly    bool
	Pagination      domain.Pagination
}

// OrderRepository persists order headers and provides query helpers for owners and vendors.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ExistsByNumber reports whether any order carries the given order number.
	// Inside a UnitOfWork transaction the check shares the transaction's snapshot,
	// so a concurrent insert of the same number forces a retry rather than a duplicate.
	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListByVendor returns orders containing at least one item sold by vendorID.
	ListByVendor(ctx context.Context, vendorID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter controls order listing queries.
type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ReviewRepository stores product reviews keyed one-per-user-per-product.
type ReviewRepository interface {
	// Upsert writes the review, replacing any earlier review by the same user
	// for the same product.
	Upsert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByProductAndUser(ctx context.Context, productID, userID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	// CollectRatings returns every rating recorded for the product. Used inside
	// the review-write transaction to recompute the product aggregate.
	CollectRatings(ctx context.Context, productID string) ([]int, error)
}

// CounterRepository implements monotonically increasing counters for sequence generation.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises counter behaviour when configuring a counter document.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository aggregates dependency health for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
