package services

import (
	"context"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	User               = domain.User
	Vendor             = domain.Vendor
	VendorStatus       = domain.VendorStatus
	Category           = domain.Category
	Product            = domain.Product
	ProductSort        = domain.ProductSort
	Review             = domain.Review
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	ShippingDetails    = domain.ShippingDetails
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the authenticated caller of a service operation, with the
// roles and vendor association needed for authorisation decisions.
type Actor struct {
	UserID   string
	Email    string
	Name     string
	Roles    []string
	VendorID string
}

// HasRole reports whether the actor carries the given role claim.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.HasRole(domain.RoleAdmin) }

// IsVendor reports whether the actor holds the vendor role and a vendor link.
func (a Actor) IsVendor() bool { return a.HasRole(domain.RoleVendor) && a.VendorID != "" }

// OrderService orchestrates the order lifecycle: creation with the stock
// ledger, reads guarded by ownership, and the status state machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListForUser(ctx context.Context, actor Actor, filter OrderListQuery) (domain.CursorPage[Order], error)
	ListForVendor(ctx context.Context, actor Actor, filter OrderListQuery) (domain.CursorPage[VendorOrderView], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// CreateOrderCommand carries the order payload submitted at checkout.
// Note is free text from the customer and may be empty.
type CreateOrderCommand struct {
	Actor    Actor
	Items    []CreateOrderItem
	Shipping ShippingDetails
	Note     string
}

// CreateOrderItem is one requested line: the price is the cart snapshot the
// customer saw, not a catalog lookup.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
	Price     float64
}

// OrderListQuery filters order listings.
type OrderListQuery struct {
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order to a new lifecycle state.
type OrderStatusTransitionCommand struct {
	Actor          Actor
	OrderID        string
	TargetStatus   OrderStatus
	Reason         string
	ExpectedStatus *OrderStatus
}

// VendorOrderView is an order as seen by one vendor: only the vendor's own
// lines are included while the order-level totals stay untouched.
type VendorOrderView struct {
	Order domain.Order
	Items []OrderItem
}

// CatalogService manages vendor products and admin categories.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeactivateProduct(ctx context.Context, actor Actor, productID string) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)

	CreateCategory(ctx context.Context, cmd CategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd CategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, actor Actor, categoryID string) error
	ListCategories(ctx context.Context, pager Pagination) (domain.CursorPage[Category], error)
}

// CreateProductCommand carries a new catalog entry.
type CreateProductCommand struct {
	Actor       Actor
	Name        string
	Description string
	CategoryID  string
	Price       float64
	Stock       int
	Images      []string
	Featured    bool
}

// UpdateProductCommand mutates an existing catalog entry. Nil fields are left unchanged.
type UpdateProductCommand struct {
	Actor       Actor
	ProductID   string
	Name        *string
	Description *string
	CategoryID  *string
	Price       *float64
	Stock       *int
	Images      []string
	Active      *bool
	Featured    *bool
}

// ProductListQuery filters catalog listings.
type ProductListQuery struct {
	VendorID        string
	CategoryID      string
	Search          string
	Sort            ProductSort
	IncludeInactive bool
	FeaturedOnly    bool
	Actor           Actor
	Pagination      Pagination
}

// CategoryCommand creates or renames a category.
type CategoryCommand struct {
	Actor      Actor
	CategoryID string
	Name       string
}

// ReviewService manages product reviews and keeps the denormalised product
// rating aggregate consistent.
type ReviewService interface {
	Submit(ctx context.Context, cmd SubmitReviewCommand) (Review, error)
	ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error)
}

// SubmitReviewCommand carries a new or replacement review.
type SubmitReviewCommand struct {
	Actor     Actor
	ProductID string
	Rating    int
	Comment   string
}

// VendorService manages vendor applications and profiles.
type VendorService interface {
	Apply(ctx context.Context, cmd VendorApplicationCommand) (Vendor, error)
	Get(ctx context.Context, vendorID string) (Vendor, error)
	ListApplications(ctx context.Context, actor Actor, query VendorListQuery) (domain.CursorPage[Vendor], error)
	Review(ctx context.Context, cmd VendorReviewCommand) (Vendor, error)
}

// VendorApplicationCommand submits a become-a-vendor application.
type VendorApplicationCommand struct {
	Actor       Actor
	StoreName   string
	Description string
}

// VendorListQuery filters vendor listings.
type VendorListQuery struct {
	Status     []string
	Pagination Pagination
}

// VendorReviewCommand approves or rejects a pending application.
type VendorReviewCommand struct {
	Actor    Actor
	VendorID string
	Approve  bool
}

// UserService keeps profile documents in step with auth identities.
type UserService interface {
	EnsureProfile(ctx context.Context, actor Actor) (User, error)
	GetProfile(ctx context.Context, userID string) (User, error)
}

// UploadService issues signed URLs for product image uploads and promotes
// staged objects into the public bucket.
type UploadService interface {
	CreateImageUpload(ctx context.Context, cmd CreateImageUploadCommand) (ImageUpload, error)
	FinalizeImage(ctx context.Context, cmd FinalizeImageCommand) (string, error)
}

// CreateImageUploadCommand requests a signed PUT URL for a product image.
type CreateImageUploadCommand struct {
	Actor       Actor
	FileName    string
	ContentType string
}

// ImageUpload carries the signed URL and the staging object path.
type ImageUpload struct {
	UploadURL  string
	ObjectPath string
	ExpiresAt  time.Time
}

// FinalizeImageCommand promotes a staged upload to its public location.
type FinalizeImageCommand struct {
	Actor      Actor
	ObjectPath string
	ProductID  string
}

// SystemService aggregates dependency health and build metadata.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// CounterService exposes administrative control over sequence counters.
type CounterService interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}
