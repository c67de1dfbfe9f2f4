package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Role names granted to identities via auth claims.
const (
	RoleUser   = "user"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// User captures the profile stored alongside the auth identity.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []string
	VendorID    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VendorStatus enumerates lifecycle states for vendor applications.
type VendorStatus string

const (
	// VendorStatusPending indicates an application awaiting admin review.
	VendorStatusPending VendorStatus = "pending"
	// VendorStatusApproved indicates the vendor may sell on the storefront.
	VendorStatusApproved VendorStatus = "approved"
	// VendorStatusRejected indicates the application was turned down.
	VendorStatusRejected VendorStatus = "rejected"
)

// Vendor represents a storefront seller.
type Vendor struct {
	ID          string
	OwnerUserID string
	StoreName   string
	Slug        string
	Description string
	Status      VendorStatus
	ReviewedBy  *string
	ReviewedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category groups products for browsing. Managed by admins.
type Category struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductSort indicates the field used to order product listings.
type ProductSort string

const (
	// ProductSortNewest sorts products by creation time (newest first).
	ProductSortNewest ProductSort = "newest"
	// ProductSortPriceAsc sorts products by ascending price.
	ProductSortPriceAsc ProductSort = "price_asc"
	// ProductSortPriceDesc sorts products by descending price.
	ProductSortPriceDesc ProductSort = "price_desc"
	// ProductSortRating sorts products by Wilson-adjusted rating (best first).
	ProductSortRating ProductSort = "rating"
)

// Product is a vendor-owned catalog entry. Stock is the authoritative
// on-hand quantity decremented by the order ledger.
type Product struct {
	ID          string
	VendorID    string
	CategoryID  string
	SKU         string
	Name        string
	Slug        string
	Description string
	Price       float64
	Stock       int
	Images      []string
	Active      bool
	Featured    bool
	Rating      float64
	ReviewCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review stores a customer rating for a product. One review per user
// per product; later submissions overwrite the earlier one.
type Review struct {
	ID         string
	ProductID  string
	UserID     string
	UserName   string
	Rating     int
	Comment    string
	IsVerified bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits a vendor decision.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusAccepted indicates a vendor accepted the order.
	OrderStatusAccepted OrderStatus = "ACCEPTED"
	// OrderStatusConfirmed indicates the order was confirmed for delivery.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusDeclined indicates a vendor declined the order.
	OrderStatusDeclined OrderStatus = "DECLINED"
	// OrderStatusCancelled indicates the customer cancelled the order.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusDeclined, OrderStatusCancelled:
		return true
	}
	return false
}

// ShippingDetails is the delivery snapshot captured at order creation.
type ShippingDetails struct {
	Name    string
	Phone   string
	Address string
	Region  string
}

// OrderItem snapshots a purchased product line. Price and descriptive
// fields are frozen at creation and never re-read from the catalog.
type OrderItem struct {
	ProductID string
	VendorID  string
	Name      string
	Image     string
	Price     float64
	Quantity  int
}

// Order captures an order header with its item snapshots.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	Items         []OrderItem
	Shipping      ShippingDetails
	Note          string
	Subtotal      float64
	ShippingCost  float64
	Total         float64
	DeclineReason *string
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AcceptedAt    *time.Time
	ConfirmedAt   *time.Time
	DeliveredAt   *time.Time
	DeclinedAt    *time.Time
	CancelledAt   *time.Time
}

// VendorIDs returns the distinct vendor IDs appearing in the order's items.
func (o Order) VendorIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.VendorID == "" {
			continue
		}
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	return ids
}

// ContainsVendor reports whether any item in the order belongs to vendorID.
func (o Order) ContainsVendor(vendorID string) bool {
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

// ItemsForVendor returns only the order lines belonging to vendorID.
func (o Order) ItemsForVendor(vendorID string) []OrderItem {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			items = append(items, item)
		}
	}
	return items
}
