package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider   *pfirestore.Provider
	users      *UserRepository
	vendors    *VendorRepository
	categories *CategoryRepository
	products   *ProductRepository
	orders     *OrderRepository
	reviews    *ReviewRepository
	counters   *CounterRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	vendors, err := NewVendorRepository(provider)
	if err != nil {
		return nil, err
	}
	categories, err := NewCategoryRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		users:      users,
		vendors:    vendors,
		categories: categories,
		products:   products,
		orders:     orders,
		reviews:    reviews,
		counters:   counters,
		health:     health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Vendors returns the vendor repository.
func (r *Registry) Vendors() repositories.VendorRepository { return r.vendors }

// Categories returns the category repository.
func (r *Registry) Categories() repositories.CategoryRepository { return r.categories }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Reviews returns the review repository.
func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single Firestore transaction. The transaction is
// stored in the context so repository calls made within fn share its snapshot
// and commit together. Nested calls join the already-open transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTransaction(ctx, tx))
	})
}
