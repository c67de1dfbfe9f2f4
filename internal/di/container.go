package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vendora/api/internal/platform/config"
	"github.com/vendora/api/internal/repositories"
	"github.com/vendora/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Catalog  services.CatalogService
	Reviews  services.ReviewService
	Vendors  services.VendorService
	Users    services.UserService
	Uploads  services.UploadService
	Counters services.CounterService
	System   services.SystemService
}

// Infra carries infrastructure collaborators that live outside the repository
// registry: event publishers, the signed URL issuer for uploads, and the
// structured logger services emit through.
type Infra struct {
	OrderEvents  services.OrderEventPublisher
	ReviewEvents services.ReviewEventPublisher
	SignedURLs   services.SignedURLIssuer
	Copier       services.ObjectCopier
	Build        services.BuildInfo
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infra) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infra) (Services, error) {
	var svc Services

	if usersRepo := reg.Users(); usersRepo != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users: usersRepo,
			Clock: time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	counterRepo := reg.Counters()
	if counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	productsRepo := reg.Products()
	if productsRepo != nil && reg.Categories() != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Products:   productsRepo,
			Categories: reg.Categories(),
			Counters:   counterRepo,
			Clock:      time.Now,
			Logger:     infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && productsRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Products:   productsRepo,
			UnitOfWork: reg,
			Numbers:    services.NewOrderNumberGenerator(),
			Clock:      time.Now,
			Events:     infra.OrderEvents,
			Logger:     infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if reviewsRepo := reg.Reviews(); reviewsRepo != nil && productsRepo != nil && ordersRepo != nil && cfg.Features.EnableReviews {
		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews:    reviewsRepo,
			Products:   productsRepo,
			Orders:     ordersRepo,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     infra.ReviewEvents,
			Logger:     infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if vendorsRepo := reg.Vendors(); vendorsRepo != nil && reg.Users() != nil && cfg.Features.EnableVendorApplications {
		vendorSvc, err := services.NewVendorService(services.VendorServiceDeps{
			Vendors:    vendorsRepo,
			Users:      reg.Users(),
			UnitOfWork: reg,
			Clock:      time.Now,
			Logger:     infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build vendor service: %w", err)
		}
		svc.Vendors = vendorSvc
	}

	if infra.SignedURLs != nil && infra.Copier != nil {
		uploadSvc, err := services.NewUploadService(services.UploadServiceDeps{
			SignedURLs:    infra.SignedURLs,
			Copier:        infra.Copier,
			StagingBucket: cfg.Storage.StagingBucket,
			PublicBucket:  cfg.Storage.PublicBucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			URLExpiry:     cfg.Storage.SignedURLTTL,
			Logger:        infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build upload service: %w", err)
		}
		svc.Uploads = uploadSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
