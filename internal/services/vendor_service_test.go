package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

type stubVendorRepository struct {
	insertFunc      func(ctx context.Context, vendor domain.Vendor) error
	updateFunc      func(ctx context.Context, vendor domain.Vendor) error
	findFunc        func(ctx context.Context, vendorID string) (domain.Vendor, error)
	findByOwnerFunc func(ctx context.Context, userID string) (domain.Vendor, error)
	listFunc        func(ctx context.Context, filter repositories.VendorListFilter) (domain.CursorPage[domain.Vendor], error)
}

func (s *stubVendorRepository) Insert(ctx context.Context, vendor domain.Vendor) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, vendor)
}

func (s *stubVendorRepository) Update(ctx context.Context, vendor domain.Vendor) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, vendor)
}

func (s *stubVendorRepository) FindByID(ctx context.Context, vendorID string) (domain.Vendor, error) {
	if s.findFunc == nil {
		return domain.Vendor{}, repoError{notFound: true}
	}
	return s.findFunc(ctx, vendorID)
}

func (s *stubVendorRepository) FindByOwner(ctx context.Context, userID string) (domain.Vendor, error) {
	if s.findByOwnerFunc == nil {
		return domain.Vendor{}, repoError{notFound: true}
	}
	return s.findByOwnerFunc(ctx, userID)
}

func (s *stubVendorRepository) List(ctx context.Context, filter repositories.VendorListFilter) (domain.CursorPage[domain.Vendor], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Vendor]{}, nil
	}
	return s.listFunc(ctx, filter)
}

type stubUserRepository struct {
	upsertFunc       func(ctx context.Context, user domain.User) (domain.User, error)
	findFunc         func(ctx context.Context, userID string) (domain.User, error)
	attachVendorFunc func(ctx context.Context, userID string, vendorID string, now time.Time) (domain.User, error)
}

func (s *stubUserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if s.upsertFunc == nil {
		return user, nil
	}
	return s.upsertFunc(ctx, user)
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFunc == nil {
		return domain.User{}, repoError{notFound: true}
	}
	return s.findFunc(ctx, userID)
}

func (s *stubUserRepository) AttachVendor(ctx context.Context, userID string, vendorID string, now time.Time) (domain.User, error) {
	if s.attachVendorFunc == nil {
		return domain.User{ID: userID}, nil
	}
	return s.attachVendorFunc(ctx, userID, vendorID, now)
}

func newTestVendorService(t *testing.T, vendors *stubVendorRepository, users *stubUserRepository, now time.Time) VendorService {
	t.Helper()
	service, err := NewVendorService(VendorServiceDeps{
		Vendors:     vendors,
		Users:       users,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TESTVENDOR" },
	})
	if err != nil {
		t.Fatalf("create vendor service: %v", err)
	}
	return service
}

func TestVendorServiceApply(t *testing.T) {
	now := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	var inserted domain.Vendor
	vendors := &stubVendorRepository{
		insertFunc: func(_ context.Context, vendor domain.Vendor) error {
			inserted = vendor
			return nil
		},
	}

	service := newTestVendorService(t, vendors, &stubUserRepository{}, now)
	vendor, err := service.Apply(context.Background(), VendorApplicationCommand{
		Actor:     Actor{UserID: "user-1"},
		StoreName: "Maple & Pine",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vendor.Status != domain.VendorStatusPending {
		t.Fatalf("expected pending status, got %s", vendor.Status)
	}
	if vendor.Slug != "maple-pine-stvendor" {
		t.Fatalf("unexpected slug %s", vendor.Slug)
	}
	if inserted.OwnerUserID != "user-1" {
		t.Fatalf("application not persisted")
	}
}

func TestVendorServiceApplyRejectsDuplicate(t *testing.T) {
	now := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	vendors := &stubVendorRepository{
		findByOwnerFunc: func(context.Context, string) (domain.Vendor, error) {
			return domain.Vendor{ID: "ven-1", Status: domain.VendorStatusPending}, nil
		},
	}

	service := newTestVendorService(t, vendors, &stubUserRepository{}, now)
	_, err := service.Apply(context.Background(), VendorApplicationCommand{
		Actor:     Actor{UserID: "user-1"},
		StoreName: "Second Store",
	})
	if !errors.Is(err, ErrVendorConflict) {
		t.Fatalf("expected ErrVendorConflict, got %v", err)
	}
}

func TestVendorServiceApplyAllowsReapplyAfterRejection(t *testing.T) {
	now := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	vendors := &stubVendorRepository{
		findByOwnerFunc: func(context.Context, string) (domain.Vendor, error) {
			return domain.Vendor{ID: "ven-1", Status: domain.VendorStatusRejected}, nil
		},
	}

	service := newTestVendorService(t, vendors, &stubUserRepository{}, now)
	vendor, err := service.Apply(context.Background(), VendorApplicationCommand{
		Actor:     Actor{UserID: "user-1"},
		StoreName: "Second Chance",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vendor.Status != domain.VendorStatusPending {
		t.Fatalf("expected pending status, got %s", vendor.Status)
	}
}

func TestVendorServiceReviewApproveGrantsRole(t *testing.T) {
	now := time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)
	stored := domain.Vendor{ID: "ven-1", OwnerUserID: "user-1", Status: domain.VendorStatusPending}

	var attachedUser, attachedVendor string
	users := &stubUserRepository{
		attachVendorFunc: func(_ context.Context, userID string, vendorID string, _ time.Time) (domain.User, error) {
			attachedUser = userID
			attachedVendor = vendorID
			return domain.User{ID: userID, Roles: []string{domain.RoleUser, domain.RoleVendor}}, nil
		},
	}
	var saved domain.Vendor
	vendors := &stubVendorRepository{
		findFunc: func(context.Context, string) (domain.Vendor, error) { return stored, nil },
		updateFunc: func(_ context.Context, vendor domain.Vendor) error {
			saved = vendor
			return nil
		},
	}

	service := newTestVendorService(t, vendors, users, now)
	vendor, err := service.Review(context.Background(), VendorReviewCommand{
		Actor:    Actor{UserID: "admin-1", Roles: []string{domain.RoleAdmin}},
		VendorID: "ven-1",
		Approve:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vendor.Status != domain.VendorStatusApproved {
		t.Fatalf("expected approved, got %s", vendor.Status)
	}
	if vendor.ReviewedBy == nil || *vendor.ReviewedBy != "admin-1" {
		t.Fatalf("expected reviewer recorded, got %v", vendor.ReviewedBy)
	}
	if attachedUser != "user-1" || attachedVendor != "ven-1" {
		t.Fatalf("vendor role not granted: %s/%s", attachedUser, attachedVendor)
	}
	if saved.Status != domain.VendorStatusApproved {
		t.Fatalf("approval not persisted")
	}
}

func TestVendorServiceReviewRejectSkipsRoleGrant(t *testing.T) {
	now := time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)
	stored := domain.Vendor{ID: "ven-1", OwnerUserID: "user-1", Status: domain.VendorStatusPending}
	users := &stubUserRepository{
		attachVendorFunc: func(context.Context, string, string, time.Time) (domain.User, error) {
			t.Fatalf("rejected applications must not grant the vendor role")
			return domain.User{}, nil
		},
	}
	vendors := &stubVendorRepository{
		findFunc: func(context.Context, string) (domain.Vendor, error) { return stored, nil },
	}

	service := newTestVendorService(t, vendors, users, now)
	vendor, err := service.Review(context.Background(), VendorReviewCommand{
		Actor:    Actor{UserID: "admin-1", Roles: []string{domain.RoleAdmin}},
		VendorID: "ven-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vendor.Status != domain.VendorStatusRejected {
		t.Fatalf("expected rejected, got %s", vendor.Status)
	}
}

func TestVendorServiceReviewRequiresAdminAndPendingState(t *testing.T) {
	now := time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)
	vendors := &stubVendorRepository{
		findFunc: func(context.Context, string) (domain.Vendor, error) {
			return domain.Vendor{ID: "ven-1", Status: domain.VendorStatusApproved}, nil
		},
	}
	service := newTestVendorService(t, vendors, &stubUserRepository{}, now)

	_, err := service.Review(context.Background(), VendorReviewCommand{
		Actor:    Actor{UserID: "user-1"},
		VendorID: "ven-1",
		Approve:  true,
	})
	if !errors.Is(err, ErrVendorForbidden) {
		t.Fatalf("expected ErrVendorForbidden, got %v", err)
	}

	_, err = service.Review(context.Background(), VendorReviewCommand{
		Actor:    Actor{UserID: "admin-1", Roles: []string{domain.RoleAdmin}},
		VendorID: "ven-1",
		Approve:  true,
	})
	if !errors.Is(err, ErrVendorInvalidState) {
		t.Fatalf("expected ErrVendorInvalidState, got %v", err)
	}
}
