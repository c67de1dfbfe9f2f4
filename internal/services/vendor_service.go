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
	vendorIDPrefix = "ven_"

	maxStoreNameLength         = 120
	maxVendorDescriptionLength = 2000
)

var (
	// ErrVendorInvalidInput signals the caller provided invalid data.
	ErrVendorInvalidInput = errors.New("vendor: invalid input")
	// ErrVendorNotFound indicates the vendor could not be located.
	ErrVendorNotFound = errors.New("vendor: not found")
	// ErrVendorForbidden indicates the actor may not perform this action.
	ErrVendorForbidden = errors.New("vendor: forbidden")
	// ErrVendorConflict indicates the user already has an open or approved application.
	ErrVendorConflict = errors.New("vendor: conflict")
	// ErrVendorInvalidState indicates the application is not pending review.
	ErrVendorInvalidState = errors.New("vendor: application is not pending")
)

// VendorServiceDeps bundles collaborators required to construct the vendor service.
type VendorServiceDeps struct {
	Vendors     repositories.VendorRepository
	Users       repositories.UserRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type vendorService struct {
	vendors    repositories.VendorRepository
	users      repositories.UserRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	sanitize   func(string) string
	logger     func(context.Context, string, map[string]any)
}

// NewVendorService wires dependencies into a concrete VendorService implementation.
func NewVendorService(deps VendorServiceDeps) (VendorService, error) {
	if deps.Vendors == nil {
		return nil, errors.New("vendor service: vendor repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("vendor service: user repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &vendorService{
		vendors:    deps.Vendors,
		users:      deps.Users,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *vendorService) Apply(ctx context.Context, cmd VendorApplicationCommand) (Vendor, error) {
	userID := strings.TrimSpace(cmd.Actor.UserID)
	if userID == "" {
		return Vendor{}, fmt.Errorf("%w: user id is required", ErrVendorInvalidInput)
	}
	storeName := strings.TrimSpace(cmd.StoreName)
	if storeName == "" {
		return Vendor{}, fmt.Errorf("%w: store name is required", ErrVendorInvalidInput)
	}
	if len(storeName) > maxStoreNameLength {
		return Vendor{}, fmt.Errorf("%w: store name exceeds %d characters", ErrVendorInvalidInput, maxStoreNameLength)
	}
	if len(cmd.Description) > maxVendorDescriptionLength {
		return Vendor{}, fmt.Errorf("%w: description exceeds %d characters", ErrVendorInvalidInput, maxVendorDescriptionLength)
	}

	existing, err := s.vendors.FindByOwner(ctx, userID)
	switch {
	case err == nil:
		if existing.Status == domain.VendorStatusRejected {
			break
		}
		return Vendor{}, fmt.Errorf("%w: user already has a %s application", ErrVendorConflict, existing.Status)
	case isNotFound(err):
	default:
		return Vendor{}, s.mapRepositoryError(err)
	}

	now := s.now()
	id := vendorIDPrefix + s.newID()
	vendor := Vendor{
		ID:          id,
		OwnerUserID: userID,
		StoreName:   storeName,
		Slug:        domain.SlugWithSuffix(storeName, slugToken(id)),
		Description: s.sanitize(cmd.Description),
		Status:      domain.VendorStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.vendors.Insert(ctx, vendor); err != nil {
		return Vendor{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "vendor.application.submitted", map[string]any{
		"vendor": vendor.ID,
		"owner":  userID,
	})
	return vendor, nil
}

func (s *vendorService) Get(ctx context.Context, vendorID string) (Vendor, error) {
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return Vendor{}, fmt.Errorf("%w: vendor id is required", ErrVendorInvalidInput)
	}
	vendor, err := s.vendors.FindByID(ctx, vendorID)
	if err != nil {
		return Vendor{}, s.mapRepositoryError(err)
	}
	return vendor, nil
}

func (s *vendorService) ListApplications(ctx context.Context, actor Actor, query VendorListQuery) (domain.CursorPage[Vendor], error) {
	if !actor.IsAdmin() {
		return domain.CursorPage[Vendor]{}, fmt.Errorf("%w: admin role is required", ErrVendorForbidden)
	}
	page, err := s.vendors.List(ctx, repositories.VendorListFilter{
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Vendor]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Review approves or rejects a pending application. Approval grants the
// owner the vendor role in the same transaction as the status change.
func (s *vendorService) Review(ctx context.Context, cmd VendorReviewCommand) (Vendor, error) {
	if !cmd.Actor.IsAdmin() {
		return Vendor{}, fmt.Errorf("%w: admin role is required", ErrVendorForbidden)
	}
	vendorID := strings.TrimSpace(cmd.VendorID)
	if vendorID == "" {
		return Vendor{}, fmt.Errorf("%w: vendor id is required", ErrVendorInvalidInput)
	}

	now := s.now()
	var vendor Vendor
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		vendor, err = s.vendors.FindByID(txCtx, vendorID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if vendor.Status != domain.VendorStatusPending {
			return fmt.Errorf("%w: status is %s", ErrVendorInvalidState, vendor.Status)
		}

		if cmd.Approve {
			vendor.Status = domain.VendorStatusApproved
		} else {
			vendor.Status = domain.VendorStatusRejected
		}
		reviewer := cmd.Actor.UserID
		vendor.ReviewedBy = &reviewer
		vendor.ReviewedAt = &now
		vendor.UpdatedAt = now

		if cmd.Approve {
			if _, err := s.users.AttachVendor(txCtx, vendor.OwnerUserID, vendor.ID, now); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if err := s.vendors.Update(txCtx, vendor); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Vendor{}, err
	}

	s.logger(ctx, "vendor.application.reviewed", map[string]any{
		"vendor":   vendor.ID,
		"status":   string(vendor.Status),
		"reviewer": cmd.Actor.UserID,
	})
	return vendor, nil
}

func (s *vendorService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrVendorNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrVendorConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("vendor: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *vendorService) now() time.Time {
	return s.clock()
}
