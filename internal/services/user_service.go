package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

var (
	// ErrUserInvalidInput signals the caller provided invalid data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the profile could not be located.
	ErrUserNotFound = errors.New("user: not found")
)

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users repositories.UserRepository
	Clock func() time.Time
}

type userService struct {
	users repositories.UserRepository
	clock func() time.Time
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// EnsureProfile creates or refreshes the profile document mirroring the
// authenticated identity. Roles already granted in the profile are kept.
func (s *userService) EnsureProfile(ctx context.Context, actor Actor) (User, error) {
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	now := s.clock()
	profile := User{
		ID:          userID,
		Email:       strings.TrimSpace(actor.Email),
		DisplayName: strings.TrimSpace(actor.Name),
		Roles:       []string{domain.RoleUser},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := s.users.FindByID(ctx, userID)
	switch {
	case err == nil:
		profile.Roles = existing.Roles
		profile.VendorID = existing.VendorID
		profile.CreatedAt = existing.CreatedAt
		if profile.Email == "" {
			profile.Email = existing.Email
		}
		if profile.DisplayName == "" {
			profile.DisplayName = existing.DisplayName
		}
	case isNotFound(err):
	default:
		return User{}, s.mapRepositoryError(err)
	}

	saved, err := s.users.Upsert(ctx, profile)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}

	return err
}
