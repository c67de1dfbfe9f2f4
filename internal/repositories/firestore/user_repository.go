package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vendora/api/internal/domain"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/repositories"
)

const userCollection = "users"

type userDocument struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"displayName"`
	Roles       []string  `firestore:"roles"`
	VendorID    *string   `firestore:"vendorId,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:          id,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		Roles:       append([]string(nil), d.Roles...),
		VendorID:    d.VendorID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// UserRepository persists user profiles keyed by auth UID.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection)
	return &UserRepository{provider: provider, base: base}, nil
}

// Upsert writes the profile document under the user's UID.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	roles := user.Roles
	if len(roles) == 0 {
		roles = []string{domain.RoleUser}
	}
	doc := userDocument{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       roles,
		VendorID:    user.VendorID,
		CreatedAt:   user.CreatedAt.UTC(),
		UpdatedAt:   user.UpdatedAt.UTC(),
	}
	if _, err := r.base.Set(ctx, user.ID, doc); err != nil {
		return domain.User{}, err
	}
	return doc.toDomain(user.ID), nil
}

// FindByID loads the profile for the given UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain(doc.ID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	return user, nil
}

// AttachVendor links an approved vendor to the profile and grants the vendor role.
func (r *UserRepository) AttachVendor(ctx context.Context, userID string, vendorID string, now time.Time) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(vendorID) == "" {
		return domain.User{}, errors.New("user id and vendor id are required")
	}

	var attached domain.User
	err := r.runWrite(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("users.attach_vendor", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		doc.VendorID = &vendorID
		if !containsRole(doc.Roles, domain.RoleVendor) {
			doc.Roles = append(doc.Roles, domain.RoleVendor)
		}
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		attached = doc.toDomain(userID)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return attached, nil
}

// runWrite joins the ambient transaction when one is active, otherwise it
// opens a dedicated transaction for the write.
func (r *UserRepository) runWrite(ctx context.Context, fn func(context.Context, *firestore.Transaction) error) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	return r.provider.RunTransaction(ctx, fn)
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
