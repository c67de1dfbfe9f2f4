package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vendora/api/internal/platform/storage"
)

const (
	defaultUploadURLExpiry = 15 * time.Minute
	maxImageUploadSize     = 10 << 20
)

var allowedImageContentTypes = []string{"image/png", "image/jpeg", "image/webp"}

var (
	// ErrUploadInvalidInput signals the caller provided invalid data.
	ErrUploadInvalidInput = errors.New("upload: invalid input")
	// ErrUploadForbidden indicates the actor may not stage or finalize this object.
	ErrUploadForbidden = errors.New("upload: forbidden")
)

// SignedURLIssuer abstracts signed URL generation for object uploads.
type SignedURLIssuer interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ObjectCopier abstracts promoting staged objects between buckets.
type ObjectCopier interface {
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error
}

// UploadServiceDeps bundles collaborators required to construct the upload service.
type UploadServiceDeps struct {
	SignedURLs    SignedURLIssuer
	Copier        ObjectCopier
	StagingBucket string
	PublicBucket  string
	PublicBaseURL string
	URLExpiry     time.Duration
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type uploadService struct {
	signedURLs    SignedURLIssuer
	copier        ObjectCopier
	stagingBucket string
	publicBucket  string
	publicBaseURL string
	urlExpiry     time.Duration
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewUploadService wires dependencies into a concrete UploadService implementation.
func NewUploadService(deps UploadServiceDeps) (UploadService, error) {
	if deps.SignedURLs == nil {
		return nil, errors.New("upload service: signed url issuer is required")
	}
	if deps.Copier == nil {
		return nil, errors.New("upload service: object copier is required")
	}
	if strings.TrimSpace(deps.StagingBucket) == "" || strings.TrimSpace(deps.PublicBucket) == "" {
		return nil, errors.New("upload service: staging and public buckets are required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	expiry := deps.URLExpiry
	if expiry <= 0 {
		expiry = defaultUploadURLExpiry
	}

	return &uploadService{
		signedURLs:    deps.SignedURLs,
		copier:        deps.Copier,
		stagingBucket: strings.TrimSpace(deps.StagingBucket),
		publicBucket:  strings.TrimSpace(deps.PublicBucket),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/"),
		urlExpiry:     expiry,
		newID:         idGen,
		logger:        logger,
	}, nil
}

func (s *uploadService) CreateImageUpload(ctx context.Context, cmd CreateImageUploadCommand) (ImageUpload, error) {
	if !cmd.Actor.IsVendor() {
		return ImageUpload{}, fmt.Errorf("%w: vendor role is required", ErrUploadForbidden)
	}
	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		return ImageUpload{}, fmt.Errorf("%w: file name is required", ErrUploadInvalidInput)
	}

	uploadID := strings.ToLower(s.newID())
	objectPath, err := storage.BuildObjectPath(storage.PurposeProductImageStaging, storage.PathParams{
		VendorID: cmd.Actor.VendorID,
		UploadID: uploadID,
		FileName: fileName,
	})
	if err != nil {
		return ImageUpload{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}

	result, err := s.signedURLs.SignedURL(ctx, s.stagingBucket, objectPath, storage.SignedURLOptions{
		ContentType:         strings.TrimSpace(cmd.ContentType),
		AllowedContentTypes: allowedImageContentTypes,
		MaxSize:             maxImageUploadSize,
		ExpiresIn:           s.urlExpiry,
	})
	if err != nil {
		return ImageUpload{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}

	s.logger(ctx, "upload.image.staged", map[string]any{
		"vendor": cmd.Actor.VendorID,
		"object": objectPath,
	})
	return ImageUpload{
		UploadURL:  result.URL,
		ObjectPath: objectPath,
		ExpiresAt:  result.ExpiresAt,
	}, nil
}

// FinalizeImage promotes a staged object into the public bucket under the
// product's image prefix and returns the public URL.
func (s *uploadService) FinalizeImage(ctx context.Context, cmd FinalizeImageCommand) (string, error) {
	if !cmd.Actor.IsVendor() {
		return "", fmt.Errorf("%w: vendor role is required", ErrUploadForbidden)
	}
	objectPath := strings.TrimSpace(cmd.ObjectPath)
	if objectPath == "" {
		return "", fmt.Errorf("%w: object path is required", ErrUploadInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return "", fmt.Errorf("%w: product id is required", ErrUploadInvalidInput)
	}

	// Vendors may only finalize objects staged under their own prefix.
	vendorPrefix := fmt.Sprintf("staging/vendors/%s/uploads/", cmd.Actor.VendorID)
	if !strings.HasPrefix(objectPath, vendorPrefix) {
		return "", fmt.Errorf("%w: object %s is not staged for this vendor", ErrUploadForbidden, objectPath)
	}

	destPath, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: productID,
		FileName:  path.Base(objectPath),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}

	if err := s.copier.CopyObject(ctx, s.stagingBucket, objectPath, s.publicBucket, destPath); err != nil {
		return "", fmt.Errorf("upload: promote image: %w", err)
	}

	s.logger(ctx, "upload.image.finalized", map[string]any{
		"vendor":  cmd.Actor.VendorID,
		"product": productID,
		"object":  destPath,
	})

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + destPath, nil
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.publicBucket, destPath), nil
}
