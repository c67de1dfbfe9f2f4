package storage

import (
	"fmt"
	"strings"
)

// AssetPurpose selects the object layout for an upload.
type AssetPurpose string

const (
	// PurposeProductImageStaging holds freshly uploaded images under
	// the vendor's staging prefix until they are attached to a product.
	PurposeProductImageStaging AssetPurpose = "product-image-staging"
	// PurposeProductImage is the public location of a finalized image.
	PurposeProductImage AssetPurpose = "product-image"
)

// PathParams carries the identifiers a layout needs.
type PathParams struct {
	VendorID  string
	ProductID string
	UploadID  string
	FileName  string
}

// BuildObjectPath composes the object key for a purpose. Every segment
// is validated against path traversal before it goes into the key.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	switch purpose {
	case PurposeProductImageStaging:
		vendorID, err := cleanSegment("vendorID", params.VendorID)
		if err != nil {
			return "", err
		}
		uploadID, err := cleanSegment("uploadID", params.UploadID)
		if err != nil {
			return "", err
		}
		fileName, err := cleanSegment("fileName", params.FileName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("staging/vendors/%s/uploads/%s/%s", vendorID, uploadID, fileName), nil

	case PurposeProductImage:
		productID, err := cleanSegment("productID", params.ProductID)
		if err != nil {
			return "", err
		}
		fileName, err := cleanSegment("fileName", params.FileName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("images/products/%s/%s", productID, fileName), nil
	}
	return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
}

func cleanSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, nil
}
