package storage

import "testing"

func TestBuildProductImageStagingPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductImageStaging, PathParams{
		VendorID: "ven123",
		UploadID: "upload789",
		FileName: "front.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "staging/vendors/ven123/uploads/upload789/front.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildProductImagePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductImage, PathParams{
		ProductID: "prod123",
		FileName:  "front.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "images/products/prod123/front.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeProductImageStaging, PathParams{
		VendorID: "../bad",
		UploadID: "upload",
		FileName: "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
