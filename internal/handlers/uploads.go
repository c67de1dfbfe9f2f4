package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

const maxUploadBodySize = 4 * 1024

type createUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type finalizeUploadRequest struct {
	ObjectPath string `json:"object_path"`
	ProductID  string `json:"product_id"`
}

// UploadHandlers issues signed URLs for product image uploads and promotes
// staged objects once the product exists.
type UploadHandlers struct {
	authn   *auth.Authenticator
	uploads services.UploadService
}

// NewUploadHandlers constructs a new UploadHandlers instance.
func NewUploadHandlers(authn *auth.Authenticator, uploads services.UploadService) *UploadHandlers {
	return &UploadHandlers{
		authn:   authn,
		uploads: uploads,
	}
}

// Routes registers the /uploads endpoints.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/product-images", h.createUpload)
	r.Post("/product-images/finalize", h.finalizeUpload)
}

func (h *UploadHandlers) createUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxUploadBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	upload, err := h.uploads.CreateImageUpload(ctx, services.CreateImageUploadCommand{
		Actor:       actorFromIdentity(identity),
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, uploadResponse{
		UploadURL:  upload.UploadURL,
		ObjectPath: upload.ObjectPath,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	})
}

func (h *UploadHandlers) finalizeUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxUploadBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req finalizeUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	url, err := h.uploads.FinalizeImage(ctx, services.FinalizeImageCommand{
		Actor:      actorFromIdentity(identity),
		ObjectPath: strings.TrimSpace(req.ObjectPath),
		ProductID:  strings.TrimSpace(req.ProductID),
	})
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, finalizeUploadResponse{URL: url})
}

type uploadResponse struct {
	UploadURL  string `json:"upload_url"`
	ObjectPath string `json:"object_path"`
	ExpiresAt  string `json:"expires_at"`
}

type finalizeUploadResponse struct {
	URL string `json:"url"`
}

func writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUploadInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUploadForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("upload_forbidden", "only approved vendors can upload product images", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("upload_error", "failed to process upload request", http.StatusInternalServerError))
	}
}
