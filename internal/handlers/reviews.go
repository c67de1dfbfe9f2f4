package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

const (
	defaultReviewPageSize = 20
	maxReviewPageSize     = 50
	maxReviewBodySize     = 32 * 1024

	reviewRateLimit  = 10
	reviewRateWindow = time.Minute
)

type submitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ReviewHandlers exposes the per-product review endpoints. Registered on the
// products group so routes nest under /products/{productID}/reviews.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
	limiter rateLimiter
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
		limiter: newSimpleRateLimiter(reviewRateLimit, reviewRateWindow, nil),
	}
}

// Routes registers the review endpoints under the products group.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}/reviews", h.listReviews)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/{productID}/reviews", h.submitReview)
	})
}

func (h *ReviewHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r.URL.Query(), defaultReviewPageSize, maxReviewPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}

	writeJSONResponse(w, http.StatusOK, reviewListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ReviewHandlers) submitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many review submissions, slow down", http.StatusTooManyRequests))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req submitReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Submit(ctx, services.SubmitReviewCommand{
		Actor:     actorFromIdentity(identity),
		ProductID: productID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, reviewResponse{Review: buildReviewPayload(review)})
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type reviewResponse struct {
	Review reviewPayload `json:"review"`
}

type reviewPayload struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name,omitempty"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:         strings.TrimSpace(review.ID),
		ProductID:  strings.TrimSpace(review.ProductID),
		UserID:     strings.TrimSpace(review.UserID),
		UserName:   strings.TrimSpace(review.UserName),
		Rating:     review.Rating,
		Comment:    review.Comment,
		IsVerified: review.IsVerified,
		CreatedAt:  formatTime(review.CreatedAt),
		UpdatedAt:  formatTime(review.UpdatedAt),
	}
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewConflict):
		httpx.WriteError(ctx, w, httpx.NewError("review_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "failed to process review request", http.StatusInternalServerError))
	}
}
