package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

const (
	reviewEventSubmitted = "review.submitted"

	maxReviewCommentLength = 2000
	// verifiedLookupPageSize bounds the delivered-order scan per page.
	verifiedLookupPageSize = 100
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewProductNotFound indicates the reviewed product does not exist.
	ErrReviewProductNotFound = errors.New("review: product not found")
	// ErrReviewConflict signals conflicting concurrent updates.
	ErrReviewConflict = errors.New("review: conflict")
)

var userTextHTMLPolicy = bluemonday.StrictPolicy()

// ReviewEventPublisher publishes review domain events for downstream consumers.
type ReviewEventPublisher interface {
	PublishReviewEvent(ctx context.Context, event ReviewEvent) error
}

// ReviewEvent captures metadata for emitted review events.
type ReviewEvent struct {
	Type       string
	ProductID  string
	UserID     string
	Rating     int
	IsVerified bool
	OccurredAt time.Time
}

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews    repositories.ReviewRepository
	Products   repositories.ProductRepository
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Sanitizer  func(string) string
	Events     ReviewEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews    repositories.ReviewRepository
	products   repositories.ProductRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	sanitize   func(string) string
	events     ReviewEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = sanitizeUserText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:    deps.Reviews,
		products:   deps.Products,
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitize: sanitize,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

// Submit records the actor's review of a product, replacing any earlier one,
// and recomputes the product's rating aggregate in the same transaction.
func (s *reviewService) Submit(ctx context.Context, cmd SubmitReviewCommand) (Review, error) {
	userID := strings.TrimSpace(cmd.Actor.UserID)
	if userID == "" {
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}
	comment := s.sanitize(cmd.Comment)
	if len(comment) > maxReviewCommentLength {
		return Review{}, fmt.Errorf("%w: comment exceeds %d characters", ErrReviewInvalidInput, maxReviewCommentLength)
	}

	verified, err := s.hasDeliveredOrder(ctx, userID, productID)
	if err != nil {
		return Review{}, err
	}

	now := s.clock()
	review := Review{
		ProductID:  productID,
		UserID:     userID,
		UserName:   strings.TrimSpace(cmd.Actor.Name),
		Rating:     cmd.Rating,
		Comment:    comment,
		IsVerified: verified,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		// Firestore transactions require every read before the first write,
		// so gather the product, the previous review, and the rating set up
		// front, then apply both writes.
		if _, err := s.products.FindByID(txCtx, productID); err != nil {
			return s.mapRepositoryError(err)
		}

		var previous Review
		hadPrevious := false
		existing, err := s.reviews.FindByProductAndUser(txCtx, productID, userID)
		switch {
		case err == nil:
			previous = existing
			hadPrevious = true
			review.CreatedAt = existing.CreatedAt
		case isNotFound(err):
			// first review by this user
		default:
			return s.mapRepositoryError(err)
		}

		ratings, err := s.reviews.CollectRatings(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		// The snapshot predates this submission, so fold the new rating in
		// by hand: replace the actor's previous entry or append.
		average, count := foldRating(ratings, previous, hadPrevious, cmd.Rating)

		saved, err := s.reviews.Upsert(txCtx, review)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		review = saved

		if err := s.products.UpdateRating(txCtx, productID, average, count, now); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Review{}, err
	}

	s.publishEvent(ctx, ReviewEvent{
		Type:       reviewEventSubmitted,
		ProductID:  productID,
		UserID:     userID,
		Rating:     cmd.Rating,
		IsVerified: verified,
		OccurredAt: now,
	})

	return review, nil
}

func (s *reviewService) ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// hasDeliveredOrder reports whether the user has received the product in a
// delivered order. Pages through the user's delivered orders outside the
// write transaction.
func (s *reviewService) hasDeliveredOrder(ctx context.Context, userID, productID string) (bool, error) {
	filter := repositories.OrderListFilter{
		UserID: userID,
		Status: []string{string(domain.OrderStatusDelivered)},
		Pagination: domain.Pagination{
			PageSize: verifiedLookupPageSize,
		},
	}
	for {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return false, s.mapRepositoryError(err)
		}
		for _, order := range page.Items {
			for _, item := range order.Items {
				if item.ProductID == productID {
					return true, nil
				}
			}
		}
		if page.NextPageToken == "" {
			return false, nil
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
}

// foldRating merges the just-written rating into the snapshot-read set.
func foldRating(ratings []int, previous Review, hadPrevious bool, newRating int) (float64, int) {
	replaced := false
	sum := 0
	count := 0
	for _, r := range ratings {
		if hadPrevious && !replaced && r == previous.Rating {
			sum += newRating
			replaced = true
		} else {
			sum += r
		}
		count++
	}
	if !hadPrevious {
		sum += newRating
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return float64(sum) / float64(count), count
}

func (s *reviewService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReviewProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReviewConflict, err)
		}
	}
	return err
}

func (s *reviewService) publishEvent(ctx context.Context, event ReviewEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishReviewEvent(ctx, event); err != nil {
		s.logger(ctx, "review.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// sanitizeUserText strips markup, control characters, and redundant
// whitespace from user-submitted free text such as review comments and
// order notes.
func sanitizeUserText(input string) string {
	trimmed := strings.TrimSpace(userTextHTMLPolicy.Sanitize(input))
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
