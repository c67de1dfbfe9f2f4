package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vendora/api/internal/domain"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/platform/pagination"
	"github.com/vendora/api/internal/repositories"
)

const reviewCollection = "reviews"

type reviewDocument struct {
	ProductID  string    `firestore:"productId"`
	UserID     string    `firestore:"userId"`
	UserName   string    `firestore:"userName"`
	Rating     int       `firestore:"rating"`
	Comment    string    `firestore:"comment"`
	IsVerified bool      `firestore:"isVerified"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:         id,
		ProductID:  d.ProductID,
		UserID:     d.UserID,
		UserName:   d.UserName,
		Rating:     d.Rating,
		Comment:    d.Comment,
		IsVerified: d.IsVerified,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// reviewDocID derives the deterministic one-review-per-user-per-product key.
func reviewDocID(productID, userID string) string {
	return fmt.Sprintf("%s_%s", productID, userID)
}

// ReviewRepository persists product reviews in Firestore.
type ReviewRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[reviewDocument]
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewCollection)
	return &ReviewRepository{provider: provider, base: base}, nil
}

// Upsert writes the review under its deterministic key, replacing any earlier
// review by the same user for the same product. The original CreatedAt is
// preserved on overwrite.
func (r *ReviewRepository) Upsert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ProductID) == "" || strings.TrimSpace(review.UserID) == "" {
		return domain.Review{}, errors.New("review product id and user id are required")
	}

	id := reviewDocID(review.ProductID, review.UserID)
	doc := reviewDocument{
		ProductID:  review.ProductID,
		UserID:     review.UserID,
		UserName:   review.UserName,
		Rating:     review.Rating,
		Comment:    review.Comment,
		IsVerified: review.IsVerified,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return domain.Review{}, err
		}
		if err := tx.Set(ref, doc); err != nil {
			return domain.Review{}, pfirestore.WrapError("reviews.upsert", err)
		}
		return doc.toDomain(id), nil
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Review{}, err
	}
	return doc.toDomain(id), nil
}

// FindByProductAndUser loads the single review a user left on a product.
func (r *ReviewRepository) FindByProductAndUser(ctx context.Context, productID, userID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := reviewDocID(strings.TrimSpace(productID), strings.TrimSpace(userID))
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return domain.Review{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Review{}, pfirestore.WrapError("reviews.get", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Review{}, fmt.Errorf("decode review %s: %w", id, err)
		}
		return doc.toDomain(id), nil
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByProduct returns reviews for a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("product id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("productId", "==", productID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	page := domain.CursorPage[domain.Review]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Data.CreatedAt, last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Review]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// CollectRatings returns every rating recorded for the product. Joins the
// ambient transaction so the aggregate is computed against the same snapshot
// the review write commits into.
func (r *ReviewRepository) CollectRatings(ctx context.Context, productID string) ([]int, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("review repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return nil, errors.New("product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(reviewCollection).Where("productId", "==", productID).Select("rating")

	var snaps []*firestore.DocumentSnapshot
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		snaps, err = tx.Documents(query).GetAll()
	} else {
		snaps, err = query.Documents(ctx).GetAll()
	}
	if err != nil {
		return nil, pfirestore.WrapError("reviews.collect_ratings", err)
	}

	ratings := make([]int, 0, len(snaps))
	for _, snap := range snaps {
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		ratings = append(ratings, doc.Rating)
	}
	return ratings, nil
}
