package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sfykart/api/internal/domain"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const (
	reviewCollection  = "reviews"
	productCollection = "products"
)

// ReviewRepository stores reviews in the top-level reviews collection and keeps the rating
// aggregate on products/{productKey}.
type ReviewRepository struct {
	provider *pfirestore.Provider
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{provider: provider}, nil
}

// Submit writes the review and folds its rating into the product aggregate in one transaction.
// A missing product is reported as not found and nothing is written.
func (r *ReviewRepository) Submit(ctx context.Context, review domain.Review) (domain.Review, domain.ProductRating, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, domain.ProductRating{}, errors.New("review repository not initialised")
	}
	productKey := strings.TrimSpace(review.ProductKey)
	if productKey == "" || strings.TrimSpace(review.ID) == "" {
		return domain.Review{}, domain.ProductRating{}, errors.New("review repository: product key and review id are required")
	}
	products, err := r.provider.Collection(ctx, productCollection)
	if err != nil {
		return domain.Review{}, domain.ProductRating{}, err
	}
	reviews, err := r.provider.Collection(ctx, reviewCollection)
	if err != nil {
		return domain.Review{}, domain.ProductRating{}, err
	}

	productRef := products.Doc(productKey)
	reviewRef := reviews.Doc(review.ID)
	var rating domain.ProductRating
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(productRef)
		if err != nil {
			return err
		}
		rating = decodeRating(productKey, snap.Data()).Add(review.Rating)

		if err := tx.Create(reviewRef, reviewFields(review)); err != nil {
			return err
		}
		return tx.Update(productRef, []firestore.Update{
			{Path: "totalReviews", Value: rating.TotalReviews},
			{Path: "avgRating", Value: rating.AvgRating},
			{Path: "ratingsCount", Value: ratingsCountFields(rating.RatingsCount)},
		})
	})
	if err != nil {
		return domain.Review{}, domain.ProductRating{}, pfirestore.WrapError("reviews.submit", err)
	}
	return review, rating, nil
}

// Rating reads the aggregate from products/{productKey}.
func (r *ReviewRepository) Rating(ctx context.Context, productKey string) (domain.ProductRating, error) {
	if r == nil || r.provider == nil {
		return domain.ProductRating{}, errors.New("review repository not initialised")
	}
	products, err := r.provider.Collection(ctx, productCollection)
	if err != nil {
		return domain.ProductRating{}, err
	}
	doc, err := pfirestore.Get(ctx, products.Doc(strings.TrimSpace(productKey)), pfirestore.MapDecoder())
	if err != nil {
		return domain.ProductRating{}, err
	}
	return decodeRating(doc.ID, doc.Data), nil
}

// ListByProduct returns the newest reviews for productKey.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productKey string, limit int) ([]domain.Review, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("review repository not initialised")
	}
	reviews, err := r.provider.Collection(ctx, reviewCollection)
	if err != nil {
		return nil, err
	}
	query := reviews.Where("productId", "==", strings.TrimSpace(productKey)).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit)
	docs, err := pfirestore.Query(ctx, "reviews.list", query, pfirestore.MapDecoder())
	if err != nil {
		return nil, err
	}
	out := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeReview(doc.ID, doc.Data))
	}
	return out, nil
}

func reviewFields(review domain.Review) map[string]any {
	createdAt := review.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	fields := map[string]any{
		"productId": review.ProductKey,
		"rating":    review.Rating,
		"name":      review.Name,
		"review":    review.Text,
		"createdAt": createdAt.UTC(),
	}
	if review.UserID != "" {
		fields["userId"] = review.UserID
	}
	return fields
}

func decodeReview(id string, data map[string]any) domain.Review {
	return domain.Review{
		ID:         id,
		ProductKey: firstString(data, "productId"),
		UserID:     firstString(data, "userId"),
		Rating:     int(firstInt(data, "rating")),
		Name:       firstString(data, "name"),
		Text:       firstString(data, "review", "text"),
		CreatedAt:  timeValue(data["createdAt"]),
	}
}

// decodeRating reads the aggregate. ratingsCount keys are the star values as strings.
func decodeRating(productKey string, data map[string]any) domain.ProductRating {
	rating := domain.ProductRating{
		ProductKey:   productKey,
		AvgRating:    numberValue(data["avgRating"]),
		TotalReviews: int(firstInt(data, "totalReviews")),
		RatingsCount: map[int]int{},
	}
	if counts, ok := data["ratingsCount"].(map[string]any); ok {
		for key, raw := range counts {
			star, err := strconv.Atoi(key)
			if err != nil || star < 1 || star > 5 {
				continue
			}
			if n := int(numberValue(raw)); n > 0 {
				rating.RatingsCount[star] = n
			}
		}
	}
	return rating
}

func ratingsCountFields(counts map[int]int) map[string]any {
	fields := make(map[string]any, 5)
	for star := 1; star <= 5; star++ {
		fields[strconv.Itoa(star)] = counts[star]
	}
	return fields
}

// Ensure interface compliance.
var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
