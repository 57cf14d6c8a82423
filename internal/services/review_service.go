package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/sfykart/api/internal/repositories"
)

const (
	reviewIDPrefix        = "rev_"
	maxReviewTextRunes    = 2000
	maxReviewNameRunes    = 80
	defaultReviewPageSize = 20
	maxReviewPageSize     = 100
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewProductNotFound indicates the product being reviewed does not exist.
	ErrReviewProductNotFound = errors.New("review: product not found")
	// ErrReviewUnavailable indicates the review store could not be reached.
	ErrReviewUnavailable = errors.New("review: unavailable")
)

// SubmitReviewCommand captures a customer's rating for a product.
type SubmitReviewCommand struct {
	ProductKey string
	UserID     string
	Rating     int
	Name       string
	Text       string
}

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	now      func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(s string) string {
			return html.UnescapeString(policy.Sanitize(s))
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews: deps.Reviews,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

// Submit stores the review and returns the product's updated aggregate.
func (s *reviewService) Submit(ctx context.Context, cmd SubmitReviewCommand) (Review, ProductRating, error) {
	productKey := strings.TrimSpace(cmd.ProductKey)
	if productKey == "" {
		return Review{}, ProductRating{}, fmt.Errorf("%w: product key is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Review{}, ProductRating{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	name := strings.TrimSpace(s.sanitize(cmd.Name))
	if name == "" {
		return Review{}, ProductRating{}, fmt.Errorf("%w: name is required", ErrReviewInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxReviewNameRunes {
		return Review{}, ProductRating{}, fmt.Errorf("%w: name too long", ErrReviewInvalidInput)
	}
	text := strings.TrimSpace(s.sanitize(cmd.Text))
	if text == "" {
		return Review{}, ProductRating{}, fmt.Errorf("%w: review text is required", ErrReviewInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxReviewTextRunes {
		return Review{}, ProductRating{}, fmt.Errorf("%w: text too long", ErrReviewInvalidInput)
	}

	review := Review{
		ID:         s.newID(),
		ProductKey: productKey,
		UserID:     strings.TrimSpace(cmd.UserID),
		Rating:     cmd.Rating,
		Name:       name,
		Text:       text,
		CreatedAt:  s.now(),
	}

	saved, rating, err := s.reviews.Submit(ctx, review)
	if err != nil {
		return Review{}, ProductRating{}, translateReviewError(err)
	}
	s.logger(ctx, "review.submitted", map[string]any{
		"productKey": productKey,
		"rating":     cmd.Rating,
		"total":      rating.TotalReviews,
	})
	return saved, rating, nil
}

// Rating returns the aggregate for productKey. Products without reviews report zero totals.
func (s *reviewService) Rating(ctx context.Context, productKey string) (ProductRating, error) {
	productKey = strings.TrimSpace(productKey)
	if productKey == "" {
		return ProductRating{}, fmt.Errorf("%w: product key is required", ErrReviewInvalidInput)
	}
	rating, err := s.reviews.Rating(ctx, productKey)
	if err != nil {
		if isRepoNotFound(err) {
			return ProductRating{ProductKey: productKey, RatingsCount: map[int]int{}}, nil
		}
		return ProductRating{}, translateReviewError(err)
	}
	return rating, nil
}

func (s *reviewService) List(ctx context.Context, productKey string, limit int) ([]Review, error) {
	productKey = strings.TrimSpace(productKey)
	if productKey == "" {
		return nil, fmt.Errorf("%w: product key is required", ErrReviewInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultReviewPageSize
	case limit > maxReviewPageSize:
		limit = maxReviewPageSize
	}
	reviews, err := s.reviews.ListByProduct(ctx, productKey, limit)
	if err != nil {
		if isRepoNotFound(err) {
			return []Review{}, nil
		}
		return nil, translateReviewError(err)
	}
	return reviews, nil
}

func translateReviewError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrReviewProductNotFound
	default:
		return fmt.Errorf("%w: %v", ErrReviewUnavailable, err)
	}
}
