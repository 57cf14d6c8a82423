package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// ReviewHandlers exposes product ratings and reviews. Reading is public; writing requires sign-in.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
	}
}

// Routes registers the /products/{productKey} review endpoints.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productKey}/rating", h.getRating)
	r.Get("/{productKey}/reviews", h.listReviews)

	write := r
	if h.authn != nil {
		write = r.With(h.authn.RequireUser())
	}
	write.Post("/{productKey}/reviews", h.createReview)
}

type reviewRequest struct {
	Rating int    `json:"rating"`
	Name   string `json:"name"`
	Review string `json:"review"`
}

type reviewPayload struct {
	ID        string `json:"id"`
	Rating    int    `json:"rating"`
	Name      string `json:"name"`
	Review    string `json:"review,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type ratingPayload struct {
	ProductKey   string         `json:"productKey"`
	AvgRating    float64        `json:"avgRating"`
	TotalReviews int            `json:"totalReviews"`
	RatingsCount map[string]int `json:"ratingsCount"`
}

type createReviewResponse struct {
	Review reviewPayload `json:"review"`
	Rating ratingPayload `json:"rating"`
}

type reviewListResponse struct {
	Items []reviewPayload `json:"items"`
}

func (h *ReviewHandlers) getRating(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	rating, err := h.reviews.Rating(ctx, chi.URLParam(r, "productKey"))
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRatingPayload(rating))
}

func (h *ReviewHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	reviews, err := h.reviews.List(ctx, chi.URLParam(r, "productKey"), limit)
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	items := make([]reviewPayload, 0, len(reviews))
	for _, review := range reviews {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{Items: items})
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = identity.Name
	}
	review, rating, err := h.reviews.Submit(ctx, services.SubmitReviewCommand{
		ProductKey: chi.URLParam(r, "productKey"),
		UserID:     identity.UID,
		Rating:     req.Rating,
		Name:       name,
		Text:       req.Review,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, createReviewResponse{
		Review: buildReviewPayload(review),
		Rating: buildRatingPayload(rating),
	})
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:        review.ID,
		Rating:    review.Rating,
		Name:      review.Name,
		Review:    review.Text,
		CreatedAt: formatTime(review.CreatedAt),
	}
}

func buildRatingPayload(rating services.ProductRating) ratingPayload {
	counts := make(map[string]int, 5)
	for star := 1; star <= 5; star++ {
		counts[strconv.Itoa(star)] = rating.RatingsCount[star]
	}
	return ratingPayload{
		ProductKey:   rating.ProductKey,
		AvgRating:    rating.AvgRating,
		TotalReviews: rating.TotalReviews,
		RatingsCount: counts,
	}
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewUnavailable):
		serviceUnavailable(ctx, w, "review")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "failed to process review request", http.StatusInternalServerError))
	}
}
