package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// ProductHandlers exposes public catalog reads and mounts the review endpoints under the same
// /products prefix.
type ProductHandlers struct {
	catalog services.CatalogService
	reviews *ReviewHandlers
}

// NewProductHandlers constructs product handlers. reviews may be nil.
func NewProductHandlers(catalog services.CatalogService, reviews *ReviewHandlers) *ProductHandlers {
	return &ProductHandlers{catalog: catalog, reviews: reviews}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/trending", h.listTrending)
	r.Get("/featured", h.listFeatured)
	r.Get("/{productKey}", h.getProduct)
	r.Get("/{productKey}/related", h.listRelated)
	if h.reviews != nil {
		h.reviews.Routes(r)
	}
}

type productPayload struct {
	Key            string  `json:"key"`
	ID             string  `json:"id"`
	Slug           string  `json:"slug,omitempty"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category,omitempty"`
	Price          int64   `json:"price"`
	CompareAtPrice int64   `json:"compareAtPrice,omitempty"`
	ImageURL       string  `json:"imageUrl,omitempty"`
	Trending       bool    `json:"trending"`
	Featured       bool    `json:"featured"`
	AvgRating      float64 `json:"avgRating"`
	TotalReviews   int     `json:"totalReviews"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

func (h *ProductHandlers) listTrending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context) ([]services.Product, error) { return h.catalog.Trending(ctx) })
}

func (h *ProductHandlers) listFeatured(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context) ([]services.Product, error) { return h.catalog.Featured(ctx) })
}

func (h *ProductHandlers) listRelated(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "productKey")
	h.list(w, r, func(ctx context.Context) ([]services.Product, error) { return h.catalog.Related(ctx, key) })
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.Get(ctx, chi.URLParam(r, "productKey"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) list(w http.ResponseWriter, r *http.Request, load func(ctx context.Context) ([]services.Product, error)) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	products, err := load(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Items: items})
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		Key:            p.Key(),
		ID:             p.ID,
		Slug:           p.Slug,
		Name:           p.Name,
		Description:    p.Description,
		Category:       p.Category,
		Price:          p.Price,
		CompareAtPrice: p.CompareAtPrice,
		ImageURL:       p.ImageURL,
		Trending:       p.Trending,
		Featured:       p.Featured,
		AvgRating:      p.AvgRating,
		TotalReviews:   p.TotalReviews,
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		serviceUnavailable(ctx, w, "catalog")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load products", http.StatusInternalServerError))
	}
}
