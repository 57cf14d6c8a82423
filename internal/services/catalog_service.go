package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/repositories"
)

const (
	curatedProductLimit = 20
	relatedProductLimit = 6
	relatedFillPool     = 60
)

var (
	// ErrProductNotFound indicates no catalog entry matches the key.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogUnavailable indicates the catalog store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// CatalogServiceDeps wires the product store. Shuffle defaults to math/rand.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Shuffle  func(n int, swap func(i, j int))
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	shuffle  func(n int, swap func(i, j int))
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	shuffle := deps.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{products: deps.Products, shuffle: shuffle, logger: logger}, nil
}

func (s *catalogService) Trending(ctx context.Context) ([]Product, error) {
	products, err := s.products.ListFlagged(ctx, domain.ProductFlagTrending, curatedProductLimit)
	if err != nil {
		return nil, translateCatalogError(err)
	}
	return products, nil
}

func (s *catalogService) Featured(ctx context.Context) ([]Product, error) {
	products, err := s.products.ListFlagged(ctx, domain.ProductFlagFeatured, curatedProductLimit)
	if err != nil {
		return nil, translateCatalogError(err)
	}
	return products, nil
}

// Get resolves key by slug, then by product id.
func (s *catalogService) Get(ctx context.Context, key string) (Product, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Product{}, ErrProductNotFound
	}
	product, err := s.products.FindByKey(ctx, key)
	if err != nil {
		return Product{}, translateCatalogError(err)
	}
	return product, nil
}

// Related lists up to six other products from the same category, topped up with random picks
// from the wider catalog when the category is thin.
func (s *catalogService) Related(ctx context.Context, key string) ([]Product, error) {
	product, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{product.Key(): true}
	related := make([]Product, 0, relatedProductLimit)
	take := func(candidates []Product) {
		for _, candidate := range candidates {
			if len(related) == relatedProductLimit {
				return
			}
			if k := candidate.Key(); k != "" && !seen[k] {
				seen[k] = true
				related = append(related, candidate)
			}
		}
	}

	if product.Category != "" {
		sameCategory, err := s.products.ListByCategory(ctx, product.Category, relatedProductLimit+1)
		if err != nil {
			return nil, translateCatalogError(err)
		}
		take(sameCategory)
	}
	if len(related) < relatedProductLimit {
		pool, err := s.products.ListAll(ctx, relatedFillPool)
		if err != nil {
			// The category matches are still useful on their own.
			s.logger(ctx, "catalog.related_fill_failed", map[string]any{"productKey": product.Key(), "error": err})
			return related, nil
		}
		s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		take(pool)
	}
	return related, nil
}

func translateCatalogError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrProductNotFound
	default:
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
}
