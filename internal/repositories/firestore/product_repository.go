package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/sfykart/api/internal/domain"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const defaultProductLimit = 50

// ProductRepository reads the products collection. Documents are maintained by the console and
// mapped to domain.Product here so nothing above this layer sees console field names.
type ProductRepository struct {
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

// FindByKey looks the key up as a slug and falls back to the document id.
func (r *ProductRepository) FindByKey(ctx context.Context, key string) (domain.Product, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Product{}, pfirestore.NotFound("products.get", "empty product key")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	docs, err := pfirestore.Query(ctx, "products.by_slug", coll.Where("slug", "==", key).Limit(1), pfirestore.MapDecoder())
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) > 0 {
		return decodeProduct(docs[0].ID, docs[0].Data), nil
	}
	if strings.Contains(key, "/") {
		return domain.Product{}, pfirestore.NotFound("products.get", "invalid product key")
	}
	doc, err := pfirestore.Get(ctx, coll.Doc(key), pfirestore.MapDecoder())
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// ListFlagged returns products carrying the trending or featured flag.
func (r *ProductRepository) ListFlagged(ctx context.Context, flag domain.ProductFlag, limit int) ([]domain.Product, error) {
	var field string
	switch flag {
	case domain.ProductFlagTrending:
		field = "isTrending"
	case domain.ProductFlagFeatured:
		field = "isFeatured"
	default:
		return nil, errors.New("product repository: unknown flag " + string(flag))
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "products.list_"+string(flag), coll.Where(field, "==", true).Limit(productLimit(limit)))
}

// ListByCategory returns products in category.
func (r *ProductRepository) ListByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, nil
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "products.list_category", coll.Where("category", "==", category).Limit(productLimit(limit)))
}

// ListAll returns up to limit products in document order.
func (r *ProductRepository) ListAll(ctx context.Context, limit int) ([]domain.Product, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "products.list", coll.Limit(productLimit(limit)))
}

func (r *ProductRepository) list(ctx context.Context, op string, q firestore.Query) ([]domain.Product, error) {
	docs, err := pfirestore.Query(ctx, op, q, pfirestore.MapDecoder())
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeProduct(doc.ID, doc.Data))
	}
	return out, nil
}

func (r *ProductRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	return r.provider.Collection(ctx, productCollection)
}

func productLimit(limit int) int {
	if limit <= 0 {
		return defaultProductLimit
	}
	return limit
}

// decodeProduct maps a console product document. Prices are stored in rupees.
func decodeProduct(id string, data map[string]any) domain.Product {
	product := domain.Product{
		ID:             id,
		Slug:           firstString(data, "slug"),
		Name:           firstString(data, "name", "title"),
		Description:    firstString(data, "description"),
		Category:       firstString(data, "category"),
		Price:          firstAmount(data, 100, "price"),
		CompareAtPrice: firstAmount(data, 100, "comparePrice", "compareAtPrice", "mrp"),
		Trending:       boolValue(data["isTrending"]),
		Featured:       boolValue(data["isFeatured"]),
		TotalReviews:   int(firstInt(data, "totalReviews")),
	}
	product.ImageURL = firstImageURL(data["images"])
	if product.ImageURL == "" {
		product.ImageURL = firstString(data, "images", "image", "imageUrl")
	}
	product.AvgRating = numberValue(data["avgRating"])
	if product.AvgRating == 0 {
		product.AvgRating = numberValue(data["rating"])
	}
	return product
}

func boolValue(raw any) bool {
	v, _ := raw.(bool)
	return v
}

// Ensure interface compliance.
var _ repositories.ProductRepository = (*ProductRepository)(nil)
