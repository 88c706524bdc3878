package service

import (
	"context"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/go-faster/errors"
)

// CatalogStore reads the active product catalog.
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListActiveProducts(ctx context.Context, limit, offset int) ([]models.Product, error)
	CountActiveProducts(ctx context.Context) (int, error)
}

// CatalogService serves product reads
type CatalogService struct {
	products CatalogStore
}

// NewCatalogService creates a catalog service
func NewCatalogService(products CatalogStore) *CatalogService {
	return &CatalogService{products: products}
}

// ProductPage is one page of the active catalog
type ProductPage struct {
	Products    []models.Product `json:"products"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Total       int              `json:"total"`
}

// ListProducts returns a page of active products
func (s *CatalogService) ListProducts(ctx context.Context, page, limit int) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	page, limit = normalizePage(page, limit)

	products, err := s.products.ListActiveProducts(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	total, err := s.products.CountActiveProducts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count products")
	}

	return &ProductPage{
		Products:    products,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
		Total:       total,
	}, nil
}

// GetProduct returns an active product
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.products.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !product.IsActive {
		return nil, &ProductNotFoundError{ProductID: id}
	}
	return product, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}
