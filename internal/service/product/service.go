package product

import (
	"context"
	"sort"
	"strings"

	"aquavo-api/internal/domain"
	productrepo "aquavo-api/internal/repository/product"
	"aquavo-api/internal/sanitize"
)

type Service struct {
	repo productrepo.Repository
}

func New(repo productrepo.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// Search filters the catalog by a free-text query. Queries that look like
// SQL injection return sanitize.ErrSuspiciousInput.
func (s *Service) Search(ctx context.Context, raw string) ([]domain.Product, error) {
	query, err := sanitize.SearchQuery(raw)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return filterProducts(products, query), nil
}

func filterProducts(products []domain.Product, query string) []domain.Product {
	query = strings.ToLower(query)
	out := []domain.Product{}
	for _, p := range products {
		if query == "" ||
			strings.Contains(strings.ToLower(p.Name), query) ||
			strings.Contains(strings.ToLower(p.Slug), query) ||
			strings.Contains(strings.ToLower(p.Description), query) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
