package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/cleanline/api/internal/domain"
	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/repositories"
)

const (
	catalogsCollection     = "catalogs"
	defaultCatalogDocument = "current"
)

// CatalogRepository reads the published catalog from a single document.
type CatalogRepository struct {
	base     *pfirestore.BaseRepository[repositories.CatalogDocument]
	document string
}

// NewCatalogRepository binds the repository to catalogs/{document}.
func NewCatalogRepository(provider *pfirestore.Provider, document string) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	document = strings.TrimSpace(document)
	if document == "" {
		document = defaultCatalogDocument
	}
	return &CatalogRepository{
		base:     pfirestore.NewBaseRepository[repositories.CatalogDocument](provider, catalogsCollection, nil, nil),
		document: document,
	}, nil
}

func (r *CatalogRepository) Load(ctx context.Context) (domain.Catalog, error) {
	doc, err := r.base.Get(ctx, r.document)
	if err != nil {
		return domain.Catalog{}, err
	}
	catalog, err := doc.Data.ToDomain()
	if err != nil {
		return domain.Catalog{}, err
	}
	if catalog.UpdatedAt.IsZero() {
		catalog.UpdatedAt = doc.UpdateTime.UTC()
	}
	return catalog, nil
}
