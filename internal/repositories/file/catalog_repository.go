// Package file loads reference data from files shipped next to the binary.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

// CatalogRepository reads the catalog from a YAML document. The file is re-read on every Load so edits
// are picked up by the next catalog refresh.
type CatalogRepository struct {
	path     string
	readFile func(string) ([]byte, error)
}

// NewCatalogRepository binds the repository to path.
func NewCatalogRepository(path string) (*CatalogRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file catalog: path is required")
	}
	return &CatalogRepository{path: path, readFile: os.ReadFile}, nil
}

// NewCatalogRepositoryFS reads path from fsys instead of the OS file system.
func NewCatalogRepositoryFS(fsys fs.FS, path string) (*CatalogRepository, error) {
	if fsys == nil {
		return nil, errors.New("file catalog: file system is required")
	}
	repo, err := NewCatalogRepository(path)
	if err != nil {
		return nil, err
	}
	repo.readFile = func(name string) ([]byte, error) { return fs.ReadFile(fsys, name) }
	return repo, nil
}

func (r *CatalogRepository) Load(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}
	data, err := r.readFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Catalog{}, repositories.NewStoreError("catalog.load", repositories.ErrorKindNotFound, err)
		}
		return domain.Catalog{}, repositories.NewStoreError("catalog.load", repositories.ErrorKindUnavailable, err)
	}
	return DecodeCatalog(data)
}

// DecodeCatalog parses a YAML catalog. Unknown keys are rejected to catch typos in hand edited files.
func DecodeCatalog(data []byte) (domain.Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc repositories.CatalogDocument
	if err := decoder.Decode(&doc); err != nil {
		return domain.Catalog{}, fmt.Errorf("file catalog: decode: %w", err)
	}
	return doc.ToDomain()
}
