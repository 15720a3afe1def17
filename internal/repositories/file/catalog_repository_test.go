package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

func TestCatalogRepositoryLoad(t *testing.T) {
	repo, err := NewCatalogRepository(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)

	catalog, err := repo.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-03", catalog.Version)
	assert.Equal(t, "EUR", catalog.Currency)
	assert.Equal(t, 3, catalog.PhotoLimit())
	assert.Len(t, catalog.Categories, 3)
	assert.False(t, catalog.UpdatedAt.IsZero())

	duvet, ok := catalog.Item("duvet-kg")
	require.True(t, ok)
	assert.Equal(t, domain.UnitKilogram, duvet.Unit)
	assert.True(t, duvet.UnitPrice.Equal(decimal.RequireFromString("12.5")))

	express, ok := catalog.Urgency("express")
	require.True(t, ok)
	assert.Equal(t, domain.ModifierKindUrgency, express.Kind)
	assert.Equal(t, 24, express.TurnaroundHours)

	def, ok := catalog.DefaultUrgency()
	require.True(t, ok)
	assert.Equal(t, "standard", def.ID)

	manager, ok := catalog.Discount("manager")
	require.True(t, ok)
	require.NotNil(t, manager.MinValue)
	require.NotNil(t, manager.MaxValue)
	assert.True(t, manager.MaxValue.Equal(decimal.NewFromInt(30)))

	delicate, ok := catalog.ItemModifier("delicate")
	require.True(t, ok)
	assert.True(t, delicate.AppliesTo("shirts"))
	assert.False(t, delicate.AppliesTo("duvets"))
	stain, ok := catalog.ItemModifier("stain-removal")
	require.True(t, ok)
	assert.True(t, stain.AppliesTo("duvets"))
	assert.Nil(t, stain.MinValue)
}

func TestCatalogRepositoryMissingFile(t *testing.T) {
	repo, err := NewCatalogRepository(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	_, err = repo.Load(context.Background())
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound())
}

func TestCatalogRepositoryPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: a\ncurrency: EUR\n"), 0o600))
	repo, err := NewCatalogRepository(path)
	require.NoError(t, err)

	first, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.Version)

	require.NoError(t, os.WriteFile(path, []byte("version: b\ncurrency: EUR\n"), 0o600))
	second, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.Version)
}

func TestDecodeCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "version: a\ncurency: EUR\n",
		"bad price":     "version: a\nitems:\n  - id: x\n    price: ten\n",
		"bad bound":     "version: a\ndiscounts:\n  - id: d\n    value: \"5\"\n    max: lots\n",
		"not a mapping": "- just\n- a list\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestCatalogRepositoryFS(t *testing.T) {
	fsys := fstest.MapFS{
		"catalogs/main.yaml": &fstest.MapFile{Data: []byte("version: fs\ncurrency: pln\n")},
	}
	repo, err := NewCatalogRepositoryFS(fsys, "catalogs/main.yaml")
	require.NoError(t, err)

	catalog, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fs", catalog.Version)
	assert.Equal(t, "PLN", catalog.Currency)

	_, err = NewCatalogRepositoryFS(nil, "x")
	assert.Error(t, err)
	_, err = NewCatalogRepository(" ")
	assert.Error(t, err)
}
