package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTree(t *testing.T, r *Resolver, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(r.Base(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func TestTreeList(t *testing.T) {
	r := newTestResolver(t)
	seedTree(t, r, map[string]string{
		"public/cms/b.txt":    "bb",
		"public/cms/a.txt":    "a",
		"public/cms/sub/c":    "c",
		"protected/secret.md": "s",
	})
	tree := NewTree(r)

	items, isFile, err := tree.List("public/cms")
	require.NoError(t, err)
	assert.False(t, isFile)
	require.Len(t, items, 3)
	assert.Equal(t, "a.txt", items[0].Name)
	assert.Equal(t, "b.txt", items[1].Name)
	assert.Equal(t, int64(2), items[1].Size)
	assert.True(t, items[2].Directory)
	assert.False(t, items[0].ProtectedFolder)

	items, isFile, err = tree.List("protected/secret.md")
	require.NoError(t, err)
	assert.True(t, isFile)
	require.Len(t, items, 1)
	assert.True(t, items[0].ProtectedFolder)

	_, _, err = tree.List("public/nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, _, err = tree.List("../")
	assert.ErrorIs(t, err, models.ErrPathTraversal)
}

func TestTreeDelete(t *testing.T) {
	r := newTestResolver(t)
	seedTree(t, r, map[string]string{
		"public/cms/a.txt":   "a",
		"public/cms/sub/b":   "b",
		"public/keep/me.txt": "k",
	})
	tree := NewTree(r)

	ok, err := tree.Delete("public/cms/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tree.Delete("public/cms")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = os.Stat(filepath.Join(r.Base(), "public", "cms"))
	assert.True(t, os.IsNotExist(err))

	ok, err = tree.Delete("public/cms")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tree.Delete("")
	assert.ErrorIs(t, err, models.ErrPathTraversal)

	_, err = os.Stat(filepath.Join(r.Base(), "public", "keep", "me.txt"))
	assert.NoError(t, err)
}

func TestTreeFile(t *testing.T) {
	r := newTestResolver(t)
	seedTree(t, r, map[string]string{
		"public/site/index.html": "<html/>",
		"protected/doc.pdf":      "%PDF",
	})
	tree := NewTree(r)

	p, err := tree.PublicFile("public/site/index.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Base(), "public", "site", "index.html"), p)

	_, err = tree.PublicFile("protected/doc.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = tree.File("protected/doc.pdf")
	assert.NoError(t, err)

	_, err = tree.File("public/site")
	assert.ErrorIs(t, err, models.ErrNotFound, "directories are not served")
}
