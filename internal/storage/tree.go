package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
)

// Tree is the read and delete side of the data directory.
type Tree struct {
	resolver *Resolver
}

func NewTree(resolver *Resolver) *Tree {
	return &Tree{resolver: resolver}
}

// List describes rel: a single entry for a file, the children for a
// directory, sorted by name.
func (t *Tree) List(rel string) ([]models.PathResource, bool, error) {
	abs, err := t.resolver.Data(rel)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, false, notFound(rel, err)
	}

	if !info.IsDir() {
		return []models.PathResource{{
			Name:             info.Name(),
			LastModifiedTime: info.ModTime().Unix(),
			Size:             info.Size(),
			Directory:        false,
			Path:             t.resolver.Display(abs),
			ProtectedFolder:  !t.resolver.IsPublic(abs),
		}}, true, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, false, fmt.Errorf("read dir %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]models.PathResource, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		p := filepath.Join(abs, e.Name())
		out = append(out, models.PathResource{
			Name:             e.Name(),
			LastModifiedTime: fi.ModTime().Unix(),
			Size:             fi.Size(),
			Directory:        fi.IsDir(),
			Path:             t.resolver.Display(p),
			ProtectedFolder:  !t.resolver.IsPublic(p),
		})
	}
	return out, false, nil
}

// Delete removes a file or a whole subtree. It reports false when nothing
// existed at rel. The base directory itself cannot be deleted.
func (t *Tree) Delete(rel string) (bool, error) {
	abs, err := t.resolver.Data(rel)
	if err != nil {
		return false, err
	}
	if abs == t.resolver.Base() {
		return false, fmt.Errorf("%w: refusing to delete the base directory", models.ErrPathTraversal)
	}

	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}

	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", rel, err)
	}
	return true, nil
}

// File resolves rel to an existing regular file for serving.
func (t *Tree) File(rel string) (string, error) {
	abs, err := t.resolver.Data(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", notFound(rel, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a file", models.ErrNotFound, rel)
	}
	return abs, nil
}

// PublicFile is File restricted to the public zone.
func (t *Tree) PublicFile(rel string) (string, error) {
	abs, err := t.File(rel)
	if err != nil {
		return "", err
	}
	if !t.resolver.IsPublic(abs) || abs == t.resolver.PublicRoot() {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, rel)
	}
	return abs, nil
}

func notFound(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, rel)
	}
	return fmt.Errorf("stat %s: %w", rel, err)
}
