package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/configuration"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
)

// ArchiveSegment is the logical upload path that routes to the archive
// staging directory regardless of protection.
const ArchiveSegment = "archives"

const dirPerm = 0o755

// Resolver maps logical paths onto the data tree. All returned paths are
// absolute and guaranteed to be inside the base directory.
type Resolver struct {
	layout    configuration.Layout
	base      string
	public    string
	protected string
	archives  string
}

func NewResolver(layout configuration.Layout) (*Resolver, error) {
	base, err := filepath.Abs(layout.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir %q: %w", layout.BaseDir, err)
	}
	return &Resolver{
		layout:    layout,
		base:      base,
		public:    filepath.Join(base, layout.PublicDir),
		protected: filepath.Join(base, layout.ProtectedDir),
		archives:  filepath.Join(base, layout.ArchivesDir),
	}, nil
}

func (r *Resolver) Base() string        { return r.base }
func (r *Resolver) PublicRoot() string  { return r.public }
func (r *Resolver) ArchivesDir() string { return r.archives }
func (r *Resolver) ArchiveName() string { return r.layout.ArchiveName }

// Resolve returns the directory for an upload and creates it.
func (r *Resolver) Resolve(segment string, protected, isArchive bool) (string, error) {
	root := r.public
	switch {
	case isArchive:
		root = r.archives
		segment = ""
	case protected:
		root = r.protected
	}

	dir, err := within(root, segment)
	if err != nil {
		return "", err
	}
	if err := r.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureDir is os.MkdirAll with the error taxonomy applied. It refuses to
// create anything below a symlink that leaves the base directory.
func (r *Resolver) EnsureDir(dir string) error {
	if err := r.Confine(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrDirectoryCreation, r.Display(dir), err)
	}
	return nil
}

// Confine checks that p still lands inside the base directory once the
// symlinks already on disk are followed. The deepest existing component of p
// is resolved; components that do not exist yet cannot redirect anything.
func (r *Resolver) Confine(p string) error {
	base, err := filepath.EvalSymlinks(r.base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}

	for cur := p; ; cur = filepath.Dir(cur) {
		if _, err := os.Lstat(cur); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
				return fmt.Errorf("stat %s: %w", r.Display(cur), err)
			}
			if filepath.Dir(cur) == cur {
				return nil
			}
			continue
		}
		real, err := filepath.EvalSymlinks(cur)
		if err != nil {
			// dangling link
			return fmt.Errorf("%w: %s: %w", models.ErrPathTraversal, r.Display(p), err)
		}
		if !contains(base, real) {
			return fmt.Errorf("%w: %s resolves outside the base directory", models.ErrPathTraversal, r.Display(p))
		}
		return nil
	}
}

// Join places an untrusted filename inside dir.
func (r *Resolver) Join(dir, filename string) (string, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: filename %q", models.ErrPathTraversal, filename)
	}
	p := filepath.Join(dir, name)
	if filepath.Dir(p) != filepath.Clean(dir) {
		return "", fmt.Errorf("%w: filename %q", models.ErrPathTraversal, filename)
	}
	return p, nil
}

// Data resolves a base-relative path such as "public/cms/logo.png" without
// touching the filesystem. An empty path is the base itself.
func (r *Resolver) Data(rel string) (string, error) {
	return within(r.base, rel)
}

// Rel returns abs relative to the base directory, slash separated.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.base, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Display renders abs the way clients see it: under the configured base dir.
func (r *Resolver) Display(abs string) string {
	rel := r.Rel(abs)
	if rel == "." {
		return filepath.ToSlash(filepath.Clean(r.layout.BaseDir))
	}
	return filepath.ToSlash(filepath.Join(r.layout.BaseDir, rel))
}

// IsPublic reports whether abs lies in the public zone.
func (r *Resolver) IsPublic(abs string) bool {
	return contains(r.public, abs)
}

// within joins a logical, slash-separated segment onto root, rejecting any
// component that could leave root.
func within(root, segment string) (string, error) {
	if strings.ContainsAny(segment, "\x00\\") {
		return "", fmt.Errorf("%w: %q", models.ErrPathTraversal, segment)
	}

	parts := make([]string, 0, 8)
	for _, part := range strings.Split(segment, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", models.ErrPathTraversal, segment)
		}
		parts = append(parts, part)
	}

	p := filepath.Join(append([]string{root}, parts...)...)
	if !contains(root, p) {
		return "", fmt.Errorf("%w: %q", models.ErrPathTraversal, segment)
	}
	return p, nil
}

func contains(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
