// Package archive packs a subtree of the data directory into one tar.gz file
// and extracts such files back into the data directory.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tmpSuffix = ".tmp"

type Codec struct {
	resolver *storage.Resolver
	writer   *storage.Writer
	log      *zap.Logger
}

func NewCodec(resolver *storage.Resolver, writer *storage.Writer, logger *zap.Logger) *Codec {
	return &Codec{
		resolver: resolver,
		writer:   writer,
		log:      logging.OrNop(logger),
	}
}

// ArchivePath is the fixed output of Pack.
func (c *Codec) ArchivePath() string {
	return filepath.Join(c.resolver.ArchivesDir(), c.resolver.ArchiveName())
}

// Pack archives source, a path relative to the base directory. Entry names
// are base-relative so Unpack restores them in place. The previous archive is
// replaced atomically.
func (c *Codec) Pack(ctx context.Context, source string) (models.ArchiveJobResult, error) {
	src, err := c.resolver.Data(source)
	if err != nil {
		return models.ArchiveJobResult{}, err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.ArchiveJobResult{}, fmt.Errorf("%w: %s", models.ErrSourceNotFound, source)
		}
		return models.ArchiveJobResult{}, fmt.Errorf("stat %s: %w", source, err)
	}

	if err := c.resolver.EnsureDir(c.resolver.ArchivesDir()); err != nil {
		return models.ArchiveJobResult{}, err
	}
	out := c.ArchivePath()
	tmp := filepath.Join(c.resolver.ArchivesDir(), "."+c.resolver.ArchiveName()+"."+uuid.NewString()+tmpSuffix)

	entries, err := c.packTo(ctx, src, tmp, out)
	if err != nil {
		os.Remove(tmp)
		return models.ArchiveJobResult{}, err
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return models.ArchiveJobResult{}, fmt.Errorf("publish archive: %w", err)
	}

	c.log.Info("archive packed",
		zap.String("source", c.resolver.Display(src)),
		zap.String("archive", c.resolver.Display(out)),
		zap.Int("entries", entries),
	)
	return models.ArchiveJobResult{
		Status:  models.StatusOk,
		Path:    c.resolver.Display(out),
		Entries: entries,
	}, nil
}

func (c *Codec) packTo(ctx context.Context, src, tmp, out string) (int, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", models.ErrFileCreate, c.resolver.Display(tmp), err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(gz)

	entries := 0
	walkErr := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.staged(p, out) {
			return nil
		}
		ok, err := c.addEntry(tw, p, d)
		if ok {
			entries++
		}
		return err
	})
	if walkErr != nil {
		return 0, fmt.Errorf("%w: pack: %w", models.ErrWrite, walkErr)
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("%w: tar: %w", models.ErrWrite, err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("%w: gzip: %w", models.ErrWrite, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync: %w", models.ErrWrite, err)
	}
	return entries, f.Close()
}

// staged reports the archive output and in-flight temp files, which must
// never end up inside an archive.
func (c *Codec) staged(p, out string) bool {
	if p == out {
		return true
	}
	if filepath.Dir(p) != c.resolver.ArchivesDir() {
		return false
	}
	name := filepath.Base(p)
	return strings.HasPrefix(name, "."+c.resolver.ArchiveName()+".") && strings.HasSuffix(name, tmpSuffix)
}

func (c *Codec) addEntry(tw *tar.Writer, p string, d fs.DirEntry) (bool, error) {
	name := c.resolver.Rel(p)
	if name == "." {
		// the base dir itself has no entry; its children are rooted at public/, protected/, ...
		return false, nil
	}

	info, err := d.Info()
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		c.log.Warn("skipping non-regular file", zap.String("path", c.resolver.Display(p)), zap.Stringer("mode", info.Mode()))
		return false, nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return false, err
	}
	if info.IsDir() {
		return true, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return false, err
	}
	return true, nil
}

// Unpack extracts archives/<name> into the base directory and removes it.
// Entries that would land outside the base directory abort the extraction;
// whatever was extracted before stays.
func (c *Codec) Unpack(ctx context.Context, name string) (models.ArchiveJobResult, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
		return models.ArchiveJobResult{}, fmt.Errorf("%w: archive name %q", models.ErrPathTraversal, name)
	}
	p := filepath.Join(c.resolver.ArchivesDir(), name)

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return models.ArchiveJobResult{}, fmt.Errorf("%w: %s", models.ErrArchiveNotFound, name)
	}
	if err != nil {
		return models.ArchiveJobResult{}, fmt.Errorf("open archive %s: %w", name, err)
	}

	entries, err := c.extract(ctx, f)
	f.Close()
	if err != nil {
		return models.ArchiveJobResult{}, err
	}

	if err := os.Remove(p); err != nil {
		return models.ArchiveJobResult{}, fmt.Errorf("%w: %s: %w", models.ErrArchiveRemove, name, err)
	}

	c.log.Info("archive unpacked",
		zap.String("archive", c.resolver.Display(p)),
		zap.Int("entries", entries),
	)
	return models.ArchiveJobResult{
		Status:  models.StatusOk,
		Path:    c.resolver.Display(c.resolver.Base()),
		Entries: entries,
	}, nil
}

func (c *Codec) extract(ctx context.Context, r io.Reader) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("%w: gzip: %w", models.ErrMalformedArchive, err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	entries := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return entries, fmt.Errorf("%w: %q", models.ErrUnsafeArchiveEntry, hdr.Name)
		}
		if err != nil {
			return entries, fmt.Errorf("%w: tar: %w", models.ErrMalformedArchive, err)
		}
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		target, err := c.target(hdr.Name)
		if err != nil {
			return entries, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := c.resolver.EnsureDir(target); err != nil {
				return entries, err
			}
		case tar.TypeReg:
			if err := c.extractFile(ctx, target, hdr, tr); err != nil {
				return entries, err
			}
		case tar.TypeSymlink, tar.TypeLink, tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			c.log.Warn("skipping archive entry", zap.String("name", hdr.Name), zap.String("type", string(hdr.Typeflag)))
			continue
		default:
			continue
		}
		entries++
	}
}

// target maps an entry name onto the base directory, following links that
// already exist in the tree.
func (c *Codec) target(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", models.ErrUnsafeArchiveEntry, name)
	}
	p, err := c.resolver.Data(strings.TrimSuffix(name, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", models.ErrUnsafeArchiveEntry, name, err)
	}
	if err := c.resolver.Confine(p); err != nil {
		return "", fmt.Errorf("%w: %q: %w", models.ErrUnsafeArchiveEntry, name, err)
	}
	return p, nil
}

func (c *Codec) extractFile(ctx context.Context, target string, hdr *tar.Header, r io.Reader) error {
	if target == c.resolver.Base() {
		return fmt.Errorf("%w: %q", models.ErrUnsafeArchiveEntry, hdr.Name)
	}
	if err := c.resolver.EnsureDir(filepath.Dir(target)); err != nil {
		return err
	}
	if _, err := c.writer.Write(ctx, target, r); err != nil {
		return err
	}
	if perm := hdr.FileInfo().Mode().Perm(); perm != 0 {
		if err := os.Chmod(target, perm); err != nil {
			c.log.Warn("restore mode", zap.String("path", c.resolver.Display(target)), zap.Error(err))
		}
	}
	if !hdr.ModTime.IsZero() {
		if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
			c.log.Warn("restore mtime", zap.String("path", c.resolver.Display(target)), zap.Error(err))
		}
	}
	return nil
}
