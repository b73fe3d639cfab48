// Package upload turns a streamed multipart request into files on disk.
//
// Fields are consumed in arrival order. The scalar fields path, protected and
// filename decide where the file part goes, so they must arrive before it:
//
//	path=cms/static/images
//	protected=false
//	filename=logo.png
//	file=<bytes>
//
// The payload is never buffered beyond one chunk.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/storage"
	"go.uber.org/zap"
)

// Field names of the upload form.
const (
	FieldPath      = "path"
	FieldProtected = "protected"
	FieldFilename  = "filename"
	FieldFile      = "file"
)

const maxScalarBytes = 4 << 10

// State is the position of the ingestor in the field sequence.
type State int

const (
	AwaitingPath State = iota
	AwaitingProtection
	AwaitingFilename
	ReceivingFile
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingPath:
		return "AwaitingPath"
	case AwaitingProtection:
		return "AwaitingProtection"
	case AwaitingFilename:
		return "AwaitingFilename"
	case ReceivingFile:
		return "ReceivingFile"
	case Done:
		return "Done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Ingestor drives the resolver and writer for one request at a time. It is
// safe for concurrent use; all per-request state lives in a session.
type Ingestor struct {
	resolver *storage.Resolver
	writer   *storage.Writer
	log      *zap.Logger
	now      func() time.Time
}

func NewIngestor(resolver *storage.Resolver, writer *storage.Writer, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		resolver: resolver,
		writer:   writer,
		log:      logging.OrNop(logger),
		now:      time.Now,
	}
}

// session holds what has been observed so far in one request.
type session struct {
	state State

	pathValue    string
	pathSeen     bool
	protected    bool
	protectedRaw string
	protSeen     bool
	filename     string
	filenameSeen bool
	isDirectory  bool

	isArchive bool
	finalPath string

	stored []models.StoredFileDescriptor
}

func (s *session) routed() bool { return s.finalPath != "" }

// advance recomputes the state from the fields seen so far.
func (s *session) advance() {
	switch {
	case !s.pathSeen:
		s.state = AwaitingPath
	case !s.protSeen && s.pathValue != storage.ArchiveSegment:
		s.state = AwaitingProtection
	case !s.filenameSeen:
		s.state = AwaitingFilename
	default:
		s.state = ReceivingFile
	}
}

// Ingest consumes every part of mr. It returns one descriptor per stored file,
// or a single descriptor for the ensured directory when no file was written.
// The first error aborts the request; files already written stay on disk.
func (i *Ingestor) Ingest(ctx context.Context, mr *multipart.Reader) ([]models.StoredFileDescriptor, error) {
	s := &session{state: AwaitingPath}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedField, err)
		}

		err = i.field(ctx, s, part)
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	return i.finish(s)
}

func (i *Ingestor) field(ctx context.Context, s *session, part *multipart.Part) error {
	name := part.FormName()
	switch name {
	case FieldPath:
		v, err := scalar(part)
		if err != nil {
			return err
		}
		s.pathValue, s.pathSeen = v, true
		return i.route(s)

	case FieldProtected:
		v, err := scalar(part)
		if err != nil {
			return err
		}
		s.protectedRaw, s.protSeen = v, true
		return i.route(s)

	case FieldFilename:
		v, err := scalar(part)
		if err != nil {
			return err
		}
		s.filename, s.filenameSeen = v, true
		s.isDirectory = v == ""
		s.advance()
		return nil

	case FieldFile:
		return i.file(ctx, s, part)

	default:
		i.log.Debug("ignoring unknown upload field", zap.String("field", name))
		_, err := io.Copy(io.Discard, part)
		return err
	}
}

// route derives the destination as soon as both path and protected are
// known, or immediately for the archives path.
func (i *Ingestor) route(s *session) error {
	defer s.advance()

	if !s.pathSeen {
		return nil
	}
	if s.pathValue == storage.ArchiveSegment {
		dir, err := i.resolver.Resolve("", false, true)
		if err != nil {
			return err
		}
		s.isArchive, s.finalPath = true, dir
		return nil
	}
	if !s.protSeen {
		return nil
	}

	protected, err := parseProtected(s.protectedRaw)
	if err != nil {
		return err
	}
	dir, err := i.resolver.Resolve(s.pathValue, protected, false)
	if err != nil {
		return err
	}
	s.isArchive, s.protected, s.finalPath = false, protected, dir
	return nil
}

func (i *Ingestor) file(ctx context.Context, s *session, part *multipart.Part) error {
	if s.isDirectory {
		i.log.Debug("directory upload, skipping file part", zap.String("path", s.finalPath))
		_, err := io.Copy(io.Discard, part)
		return err
	}
	if !s.routed() {
		return fmt.Errorf("%w: file part received in state %s", models.ErrMissingRoutingFields, s.state)
	}

	filename := s.filename
	if !s.filenameSeen {
		filename = part.FileName()
	}
	if filename == "" {
		return fmt.Errorf("%w: file part has no filename", models.ErrMalformedField)
	}
	dst, err := i.resolver.Join(s.finalPath, filename)
	if err != nil {
		return err
	}
	if err := i.resolver.Confine(dst); err != nil {
		return err
	}

	s.state = ReceivingFile
	n, err := i.writer.Write(ctx, dst, part)
	if err != nil {
		return err
	}
	s.advance()

	i.log.Info("file stored",
		zap.String("path", i.resolver.Display(dst)),
		zap.Int64("bytes", n),
		zap.Bool("archive", s.isArchive),
	)
	d := i.descriptor(s, storage.SanitizeFilename(filename), n)
	d.Written = true
	s.stored = append(s.stored, d)
	return nil
}

func (i *Ingestor) finish(s *session) ([]models.StoredFileDescriptor, error) {
	s.state = Done
	if len(s.stored) > 0 {
		return s.stored, nil
	}
	if !s.routed() {
		return nil, fmt.Errorf("%w: no destination established", models.ErrMissingRoutingFields)
	}
	return []models.StoredFileDescriptor{i.descriptor(s, s.filename, 0)}, nil
}

func (i *Ingestor) descriptor(s *session, filename string, size int64) models.StoredFileDescriptor {
	d := models.StoredFileDescriptor{
		Status:     models.StatusOk,
		Filename:   filename,
		StoredPath: i.resolver.Display(s.finalPath),
		Timestamp:  i.now().Unix(),
		Size:       size,
	}
	if !s.isArchive {
		p := s.protected
		d.Protected = &p
	}
	return d
}

func scalar(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxScalarBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrMalformedField, part.FormName(), err)
	}
	if len(b) > maxScalarBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", models.ErrMalformedField, part.FormName(), maxScalarBytes)
	}
	return strings.TrimSpace(string(b)), nil
}

func parseProtected(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: got %q", models.ErrInvalidProtectedFlag, v)
}
