package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 32 << 10
	filePerm          = 0o644
)

type WriterOptions struct {
	// BufferSize is the size of the single chunk buffer. Zero means 32 KiB.
	BufferSize int
	// CleanupOnFailure removes the destination when a write fails. Partial
	// files are kept by default.
	CleanupOnFailure bool
	Logger           *zap.Logger
}

// Writer streams a payload to disk with memory bounded by one chunk.
type Writer struct {
	bufSize int
	cleanup bool
	log     *zap.Logger
}

func NewWriter(opts WriterOptions) *Writer {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Writer{
		bufSize: size,
		cleanup: opts.CleanupOnFailure,
		log:     logging.OrNop(opts.Logger),
	}
}

// Write creates dst once and appends src to it chunk by chunk, in order. It
// returns the number of bytes durably written.
func (w *Writer) Write(ctx context.Context, dst string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", models.ErrFileCreate, dst, err)
	}

	n, err := w.copy(ctx, f, src)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		w.fail(dst, n, err)
		return n, fmt.Errorf("%w: %s after %d bytes: %w", models.ErrWrite, dst, n, err)
	}
	return n, nil
}

func (w *Writer) copy(ctx context.Context, f *os.File, src io.Reader) (int64, error) {
	buf := make([]byte, w.bufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := f.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (w *Writer) fail(dst string, n int64, err error) {
	if !w.cleanup {
		w.log.Warn("partial file left on disk", zap.String("path", dst), zap.Int64("bytes", n), zap.Error(err))
		return
	}
	if rerr := os.Remove(dst); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		w.log.Error("cleanup of partial file failed", zap.String("path", dst), zap.Error(rerr))
		return
	}
	w.log.Info("partial file removed", zap.String("path", dst), zap.Int64("bytes", n))
}
