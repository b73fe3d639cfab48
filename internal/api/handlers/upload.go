package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Upload streams a multipart form to disk and returns one descriptor per
// stored file.
func (h *Handler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", models.ErrMalformedField, err))
		return
	}

	stored, err := h.ingestor.Ingest(c.Request.Context(), mr)
	if err != nil {
		h.log.Warn("upload failed", zap.Error(err))
		writeError(c, err)
		return
	}

	for _, d := range stored {
		if !d.Written {
			continue
		}
		h.record(c, models.SubjectFileUploaded, models.Event{
			Action:    "upload",
			Path:      d.StoredPath,
			Filename:  d.Filename,
			Size:      d.Size,
			Protected: d.Protected,
		})
		if h.quarantine != nil {
			h.quarantine.Submit(services.ScanJob{
				Path:      filepath.Join(filepath.FromSlash(d.StoredPath), d.Filename),
				Display:   d.StoredPath + "/" + d.Filename,
				Filename:  d.Filename,
				Protected: d.Protected,
			})
		}
	}

	c.JSON(http.StatusOK, stored)
}
