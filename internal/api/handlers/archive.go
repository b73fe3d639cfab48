package handlers

import (
	"net/http"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Compress packs the given base-relative path into the fixed archive.
func (h *Handler) Compress(c *gin.Context) {
	source := param(c, "path")

	res, err := h.codec.Pack(c.Request.Context(), source)
	if err != nil {
		h.log.Warn("compress failed", zap.String("source", source), zap.Error(err))
		writeError(c, err)
		return
	}

	if err := h.mirror.Mirror(c.Request.Context(), h.codec.ArchivePath()); err != nil {
		h.log.Warn("mirror archive", zap.Error(err))
	}
	h.record(c, models.SubjectArchivePacked, models.Event{
		Action: "compress",
		Path:   res.Path,
		Detail: source,
		Size:   int64(res.Entries),
	})
	c.JSON(http.StatusOK, res)
}

// Decompress extracts an archive from the archives directory into the base
// directory and deletes it.
func (h *Handler) Decompress(c *gin.Context) {
	name := c.Param("filename")

	res, err := h.codec.Unpack(c.Request.Context(), name)
	if err != nil {
		h.log.Warn("decompress failed", zap.String("archive", name), zap.Error(err))
		writeError(c, err)
		return
	}

	h.record(c, models.SubjectArchiveUnpacked, models.Event{
		Action: "decompress",
		Path:   res.Path,
		Detail: name,
		Size:   int64(res.Entries),
	})
	c.JSON(http.StatusOK, res)
}
