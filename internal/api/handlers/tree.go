package handlers

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/gin-gonic/gin"
)

const apiPrefix = "/api/v1/"

// List returns the children of a directory, or the entry itself for a file.
func (h *Handler) List(c *gin.Context) {
	items, isFile, err := h.tree.List(param(c, "path"))
	if err != nil {
		writeError(c, err)
		return
	}
	if isFile {
		c.JSON(http.StatusOK, items[0])
		return
	}
	c.JSON(http.StatusOK, items)
}

// Delete removes a file or a whole directory. A missing path is reported
// as KO, not as an error.
func (h *Handler) Delete(c *gin.Context) {
	rel := param(c, "path")

	deleted, err := h.tree.Delete(rel)
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusOK, gin.H{"status": "KO"})
		return
	}

	h.record(c, models.SubjectFileDeleted, models.Event{
		Action: "delete",
		Path:   rel,
	})
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// ServeProtected serves any file under the base directory from /api/v1/...
func (h *Handler) ServeProtected(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	rel, ok := strings.CutPrefix(c.Request.URL.Path, apiPrefix)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": models.StatusKo, "error": "not found"})
		return
	}

	p, err := h.tree.File(rel)
	if err != nil {
		writeError(c, err)
		return
	}
	serveFile(c, p)
}

// ServePublic serves files of the public zone. Everything else is forbidden.
func (h *Handler) ServePublic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.AbortWithStatus(http.StatusMethodNotAllowed)
		return
	}
	rel := strings.TrimPrefix(c.Request.URL.Path, "/")
	if !strings.HasPrefix(rel, h.publicPrefix()) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"status": models.StatusKo,
			"error":  "You are not allowed to get this protected resource",
		})
		return
	}

	p, err := h.tree.PublicFile(rel)
	if err != nil {
		writeError(c, err)
		return
	}
	serveFile(c, p)
}

// serveFile writes the file at p with range and conditional request support.
// http.ServeFile is not used: it redirects every .../index.html to its
// directory.
func serveFile(c *gin.Context, p string) {
	f, err := os.Open(p)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %s", models.ErrNotFound, c.Request.URL.Path))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(c, err)
		return
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func (h *Handler) publicPrefix() string {
	return h.resolver.Rel(h.resolver.PublicRoot()) + "/"
}
