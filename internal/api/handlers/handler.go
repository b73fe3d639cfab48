package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/archive"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/services"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/storage"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP handlers. Optional integrations may
// be left nil.
type Deps struct {
	Resolver       *storage.Resolver
	Tree           *storage.Tree
	Ingestor       *upload.Ingestor
	Codec          *archive.Codec
	Events         services.EventPublisher
	Audit          services.Auditor
	Mirror         services.ArchiveMirror
	Quarantine     *services.Quarantine
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Handler struct {
	resolver   *storage.Resolver
	tree       *storage.Tree
	ingestor   *upload.Ingestor
	codec      *archive.Codec
	events     services.EventPublisher
	audit      services.Auditor
	mirror     services.ArchiveMirror
	quarantine *services.Quarantine
	maxUpload  int64
	log        *zap.Logger
}

func New(d Deps) *Handler {
	h := &Handler{
		resolver:   d.Resolver,
		tree:       d.Tree,
		ingestor:   d.Ingestor,
		codec:      d.Codec,
		events:     d.Events,
		audit:      d.Audit,
		mirror:     d.Mirror,
		quarantine: d.Quarantine,
		maxUpload:  d.MaxUploadBytes,
		log:        logging.OrNop(d.Logger),
	}
	if h.events == nil {
		h.events = services.NopPublisher{}
	}
	if h.audit == nil {
		h.audit = services.NopAuditor{}
	}
	if h.mirror == nil {
		h.mirror = services.NopMirror{}
	}
	return h
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// connChecker is implemented by integrations that hold a live connection.
type connChecker interface {
	CheckConnection(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

// Ready checks every connected integration. Integrations that were left out
// at startup are not reported.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	status, checks := http.StatusOK, gin.H{}
	for name, dep := range map[string]any{"events": h.events, "audit": h.audit, "mirror": h.mirror} {
		cc, ok := dep.(connChecker)
		if !ok {
			continue
		}
		if err := cc.CheckConnection(ctx); err != nil {
			h.log.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	if status != http.StatusOK {
		c.JSON(status, gin.H{"status": models.StatusKo, "checks": checks})
		return
	}
	c.JSON(status, gin.H{"status": "ok", "checks": checks})
}

// record publishes the event and appends the audit row. Neither can fail the
// request; the data tree has already changed.
func (h *Handler) record(c *gin.Context, subject string, ev models.Event) {
	ev.At = time.Now().UTC()
	ctx := context.WithoutCancel(c.Request.Context())

	if err := h.events.Publish(ctx, subject, ev); err != nil {
		h.log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
	err := h.audit.Record(ctx, models.AuditEntry{
		Action:    ev.Action,
		Path:      ev.Path,
		Filename:  ev.Filename,
		Size:      ev.Size,
		Protected: ev.Protected,
		RequestID: logging.RequestID(c),
		At:        ev.At,
	})
	if err != nil {
		h.log.Warn("audit", zap.String("action", ev.Action), zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrSourceNotFound),
		errors.Is(err, models.ErrArchiveNotFound):
		status = http.StatusNotFound
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrPathTraversal),
		errors.Is(err, models.ErrUnsafeArchiveEntry),
		errors.Is(err, models.ErrMalformedArchive),
		errors.Is(err, models.ErrMissingRoutingFields),
		errors.Is(err, models.ErrInvalidProtectedFlag),
		errors.Is(err, models.ErrMalformedField):
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"status": models.StatusKo, "error": err.Error()})
}

// param returns a catch-all route parameter without its leading slash.
func param(c *gin.Context, name string) string {
	return strings.TrimPrefix(c.Param(name), "/")
}
