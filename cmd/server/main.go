package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/cmd/middleware"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/api"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/api/handlers"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/archive"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/configuration"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/services"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/storage"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const scanWorkers = 2

func main() {
	cfg, err := configuration.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("shut down gracefully")
}

func run(ctx context.Context, cfg *configuration.Config, logger *zap.Logger) error {
	setGinMode(cfg.Server.GinMode)

	if cfg.Tracing.Enabled {
		tracer.Start(
			tracer.WithService(cfg.Tracing.ServiceName),
			tracer.WithEnv(cfg.Tracing.Env),
		)
		defer tracer.Stop()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return api.Serve(ctx, logger,
		api.Listener{Name: "internal", Addr: ":" + cfg.Server.InternalPort, Handler: a.internal},
		api.Listener{Name: "public", Addr: ":" + cfg.Server.PublicPort, Handler: a.public},
	)
}

// app is the wired service: both engines plus whatever must be released on exit.
type app struct {
	internal *gin.Engine
	public   *gin.Engine
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *configuration.Config, logger *zap.Logger) (*app, error) {
	logger = logging.OrNop(logger)
	a := &app{}

	resolver, err := storage.NewResolver(cfg.Layout)
	if err != nil {
		return nil, err
	}
	writer := storage.NewWriter(storage.WriterOptions{
		BufferSize:       cfg.Upload.BufferBytes,
		CleanupOnFailure: cfg.Upload.CleanupOnFailure,
		Logger:           logger.Named("writer"),
	})

	deps := handlers.Deps{
		Resolver:       resolver,
		Tree:           storage.NewTree(resolver),
		Ingestor:       upload.NewIngestor(resolver, writer, logger.Named("upload")),
		Codec:          archive.NewCodec(resolver, writer, logger.Named("archive")),
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Logger:         logger.Named("http"),
	}
	a.connectIntegrations(ctx, cfg, logger, &deps)

	var auth gin.HandlerFunc
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled, internal API is open")
	} else {
		verifier, err := middleware.NewVerifier(ctx, cfg.Auth)
		if err != nil {
			a.close()
			return nil, err
		}
		auth = middleware.RequireAuth(verifier, logger.Named("auth"))
	}

	h := handlers.New(deps)
	opts := api.Options{
		Auth:      auth,
		RateLimit: middleware.RateLimit(cfg.Server.RateLimitPerMinute),
		Tracing:   cfg.Tracing,
		Logger:    logger.Named("access"),
	}
	a.internal = api.RegisterInternalRoutes(h, opts)
	a.public = api.RegisterPublicRoutes(h, cfg.CORS, api.Options{Tracing: cfg.Tracing, Logger: opts.Logger})
	return a, nil
}

// connectIntegrations wires the optional backends. A backend that cannot be
// reached is logged and left out; the file service keeps working without it.
func (a *app) connectIntegrations(ctx context.Context, cfg *configuration.Config, logger *zap.Logger, deps *handlers.Deps) {
	if cfg.NATSURL != "" {
		if p, err := services.ConnectNATS(cfg.NATSURL, logger); err != nil {
			logger.Warn("events disabled", zap.Error(err))
		} else {
			deps.Events = p
			a.closers = append(a.closers, p.Close)
		}
	}

	if cfg.MinIO.Endpoint != "" {
		if m, err := services.NewMinioMirror(ctx, cfg.MinIO, logger); err != nil {
			logger.Warn("archive mirror disabled", zap.Error(err))
		} else {
			deps.Mirror = m
		}
	}

	if cfg.Database.Enabled() {
		if au, err := services.NewPostgresAuditor(ctx, cfg.Database.ConnectionString(), logger); err != nil {
			logger.Warn("audit log disabled", zap.Error(err))
		} else {
			deps.Audit = au
			a.closers = append(a.closers, func() { au.Close() })
		}
	}

	if cfg.CLAMAVURL != "" {
		q := services.NewQuarantine(cfg.CLAMAVURL, deps.Events, logger)
		q.Start(scanWorkers)
		deps.Quarantine = q
		a.closers = append(a.closers, q.Stop)
	}
}

func setGinMode(mode string) {
	switch strings.ToLower(mode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}
