package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Listener is one named HTTP server.
type Listener struct {
	Name    string
	Addr    string
	Handler http.Handler

	// ln is set in tests to serve on a pre-bound socket.
	ln net.Listener
}

// Serve runs every listener until ctx is cancelled or one of them fails,
// then shuts all of them down gracefully.
func Serve(ctx context.Context, logger *zap.Logger, listeners ...Listener) error {
	logger = logging.OrNop(logger)
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		srv := &http.Server{
			Addr:              l.Addr,
			Handler:           l.Handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		l := l

		g.Go(func() error {
			logger.Info("listening", zap.String("listener", l.Name), zap.String("addr", l.Addr))
			var err error
			if l.ln != nil {
				err = srv.Serve(l.ln)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown", zap.String("listener", l.Name), zap.Error(err))
				return err
			}
			logger.Info("stopped", zap.String("listener", l.Name))
			return nil
		})
	}

	return g.Wait()
}
