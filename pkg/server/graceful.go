package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server         *http.Server
	tlsConfig      *tls.Config
	logger         logging.Logger
	listener       net.Listener
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:     logger.With(logging.Component("admin")),
		shutdownCh: make(chan struct{}),
	}
}

// SetTLSConfig makes the server speak HTTPS. Call before Listen.
func (gs *GracefulServer) SetTLSConfig(cfg *tls.Config) {
	gs.tlsConfig = cfg
}

// Listen binds the listening socket so Addr is known before serving.
func (gs *GracefulServer) Listen() error {
	if gs.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	if gs.tlsConfig != nil {
		ln = tls.NewListener(ln, gs.tlsConfig)
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (gs *GracefulServer) Addr() string {
	if gs.listener != nil {
		return gs.listener.Addr().String()
	}
	return gs.server.Addr
}

// Start serves until Shutdown.
func (gs *GracefulServer) Start() error {
	if err := gs.Listen(); err != nil {
		return err
	}

	gs.logger.Info("admin server listening",
		logging.String("addr", gs.Addr()),
		logging.Bool("tls", gs.tlsConfig != nil))
	if err := gs.server.Serve(gs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until ctx is done, then shuts down within timeout.
func (gs *GracefulServer) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- gs.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := gs.Shutdown(timeout); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("error during shutdown", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("server shutdown complete")
		}
	})
	return err
}

// WatchSignals calls stop on SIGINT or SIGTERM and reloads configuration
// on SIGHUP, until ctx is done.
func (gs *GracefulServer) WatchSignals(ctx context.Context, stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				gs.logger.Info("received SIGHUP, reloading configuration")
				_ = gs.ReloadConfig()
			default:
				gs.logger.Info("received signal, stopping", logging.String("signal", sig.String()))
				stop()
				return
			}
		}
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}
