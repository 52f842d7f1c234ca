package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"stockwatch/internal/clock"
	"stockwatch/internal/config"
	"stockwatch/internal/datasource"
	"stockwatch/internal/engine"
	"stockwatch/internal/ingest"
	"stockwatch/internal/logging"
	"stockwatch/internal/notify"
	"stockwatch/internal/transport"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 20 * time.Second
	readyTimeout    = 2 * time.Second
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable alerting service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	source    datasource.Source
	manager   *Manager
	hub       *transport.Hub
	natsPub   *transport.NATSPublisher
	natsSub   *ingest.NATSSubscriber
	mux       *http.ServeMux
	httpSrv   *http.Server
	readyFlag atomic.Bool
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service (not yet monitoring) or setup error.
func NewService(src config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(src)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", cfg.Service.Name)

	service := &Service{cfg: cfg, logger: logger, closeLog: closeLog}
	if err := service.build(clk); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

func (s *Service) build(clk clock.Clock) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	source, err := datasource.Open(ctx, s.cfg.DataSource, s.logger)
	if err != nil {
		return err
	}
	s.source = source

	dispatcher, err := notify.NewFromConfig(s.cfg.Notify, s.logger, clk)
	if err != nil {
		return err
	}

	sinks := []transport.Sink{transport.LogSink{Logger: s.logger}}
	if s.cfg.Transport.WebSocket.Enabled {
		s.hub = transport.NewHub(s.cfg.Transport.WebSocket.SendBuffer, s.logger)
		sinks = append(sinks, s.hub)
	}
	if s.cfg.Transport.NATS.Enabled {
		publisher, err := transport.NewNATSPublisher(s.cfg.Transport.NATS, s.logger)
		if err != nil {
			return err
		}
		s.natsPub = publisher
		sinks = append(sinks, publisher)
	}

	eng := engine.New(source, s.logger, clk)
	s.manager = NewManager(s.cfg, s.logger, eng, dispatcher, transport.NewFanout(sinks...), clk)
	if err := s.manager.InstallRules(); err != nil {
		return err
	}

	s.buildHTTPServer()
	return s.buildIngest()
}

// buildIngest attaches product update feeds to the memory data source.
func (s *Service) buildIngest() error {
	if !s.cfg.Ingest.Enabled() {
		return nil
	}
	memory, ok := s.source.(*datasource.Memory)
	if !ok {
		return errors.New("ingest feeds require memory datasource")
	}
	if s.cfg.Ingest.HTTP.Enabled {
		handler := ingest.NewHTTPHandler(memory, s.cfg.API.MaxBodyBytes, s.logger)
		s.mux.Handle("POST "+s.cfg.Ingest.HTTP.Path, handler)
	}
	if s.cfg.Ingest.NATS.Enabled {
		subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, memory, s.logger)
		if err != nil {
			return err
		}
		s.natsSub = subscriber
		s.logger.Info("nats product ingest subscribed", "subject", s.cfg.Ingest.NATS.Subject)
	}
	return nil
}

// Manager returns command surface used by API handlers.
func (s *Service) Manager() *Manager {
	return s.manager
}

// Logger returns service logger.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Config returns loaded configuration snapshot.
func (s *Service) Config() config.Config {
	return s.cfg
}

// Mount registers extra handler on service router; call before Run.
// Params: ServeMux pattern and handler.
// Returns: none.
func (s *Service) Mount(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Run starts HTTP server and monitoring, then blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	if s.cfg.API.Enabled {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.API.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	if s.cfg.Service.AutoStartEnabled() {
		if err := s.manager.Initialize(); err != nil {
			_ = s.shutdown()
			return err
		}
	}
	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: aggregated close errors.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats ingest close failed", "error", err.Error())
			result = multierror.Append(result, fmt.Errorf("nats ingest close: %w", err))
		}
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Error("manager shutdown failed", "error", err.Error())
		result = multierror.Append(result, err)
	}
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.natsPub != nil {
		if err := s.natsPub.Close(); err != nil {
			s.logger.Error("nats publisher close failed", "error", err.Error())
			result = multierror.Append(result, fmt.Errorf("nats publisher close: %w", err))
		}
	}
	if s.source != nil {
		s.source.Close()
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return result.ErrorOrNil()
}

// cleanupInitResources closes partially initialized resources on startup failures.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.natsPub != nil {
		_ = s.natsPub.Close()
		s.natsPub = nil
	}
	if s.hub != nil {
		_ = s.hub.Close()
		s.hub = nil
	}
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires health, metrics, and websocket endpoints.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.API.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc("GET "+s.cfg.API.ReadyPath, s.handleReady)
	mux.Handle("GET "+s.cfg.API.MetricsPath, promhttp.Handler())
	if s.hub != nil {
		mux.Handle("GET "+s.cfg.API.WebSocketPath, s.hub)
	}

	s.mux = mux
	s.httpSrv = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Service) handleReady(writer http.ResponseWriter, request *http.Request) {
	if !s.readyFlag.Load() {
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("not-ready"))
		return
	}
	ctx, cancel := context.WithTimeout(request.Context(), readyTimeout)
	defer cancel()
	if err := s.source.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err.Error())
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("datasource-unavailable"))
		return
	}
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ready"))
}
