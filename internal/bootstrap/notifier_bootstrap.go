package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"notifier_server/config"
	"notifier_server/pkg/logger"
)

// Server owns the HTTP app and the background workers.
type Server struct {
	cfg     *config.Config
	app     *fiber.App
	deps    *Dependencies
	cleanup func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config) (*Server, error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		app:     NewAPI(cfg, deps),
		deps:    deps,
		cleanup: cleanup,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// App exposes the HTTP app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start launches the workers and blocks serving HTTP.
func (s *Server) Start() error {
	if s.deps.FetchQueue != nil {
		if err := s.deps.FetchQueue.Start(s.ctx); err != nil {
			return err
		}
	}
	if s.deps.RenewalScheduler != nil {
		if err := s.deps.RenewalScheduler.Start(); err != nil {
			return err
		}
	}
	if s.deps.LoginLimiter != nil {
		go s.deps.LoginLimiter.RunCleanup(s.ctx, time.Minute)
	}

	addr := ":" + s.cfg.Port
	logger.Info("Starting notifier on %s (fetch mode: %s)", addr, s.cfg.FetchMode)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests, then drains the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.deps.RenewalScheduler != nil {
		s.deps.RenewalScheduler.Stop()
	}
	if s.deps.FetchQueue != nil {
		if err := s.deps.FetchQueue.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.cleanup()

	return errors.Join(errs...)
}
