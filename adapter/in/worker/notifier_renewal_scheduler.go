package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
)

// =============================================================================
// RenewalScheduler - proactive subscription renewal
// =============================================================================
//
// Graph subscriptions on mail expire after 3 days. The scheduler renews
// everything the registry knows about that expires inside the window.

// Renewer is the part of the subscription manager the scheduler drives.
type Renewer interface {
	RenewExpiring(ctx context.Context, client out.MailClient, window time.Duration) (*domain.RenewalReport, error)
}

type RenewalConfig struct {
	Schedule   string        // cron spec, descriptors like "@every 1h" allowed
	Window     time.Duration // renew when expiry is within this window
	RunTimeout time.Duration // upper bound for one sweep
}

type RenewalScheduler struct {
	renewer Renewer
	clients out.ClientProvider
	cfg     RenewalConfig
	log     zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewRenewalScheduler(renewer Renewer, clients out.ClientProvider, cfg RenewalConfig, log zerolog.Logger) *RenewalScheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	return &RenewalScheduler{
		renewer: renewer,
		clients: clients,
		cfg:     cfg,
		log:     log.With().Str("component", "renewal_scheduler").Logger(),
	}
}

// Start registers the sweep and runs one immediately in the background.
func (s *RenewalScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.SkipIfStillRunning(cl),
		cron.Recover(cl),
	))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := c.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		s.cancel()
		return fmt.Errorf("invalid renewal schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.started = true

	s.log.Info().
		Str("schedule", s.cfg.Schedule).
		Dur("window", s.cfg.Window).
		Msg("renewal scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweep()
	}()
	return nil
}

// Stop cancels and waits for any running sweep, including the initial one.
func (s *RenewalScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	s.log.Info().Msg("stopping renewal scheduler...")
	cancel()
	<-c.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("renewal scheduler stopped")
}

func (s *RenewalScheduler) sweep() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("renewal sweep failed")
	}
}

// RunOnce performs one sweep. It is a no-op until a user has signed in.
func (s *RenewalScheduler) RunOnce(ctx context.Context) (*domain.RenewalReport, error) {
	client, err := s.clients.Client(ctx)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeAuthError) {
			s.log.Debug().Msg("no credential yet, skipping renewal sweep")
			return &domain.RenewalReport{}, nil
		}
		return nil, err
	}

	report, err := s.renewer.RenewExpiring(ctx, client, s.cfg.Window)
	if err != nil {
		return report, err
	}

	s.log.Debug().
		Int("checked", report.Checked).
		Int("renewed", report.Renewed).
		Int("recreated", report.Recreated).
		Int("failed", report.Failed).
		Msg("renewal sweep done")
	return report, nil
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
