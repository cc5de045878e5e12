package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSweeper closes sessions nobody has used for a while
type SessionSweeper interface {
	SweepSessions(ctx context.Context, idleFor time.Duration) []string
}

// Scheduler periodically drops idle sessions so their stores are reset
type Scheduler struct {
	sweeper  SessionSweeper
	interval time.Duration
	idleFor  time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// Config holds configuration for the session janitor
type Config struct {
	Interval time.Duration
	IdleFor  time.Duration
}

// New creates a new session janitor
func New(sweeper SessionSweeper, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.IdleFor == 0 {
		cfg.IdleFor = 30 * time.Minute
	}

	return &Scheduler{
		sweeper:  sweeper,
		interval: cfg.Interval,
		idleFor:  cfg.IdleFor,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("session janitor started", "interval", s.interval, "idle_for", s.idleFor)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("session janitor stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.process(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process closes idle sessions once
func (s *Scheduler) process(ctx context.Context) {
	closed := s.sweeper.SweepSessions(ctx, s.idleFor)
	if len(closed) == 0 {
		s.logger.Debug("no idle sessions")
		return
	}
	s.logger.Info("closed idle sessions", "count", len(closed))
}
