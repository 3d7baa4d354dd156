// Package presence implements the Presence Service (spec.md §4.3): it
// writes an advisory `presence:<uuid> → serverName` record with TTL on
// join, refreshes every online player's record on a gocron schedule, and
// deletes on quit. Presence is advisory only — no component blocks
// waiting on it.
//
// Grounded on the teacher's scheduler package, which wraps
// github.com/go-co-op/gocron/v2 the same way: a thin struct holding the
// gocron.Scheduler plus the collaborators a job needs, Start/Stop
// lifecycle methods, and zap logging around each run.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
)

const (
	presenceTTL      = 90 * time.Second
	snapshotInterval = 30 * time.Second
)

// Service is the Presence Service.
type Service struct {
	core   *rtpcore.Context
	cron   gocron.Scheduler
	logger *zap.Logger
}

// New constructs a Service. Call Start to begin the periodic snapshot.
func New(core *rtpcore.Context, logger *zap.Logger) (*Service, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("presence: create gocron scheduler: %w", err)
	}
	return &Service{core: core, cron: cron, logger: logger.Named("presence")}, nil
}

// Start registers the periodic snapshot job and starts the underlying
// gocron scheduler. Call once at startup.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(snapshotInterval),
		gocron.NewTask(func() { s.snapshot(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("presence: schedule snapshot job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("presence service started", zap.Duration("interval", snapshotInterval))
	return nil
}

// Stop shuts down the underlying gocron scheduler, waiting for an
// in-flight snapshot to finish.
func (s *Service) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("presence: scheduler shutdown: %w", err)
	}
	return nil
}

// OnJoin writes player's presence record with a 90 s TTL.
func (s *Service) OnJoin(ctx context.Context, player uuid.UUID) {
	if err := s.write(ctx, player); err != nil {
		s.logger.Warn("failed to write presence on join", zap.String("player", player.String()), zap.Error(err))
	}
}

// OnQuit deletes player's presence record.
func (s *Service) OnQuit(ctx context.Context, player uuid.UUID) {
	if err := s.core.Store.Del(ctx, s.core.Keys.Presence(player)); err != nil {
		s.logger.Warn("failed to delete presence on quit", zap.String("player", player.String()), zap.Error(err))
	}
}

func (s *Service) write(ctx context.Context, player uuid.UUID) error {
	return s.core.Store.SetEx(ctx, s.core.Keys.Presence(player), presenceTTL, s.core.Cfg.ServerName)
}

// snapshot is the periodic job: read the online player ids on the game
// thread, then write every presence record from a worker (spec.md §4.3
// "writes all presence keys in a background task").
func (s *Service) snapshot(ctx context.Context) {
	done := make(chan []uuid.UUID, 1)
	s.core.Scheduler.RunOnGameThread(func() {
		done <- s.core.Online.OnlinePlayerIDs()
	})

	var ids []uuid.UUID
	select {
	case ids = <-done:
	case <-ctx.Done():
		return
	}

	s.core.Scheduler.RunInWorker(func() {
		for _, id := range ids {
			if err := s.write(ctx, id); err != nil {
				s.logger.Warn("presence snapshot write failed", zap.String("player", id.String()), zap.Error(err))
			}
		}
	})
}
