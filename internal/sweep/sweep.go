// Package sweep runs a periodic janitor over pending-teleport records.
// It does not exist to enforce the at-most-once/TTL-expiry invariants —
// the store's own TTL already does that — it exists to proactively
// surface the "stale pending" and "poison record" conditions spec.md §7
// calls out as an error taxonomy, instead of waiting for them to be
// discovered lazily the next time a player with a stale record happens
// to join.
//
// Grounded on the teacher's scheduler package: a second gocron job
// alongside the Presence Service's, same singleton-mode/zap-logging
// shape.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

const defaultInterval = time.Minute

// Sweep periodically scans pending:* keys and deletes poison or
// stale-beyond-TTL records.
type Sweep struct {
	core     *rtpcore.Context
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cron     gocron.Scheduler
	interval time.Duration
}

// New constructs a Sweep with the default one-minute interval.
func New(core *rtpcore.Context, m *metrics.Metrics, logger *zap.Logger) (*Sweep, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sweep: create gocron scheduler: %w", err)
	}
	return &Sweep{
		core:     core,
		metrics:  m,
		logger:   logger.Named("sweep"),
		cron:     cron,
		interval: defaultInterval,
	}, nil
}

// Start registers and starts the sweep job.
func (s *Sweep) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.run(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("sweep: schedule job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("pending sweep started", zap.Duration("interval", s.interval))
	return nil
}

// Stop shuts down the scheduler.
func (s *Sweep) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("sweep: scheduler shutdown: %w", err)
	}
	return nil
}

func (s *Sweep) run(ctx context.Context) {
	if !s.core.Store.IsRunning() {
		return
	}
	keys, err := s.core.Store.Scan(ctx, s.core.Keys.Prefix()+"pending:*")
	if err != nil {
		s.logger.Warn("sweep scan failed", zap.Error(err))
		return
	}

	for _, key := range keys {
		s.checkOne(ctx, key)
	}
}

func (s *Sweep) checkOne(ctx context.Context, key string) {
	raw, found, err := s.core.Store.Get(ctx, key)
	if err != nil || !found {
		return
	}

	pending, err := rtpkeys.Decode[rtpkeys.PendingTeleport](raw)
	if err != nil {
		s.logger.Warn("sweep dropped poison pending record", zap.String("key", key), zap.Error(err))
		_ = s.core.Store.Del(ctx, key)
		if s.metrics != nil {
			s.metrics.PendingDeleted.WithLabelValues("poison").Inc()
		}
		return
	}

	age := time.Duration(s.core.NowMs()-pending.AtMs) * time.Millisecond
	if age <= s.core.Cfg.RequestTTL {
		return
	}

	s.logger.Warn("sweep dropped stale pending record past its TTL window",
		zap.String("key", key),
		zap.Duration("age", age),
	)
	_ = s.core.Store.Del(ctx, key)
	if s.metrics != nil {
		s.metrics.PendingDeleted.WithLabelValues("sweep_stale").Inc()
	}
}
