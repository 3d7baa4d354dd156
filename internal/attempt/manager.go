// Package attempt implements the per-player RTP state machine (spec.md
// §4.5): Idle → CooldownCheck → Searching → (Countdown | Direct) →
// Dispatching → Terminal{Ok|Failed|Cancelled}. A player has at most one
// live attempt; starting a new one silently cancels the prior.
//
// Modeled as an explicit state machine object per player rather than
// nested callbacks, per spec.md §9's design note — each transition below
// is a short, independently testable function scheduled on the
// appropriate thread via gamethread.Scheduler.
package attempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

// RemoteDispatcher is the Remote Dispatcher collaborator (spec.md §4.6).
// Defined here, rather than imported directly, so Manager depends on an
// interface it owns — the teacher's repositories.XRepository pattern.
type RemoteDispatcher interface {
	Dispatch(ctx context.Context, player uuid.UUID, targetServer, world string) (ok bool, err error)
}

// Outcome is the attempt's terminal state.
type Outcome string

const (
	OutcomeOk        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Options carries the per-start flags that vary a run of the state
// machine: admin/bypass skips both CooldownCheck and Countdown.
type Options struct {
	TargetServer string
	World        string
	Bypass       bool
}

type live struct {
	cancelled bool
	monitor   *monitor
}

// Manager owns the per-player attempt slots. Safe for concurrent use.
type Manager struct {
	core       *rtpcore.Context
	dispatcher RemoteDispatcher
	metrics    *metrics.Metrics

	mu    sync.Mutex
	slots map[uuid.UUID]*live
}

// New constructs a Manager. core must have Store, Notify, Finder, Clock,
// Scheduler, Positions, Teleport, and Keys set.
func New(core *rtpcore.Context, dispatcher RemoteDispatcher, m *metrics.Metrics) *Manager {
	return &Manager{
		core:       core,
		dispatcher: dispatcher,
		metrics:    m,
		slots:      make(map[uuid.UUID]*live),
	}
}

// StartAttempt begins a new RTP attempt for player, cancelling any prior
// live attempt first. The prior attempt's cancel flag is set before this
// call returns, satisfying the ordering invariant in spec.md §8: "the
// previous attempt's cancel flag is set before the new one runs its
// first continuation."
func (m *Manager) StartAttempt(ctx context.Context, player uuid.UUID, opts Options) {
	l := &live{}

	m.mu.Lock()
	if prev, ok := m.slots[player]; ok {
		prev.cancelled = true
		if prev.monitor != nil {
			prev.monitor.Stop()
		}
	}
	m.slots[player] = l
	m.mu.Unlock()

	kind := "local"
	if opts.TargetServer != "" && opts.TargetServer != m.core.Cfg.ServerName {
		kind = "remote"
	}
	if m.metrics != nil {
		m.metrics.AttemptsStarted.WithLabelValues(kind).Inc()
	}

	m.core.Scheduler.RunInWorker(func() {
		m.cooldownCheck(ctx, player, l, opts)
	})
}

func (m *Manager) isCancelled(l *live) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return l.cancelled
}

func (m *Manager) terminate(player uuid.UUID, l *live, outcome Outcome) {
	if l.monitor != nil {
		l.monitor.Stop()
	}
	m.mu.Lock()
	if cur, ok := m.slots[player]; ok && cur == l {
		delete(m.slots, player)
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.AttemptsTerminal.WithLabelValues(string(outcome)).Inc()
	}
}

// cooldownCheck is step 1: CooldownCheck (spec.md §4.5). Runs in a
// worker goroutine since it performs store I/O.
func (m *Manager) cooldownCheck(ctx context.Context, player uuid.UUID, l *live, opts Options) {
	if m.isCancelled(l) {
		return
	}

	if !opts.Bypass {
		key := m.core.Keys.Cooldown(player)
		_, found, err := m.core.Store.Get(ctx, key)
		if err != nil {
			// Transient store failure: fail open and proceed (spec.md §7).
		} else if found {
			ttl, _, ttlErr := m.core.Store.TTL(ctx, key)
			params := map[string]string{}
			if ttlErr == nil {
				params["seconds"] = fmt.Sprintf("%.0f", ttl.Seconds())
			}
			m.core.Notify.Notify(player, rtpcore.MsgCooldownActive, params)
			m.terminate(player, l, OutcomeFailed)
			return
		} else {
			// Passing the check sets a fresh cooldown. A rejected check
			// (found == true, handled above) deliberately does NOT reset
			// the cooldown TTL — spec.md §9 open question, resolved to
			// match the scenario tests.
			if err := m.core.Store.SetEx(ctx, key, m.core.Cfg.Cooldown, "1"); err != nil {
				// Fail open: the cooldown write failing doesn't block the attempt.
			}
		}
	}

	m.searching(ctx, player, l, opts)
}

// searching is step 2: Searching (spec.md §4.5).
func (m *Manager) searching(ctx context.Context, player uuid.UUID, l *live, opts Options) {
	if m.isCancelled(l) {
		return
	}

	if opts.TargetServer != "" && opts.TargetServer != m.core.Cfg.ServerName {
		m.remoteSearching(ctx, player, l, opts)
		return
	}

	loc, err := m.core.Finder.FindSafe(ctx, opts.World)
	if err != nil || loc == nil {
		m.core.Notify.Notify(player, rtpcore.MsgNoSafeLocation, nil)
		m.terminate(player, l, OutcomeFailed)
		return
	}

	if opts.Bypass {
		m.dispatchLocal(ctx, player, l, *loc)
		return
	}
	m.countdown(ctx, player, l, *loc)
}

// remoteSearching hands off to the Remote Dispatcher, which performs its
// own Searching+Dispatching (publish/poll/pending/switch) as one unit —
// the "Direct" branch of (Countdown | Direct): no local countdown or
// movement monitor applies to a remote attempt (spec.md §4.6, e2e
// scenario 2 has no countdown on the origin).
func (m *Manager) remoteSearching(ctx context.Context, player uuid.UUID, l *live, opts Options) {
	m.core.Notify.Notify(player, rtpcore.MsgStatusSwitching, map[string]string{"server": opts.TargetServer})

	ok, err := m.dispatcher.Dispatch(ctx, player, opts.TargetServer, opts.World)
	if m.isCancelled(l) {
		return
	}
	if err != nil || !ok {
		// The dispatcher already notified the specific failure reason.
		m.terminate(player, l, OutcomeFailed)
		return
	}
	m.terminate(player, l, OutcomeOk)
}

// countdown is the Countdown state (spec.md §4.5): counts down
// countdownSeconds whole seconds with a status notification each second,
// with the movement monitor armed throughout.
func (m *Manager) countdown(ctx context.Context, player uuid.UUID, l *live, loc rtpkeys.Location) {
	total := int(m.core.Cfg.Countdown / time.Second)
	if total < 1 {
		m.dispatchLocal(ctx, player, l, loc)
		return
	}

	cancelled := make(chan struct{}, 1)
	mon := newMonitor(m.core.Scheduler, m.core.Positions, player, func() {
		select {
		case cancelled <- struct{}{}:
		default:
		}
	})
	m.mu.Lock()
	l.monitor = mon
	m.mu.Unlock()
	monCtx, monCancel := context.WithCancel(ctx)
	defer monCancel()
	mon.start(monCtx)
	mon.armCountdown()

	remaining := total
	for remaining > 0 {
		if m.isCancelled(l) {
			return
		}
		select {
		case <-cancelled:
			m.core.Notify.Notify(player, rtpcore.MsgTeleportCancelled, nil)
			m.terminate(player, l, OutcomeCancelled)
			return
		case <-ctx.Done():
			m.terminate(player, l, OutcomeCancelled)
			return
		default:
		}

		m.core.Notify.Notify(player, rtpcore.MsgStatusCountdown, map[string]string{"seconds": fmt.Sprintf("%d", remaining)})

		select {
		case <-time.After(time.Second):
		case <-cancelled:
			m.core.Notify.Notify(player, rtpcore.MsgTeleportCancelled, nil)
			m.terminate(player, l, OutcomeCancelled)
			return
		case <-ctx.Done():
			m.terminate(player, l, OutcomeCancelled)
			return
		}
		remaining--
	}

	if m.isCancelled(l) {
		return
	}
	mon.Stop()
	m.dispatchLocal(ctx, player, l, loc)
}

// dispatchLocal is the local branch of Dispatching (spec.md §4.5):
// preload the destination chunk, then teleport.
func (m *Manager) dispatchLocal(ctx context.Context, player uuid.UUID, l *live, loc rtpkeys.Location) {
	if m.isCancelled(l) {
		return
	}
	if err := m.core.Teleport.PreloadChunk(ctx, loc.World, loc); err != nil {
		m.core.Notify.Notify(player, rtpcore.MsgNoSafeLocation, nil)
		m.terminate(player, l, OutcomeFailed)
		return
	}
	ok, err := m.core.Teleport.Teleport(ctx, player, loc)
	if err != nil || !ok {
		m.core.Notify.Notify(player, rtpcore.MsgNoSafeLocation, nil)
		m.terminate(player, l, OutcomeFailed)
		return
	}
	m.core.Notify.Notify(player, rtpcore.MsgSuccessTeleported, map[string]string{"world": loc.World})
	m.terminate(player, l, OutcomeOk)
}
