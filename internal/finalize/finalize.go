// Package finalize implements the Join Finalizer (spec.md §4.7): on
// player join, it reads any pending cross-server teleport instruction
// left for this backend, freezes the player, teleports them, and cleans
// up — bounded by a retry counter stored on the pending record itself.
package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

const freezeFailsafe = 4 * time.Second

// Finalizer is the Join Finalizer.
type Finalizer struct {
	core    *rtpcore.Context
	metrics *metrics.Metrics
}

// New constructs a Finalizer.
func New(core *rtpcore.Context, m *metrics.Metrics) *Finalizer {
	return &Finalizer{core: core, metrics: m}
}

// OnJoin runs the full finalize sequence for player, from the join-event
// handler. Store, Freezer, and Teleporter calls all run on the calling
// goroutine; OnJoin does not post any of them through the Scheduler.
func (f *Finalizer) OnJoin(ctx context.Context, player uuid.UUID) {
	key := f.core.Keys.Pending(player)

	raw, found, err := f.core.Store.Get(ctx, key)
	if err != nil || !found {
		return
	}

	pending, err := rtpkeys.Decode[rtpkeys.PendingTeleport](raw)
	if err != nil {
		// Poison record: drop it rather than retry forever.
		_ = f.core.Store.Del(ctx, key)
		return
	}

	if pending.Server != f.core.Cfg.ServerName {
		// Hub routed the player somewhere else than instructed; leave the
		// record for whichever backend they actually land on.
		return
	}

	if f.core.NowMs()-pending.AtMs > f.core.Cfg.RequestTTL.Milliseconds() {
		_ = f.core.Store.Del(ctx, key)
		if f.metrics != nil {
			f.metrics.PendingDeleted.WithLabelValues("stale").Inc()
		}
		return
	}

	loc := clampLocation(pending.Location)

	f.core.Freezer.Freeze(player)
	failsafe := time.AfterFunc(freezeFailsafe, func() {
		f.core.Freezer.Unfreeze(player)
	})
	defer failsafe.Stop()

	if err := f.core.Teleport.PreloadChunk(ctx, loc.World, loc); err != nil {
		f.core.Freezer.Unfreeze(player)
		f.bumpOrDelete(ctx, player, key, pending, rtpcore.MsgUnknownWorld)
		return
	}

	ok, err := f.core.Teleport.Teleport(ctx, player, loc)
	f.core.Freezer.Unfreeze(player)
	if err != nil || !ok {
		f.bumpOrDelete(ctx, player, key, pending, rtpcore.MsgNoSafeLocation)
		return
	}

	_ = f.core.Store.Del(ctx, key)
	f.core.Notify.Notify(player, rtpcore.MsgSuccessTeleported, map[string]string{"world": loc.World})
	if f.metrics != nil {
		f.metrics.FinalizeOutcomes.WithLabelValues("ok").Inc()
	}
}

// bumpOrDelete is spec.md §4.7 step 4/8: on failure, increment the
// attempt counter and either persist the bumped record for a future
// join to retry, or give up once pendingMaxFinalizeAttempts is reached.
// reason distinguishes the two error-taxonomy entries spec.md §7 lists
// for this path: a missing/unloadable destination world (MsgUnknownWorld,
// from the PreloadChunk branch) versus a finder/teleport failure
// (MsgNoSafeLocation, from the Teleport branch).
func (f *Finalizer) bumpOrDelete(ctx context.Context, player uuid.UUID, key string, pending rtpkeys.PendingTeleport, reason string) {
	f.core.Notify.Notify(player, reason, nil)

	pending.Attempts++
	if pending.Attempts >= f.core.Cfg.PendingMaxFinalizeAttempts {
		_ = f.core.Store.Del(ctx, key)
		if f.metrics != nil {
			f.metrics.FinalizeOutcomes.WithLabelValues("exhausted").Inc()
		}
		return
	}

	raw, err := rtpkeys.Encode(pending)
	if err != nil {
		_ = f.core.Store.Del(ctx, key)
		return
	}
	_ = f.core.Store.SetEx(ctx, key, f.core.Cfg.RequestTTL, raw)
	if f.metrics != nil {
		f.metrics.FinalizeOutcomes.WithLabelValues("retry").Inc()
	}
}

// clampLocation enforces spec.md §4.7 step 6's Y and pitch clamps. The
// world's height limits are not modeled here — callers running against a
// real game engine are expected to pass engine-reported bounds in through
// a PreloadChunk/Teleport wrapper; this clamp covers the pitch range and
// a conservative Y floor/ceiling shared by vanilla worlds.
func clampLocation(loc rtpkeys.Location) rtpkeys.Location {
	const minHeight, maxHeight = -64, 320
	if loc.Y < float64(minHeight+1) {
		loc.Y = float64(minHeight + 1)
	}
	if loc.Y > float64(maxHeight-2) {
		loc.Y = float64(maxHeight - 2)
	}
	if loc.Pitch < -90 {
		loc.Pitch = -90
	}
	if loc.Pitch > 90 {
		loc.Pitch = 90
	}
	return loc
}
