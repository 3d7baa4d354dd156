// Package dispatch implements the Remote Dispatcher (spec.md §4.6): it
// publishes a compute request, polls for the target backend's response,
// writes the pending teleport record, and asks the proxy to switch the
// player — in that order, so the pending record is always durable before
// the switch is requested (spec.md §4.6 "Ordering guarantee").
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

// Dispatcher is the Remote Dispatcher.
type Dispatcher struct {
	core    *rtpcore.Context
	metrics *metrics.Metrics
}

// New constructs a Dispatcher.
func New(core *rtpcore.Context, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{core: core, metrics: m}
}

// Dispatch runs the full remote RTP flow for player against targetServer
// in world, notifying the player when the store is down, the compute
// fails or times out, the pending write fails, or the switch is
// rejected. ok is true only when the proxy accepted the switch request.
func (d *Dispatcher) Dispatch(ctx context.Context, player uuid.UUID, targetServer, world string) (bool, error) {
	requestID := uuid.New().String()

	req := rtpkeys.ComputeRequest{
		RequestID:    requestID,
		PlayerUUID:   player.String(),
		TargetServer: targetServer,
		World:        world,
		CreatedAtMs:  d.core.NowMs(),
	}
	raw, err := rtpkeys.Encode(req)
	if err != nil {
		return false, fmt.Errorf("dispatch: encode request: %w", err)
	}

	if !d.core.Store.IsRunning() {
		// Remote dispatch fails closed when the store is unavailable
		// (spec.md §4.2: "fail-closed for remote dispatch").
		d.core.Notify.Notify(player, rtpcore.MsgComputeTimeout, nil)
		return false, fmt.Errorf("dispatch: store not running")
	}

	if err := d.core.Store.Publish(ctx, d.core.Keys.Compute(), raw); err != nil {
		d.core.Notify.Notify(player, rtpcore.MsgComputeTimeout, nil)
		return false, fmt.Errorf("dispatch: publish compute request: %w", err)
	}

	resp, ok := d.poll(ctx, requestID)
	if !ok {
		d.core.Notify.Notify(player, rtpcore.MsgComputeTimeout, nil)
		return false, nil
	}
	if !resp.Ok {
		d.core.Notify.Notify(player, rtpcore.MsgNoSafeLocation, nil)
		return false, nil
	}

	pending := rtpkeys.PendingTeleport{
		Server:   resp.Server,
		Location: resp.Location,
		AtMs:     d.core.NowMs(),
		Attempts: 0,
	}
	pendingRaw, err := rtpkeys.Encode(pending)
	if err != nil {
		return false, fmt.Errorf("dispatch: encode pending: %w", err)
	}

	// Ordering guarantee (spec.md §4.6): the pending record must be
	// durable in the store *before* the proxy switch is requested, so
	// the destination's Join Finalizer never races to read a missing key.
	if err := d.core.Store.SetEx(ctx, d.core.Keys.Pending(player), d.core.Cfg.RequestTTL, pendingRaw); err != nil {
		d.core.Notify.Notify(player, rtpcore.MsgComputeTimeout, nil)
		return false, fmt.Errorf("dispatch: write pending: %w", err)
	}
	if d.metrics != nil {
		d.metrics.PendingWritten.Inc()
	}

	switched, err := d.core.Proxy.RequestSwitch(ctx, player, resp.Server)
	if err != nil || !switched {
		_ = d.core.Store.Del(ctx, d.core.Keys.Pending(player))
		if d.metrics != nil {
			d.metrics.PendingDeleted.WithLabelValues("switch_rejected").Inc()
		}
		d.core.Notify.Notify(player, rtpcore.MsgComputeTimeout, nil)
		return false, nil
	}

	return true, nil
}

// poll reads resp:<requestId> every responsePollIntervalTicks until a
// non-empty value appears, the deadline (requestTtl) passes, or the
// context is cancelled / the store stops running (spec.md §4.6 step 3).
// The first non-empty read deletes the key. requestID is freshly
// generated by Dispatch, so this poller is the key's only reader; the
// read and the delete are two separate store calls, not one atomic
// read-and-delete.
func (d *Dispatcher) poll(ctx context.Context, requestID string) (rtpkeys.ComputeResponse, bool) {
	key := d.core.Keys.Resp(requestID)
	interval := d.core.Cfg.ResponsePollInterval
	// The deadline uses wall-clock time rather than the injected Clock:
	// the poll loop's own ticks are real time regardless, so a fake
	// clock frozen for deterministic record timestamps elsewhere must
	// not also freeze this loop's exit condition.
	deadline := time.Now().Add(d.core.Cfg.RequestTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rounds := 0
	for {
		if ctx.Err() != nil || !d.core.Store.IsRunning() {
			return rtpkeys.ComputeResponse{}, false
		}
		if time.Now().After(deadline) {
			if d.metrics != nil {
				d.metrics.DispatchPollRounds.Observe(float64(rounds))
			}
			return rtpkeys.ComputeResponse{}, false
		}

		raw, found, err := d.core.Store.Get(ctx, key)
		rounds++
		if err == nil && found {
			_ = d.core.Store.Del(ctx, key)
			resp, decodeErr := rtpkeys.Decode[rtpkeys.ComputeResponse](raw)
			if decodeErr != nil {
				// Poison record: treat as absent/malformed (spec.md §4.1, §4.6).
				if d.metrics != nil {
					d.metrics.DispatchPollRounds.Observe(float64(rounds))
				}
				return rtpkeys.ComputeResponse{}, false
			}
			if d.metrics != nil {
				d.metrics.DispatchPollRounds.Observe(float64(rounds))
			}
			return resp, true
		}

		select {
		case <-ctx.Done():
			return rtpkeys.ComputeResponse{}, false
		case <-ticker.C:
		}
	}
}
