// Package compute implements the Compute Responder (spec.md §4.4): it
// subscribes to the compute channel and, for requests targeting this
// backend, asks the Finder for a safe location and writes a response
// record for the origin's Remote Dispatcher to poll.
package compute

import (
	"context"

	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

// Responder is the Compute Responder.
type Responder struct {
	core    *rtpcore.Context
	metrics *metrics.Metrics
}

// New constructs a Responder. Call Run in a goroutine to start consuming
// the compute channel.
func New(core *rtpcore.Context, m *metrics.Metrics) *Responder {
	return &Responder{core: core, metrics: m}
}

// Run blocks, subscribing to the compute channel, until ctx is
// cancelled. Grounded on the Store Client's reconnecting subscriber
// (spec.md §4.2); Responder only supplies the per-message handler.
func (r *Responder) Run(ctx context.Context) {
	r.core.Store.Subscribe(ctx, r.core.Keys.Compute(), func(msg string) {
		r.handle(ctx, msg)
	})
}

func (r *Responder) handle(ctx context.Context, msg string) {
	if !r.core.Store.IsRunning() {
		return
	}

	req, err := rtpkeys.Decode[rtpkeys.ComputeRequest](msg)
	if err != nil {
		// Malformed compute requests are simply dropped — there is no
		// key to delete, unlike a poisoned stored record (spec.md §4.1).
		return
	}

	if req.TargetServer != r.core.Cfg.ServerName {
		return
	}
	if r.metrics != nil {
		r.metrics.ComputeRequests.Inc()
	}

	loc, findErr := r.core.Finder.FindSafe(ctx, req.World)

	resp := rtpkeys.ComputeResponse{
		RequestID: req.RequestID,
		Server:    r.core.Cfg.ServerName,
		World:     req.World,
	}
	if findErr != nil || loc == nil {
		resp.Ok = false
		resp.Error = "no-safe-location"
	} else {
		resp.Ok = true
		resp.Location = *loc
	}

	raw, err := rtpkeys.Encode(resp)
	if err != nil {
		return
	}
	if err := r.core.Store.SetEx(ctx, r.core.Keys.Resp(req.RequestID), r.core.Cfg.RequestTTL, raw); err != nil {
		// No retry — the origin's poller has already consumed part of
		// its TTL budget waiting (spec.md §4.4).
		if r.metrics != nil {
			r.metrics.ComputeResponses.WithLabelValues("write_failed").Inc()
		}
		return
	}
	if r.metrics != nil {
		result := "ok"
		if !resp.Ok {
			result = "error"
		}
		r.metrics.ComputeResponses.WithLabelValues(result).Inc()
	}
}
