// Package metrics exposes the prometheus counters and histograms emitted
// by the RTP coordination layer. Grounded on the teacher's go.mod
// dependency on github.com/prometheus/client_golang (used there for
// general server observability); here every metric is named for a
// specific component in SPEC_FULL.md's table.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram. Construct one with New and
// register it against a prometheus.Registerer (or prometheus.DefaultRegisterer).
type Metrics struct {
	AttemptsStarted    *prometheus.CounterVec
	AttemptsTerminal   *prometheus.CounterVec
	ComputeRequests    prometheus.Counter
	ComputeResponses   *prometheus.CounterVec
	DispatchPollRounds prometheus.Histogram
	FinalizeOutcomes   *prometheus.CounterVec
	PendingWritten     prometheus.Counter
	PendingDeleted     *prometheus.CounterVec
	DeathPlansBuilt    *prometheus.CounterVec
	RespawnOutcomes    *prometheus.CounterVec
}

// New creates and registers every metric against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "attempts_started_total",
			Help:      "RTP attempts started, labeled by dispatch kind (local/remote).",
		}, []string{"kind"}),
		AttemptsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "attempts_terminal_total",
			Help:      "RTP attempts reaching a terminal state, labeled by outcome.",
		}, []string{"outcome"}),
		ComputeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "compute_requests_received_total",
			Help:      "Compute requests received by this backend's Compute Responder.",
		}),
		ComputeResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "compute_responses_written_total",
			Help:      "Compute responses written, labeled by ok/error.",
		}, []string{"result"}),
		DispatchPollRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rtp",
			Name:      "dispatch_poll_rounds",
			Help:      "Number of poll rounds the Remote Dispatcher needed before a response or timeout.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		FinalizeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "finalize_outcomes_total",
			Help:      "Join Finalizer outcomes, labeled by result.",
		}, []string{"result"}),
		PendingWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "pending_written_total",
			Help:      "Pending teleport records written.",
		}),
		PendingDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "pending_deleted_total",
			Help:      "Pending teleport records deleted, labeled by reason.",
		}, []string{"reason"}),
		DeathPlansBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "death_plans_built_total",
			Help:      "Death plans built, labeled by kind (local/remote).",
		}, []string{"kind"}),
		RespawnOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtp",
			Name:      "respawn_outcomes_total",
			Help:      "Respawn handler outcomes, labeled by path taken.",
		}, []string{"path"}),
	}

	reg.MustRegister(
		m.AttemptsStarted,
		m.AttemptsTerminal,
		m.ComputeRequests,
		m.ComputeResponses,
		m.DispatchPollRounds,
		m.FinalizeOutcomes,
		m.PendingWritten,
		m.PendingDeleted,
		m.DeathPlansBuilt,
		m.RespawnOutcomes,
	)
	return m
}
