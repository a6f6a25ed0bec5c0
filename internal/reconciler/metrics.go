package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_events_total",
		Help: "Ledger events processed, by type and outcome.",
	}, []string{"type", "outcome"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_conflicts_total",
		Help: "Events whose application contradicted existing catalog state.",
	})

	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_poll_errors_total",
		Help: "Failed attempts to read events from the ledger.",
	})

	checkpointSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_checkpoint_seq",
		Help: "Last event sequence fully applied and persisted.",
	})
)

const (
	outcomeApplied   = "applied"
	outcomeReplayed  = "replayed"
	outcomeUnmatched = "unmatched"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
)
