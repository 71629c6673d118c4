package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/incident-console/internal/models"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (validation, collaborator or transport issues).
	OutcomeError = "error"
)

const namespace = "incident_console"

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Analysis pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineRunSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_seconds",
			Help:      "End-to-end pipeline run latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)

	pipelineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Pipeline runs halted at a stage, partitioned by stage.",
		},
		[]string{"stage"},
	)

	jobOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_registry_operations_total",
			Help:      "Job registry operations, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	liveFeedMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_feed_mode",
			Help:      "Current live feed mode per kind (0 connecting, 1 live, 2 degraded).",
		},
		[]string{"kind"},
	)

	liveFeedPayloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_feed_payloads_total",
			Help:      "Live feed payloads received, partitioned by kind, transport and outcome.",
		},
		[]string{"kind", "transport", "outcome"},
	)

	liveFeedPollersStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_feed_pollers_started_total",
			Help:      "Poll timers started after a live feed degraded.",
		},
		[]string{"kind"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User-visible notifications emitted, partitioned by level.",
		},
		[]string{"level"},
	)

	scanRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_requests_total",
			Help:      "On-demand scan requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches incident-console collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		pipelineRunSeconds,
		pipelineStageFailuresTotal,
		jobOperationsTotal,
		liveFeedMode,
		liveFeedPayloadsTotal,
		liveFeedPollersStartedTotal,
		notificationsTotal,
		scanRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcomeLabel(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}

// ObservePipelineRun records a run duration and outcome label.
func ObservePipelineRun(duration time.Duration, outcome string) {
	pipelineRunsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineRunSeconds.Observe(duration.Seconds())
}

// ObserveStageFailure counts a run halted at stage.
func ObserveStageFailure(stage models.Stage) {
	pipelineStageFailuresTotal.WithLabelValues(string(stage)).Inc()
}

// ObserveJobOperation counts a registry operation.
func ObserveJobOperation(operation, outcome string) {
	jobOperationsTotal.WithLabelValues(operation, outcomeLabel(outcome)).Inc()
}

// SetFeedMode publishes the mode of a live feed.
func SetFeedMode(kind models.FeedKind, mode models.FeedMode) {
	var value float64
	switch mode {
	case models.FeedLive:
		value = 1
	case models.FeedDegraded:
		value = 2
	}
	liveFeedMode.WithLabelValues(string(kind)).Set(value)
}

// ObserveFeedPayload counts a payload received on transport.
func ObserveFeedPayload(kind models.FeedKind, transport, outcome string) {
	liveFeedPayloadsTotal.WithLabelValues(string(kind), transport, outcomeLabel(outcome)).Inc()
}

// ObservePollerStarted counts a poll timer started for kind.
func ObservePollerStarted(kind models.FeedKind) {
	liveFeedPollersStartedTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveNotification counts a notification at level.
func ObserveNotification(level string) {
	notificationsTotal.WithLabelValues(level).Inc()
}

// ObserveScan counts a scan request outcome.
func ObserveScan(outcome string) {
	scanRequestsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
}
