package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	InboundCount     prometheus.Counter
	DuplicateCount   prometheus.Counter
	QuarantinedCount prometheus.Counter
	SessionsCreated  prometheus.Counter
	DecisionCount    prometheus.Counter
	DecisionFailures prometheus.Counter
	SendSuccesses    prometheus.Counter
	SendFailures     prometheus.Counter
	NudgesSent       prometheus.Counter
	Escalations      prometheus.Counter
	ProcessingTime   prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		InboundCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_inbound_count",
			Help: "Total number of inbound email events received",
		}),
		DuplicateCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_duplicate_count",
			Help: "Total number of redelivered inbound emails deduplicated",
		}),
		QuarantinedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_quarantined_count",
			Help: "Total number of inbound emails quarantined by the loop guard",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_sessions_created",
			Help: "Total number of scheduling sessions created",
		}),
		DecisionCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_decision_count",
			Help: "Total number of decision engine invocations",
		}),
		DecisionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_decision_failures",
			Help: "Total number of failed or contract-violating decision engine calls",
		}),
		SendSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_send_successes",
			Help: "Total number of successful outbound email sends",
		}),
		SendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_send_failures",
			Help: "Total number of failed outbound email sends",
		}),
		NudgesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_nudges_sent",
			Help: "Total number of reminder emails sent to unresponsive participants",
		}),
		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_escalations",
			Help: "Total number of participant non-responses escalated to the organizer",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_processing_duration_seconds",
			Help:    "Time spent processing inbound emails",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
