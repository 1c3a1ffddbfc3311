package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

type Metrics struct {
	// CommandCount counts handled commands by name and outcome.
	CommandCount Observer
	// VoteCount counts recorded votes by poll kind.
	VoteCount Observer
	// RejectedVotes counts votes refused for eligibility by reason.
	RejectedVotes Observer
	// ReconcileCount counts action message reconciliations by result.
	ReconcileCount Observer
	// EventLatency observes the time spent handling each platform event.
	EventLatency Observer
}

// New creates the bot's metrics with their standard names.
func New() Metrics {
	return Metrics{
		CommandCount: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pollbot_commands_total",
			Help: "Commands handled, by command name and outcome.",
		}, []string{"name", "outcome"})),
		VoteCount: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pollbot_votes_total",
			Help: "Votes recorded, by poll kind.",
		}, []string{"kind"})),
		RejectedVotes: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pollbot_rejected_votes_total",
			Help: "Votes refused because the voter was ineligible, by reason.",
		}, []string{"reason"})),
		ReconcileCount: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pollbot_action_message_reconciles_total",
			Help: "Action message reconciliations, by result.",
		}, []string{"result"})),
		EventLatency: NewPromObserverVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pollbot_event_latency_seconds",
			Help:    "Time spent handling platform events, by event type.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"event"})),
	}
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CommandCount,
		m.VoteCount,
		m.RejectedVotes,
		m.ReconcileCount,
		m.EventLatency,
	}
}
