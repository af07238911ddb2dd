package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinkeep_registry_mutations_total",
			Help: "Agent registry mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	agentsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinkeep_agents",
			Help: "Agents currently held by the registry",
		},
	)

	walletTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinkeep_wallet_transitions_total",
			Help: "Wallet session transitions by resulting status",
		},
		[]string{"status"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinkeep_agent_events_published_total",
			Help: "Agent events handed to the queue",
		},
		[]string{"type", "outcome"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinkeep_notifications_total",
			Help: "Notifications surfaced to the user",
		},
		[]string{"level"},
	)
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeNoop  = "noop"
	OutcomeError = "error"
)

// ObserveRegistryMutation counts a registry write.
func ObserveRegistryMutation(operation, outcome string) {
	registryMutations.WithLabelValues(operation, outcome).Inc()
}

// SetAgents records the size of the registry.
func SetAgents(n int) {
	agentsTotal.Set(float64(n))
}

// ObserveWalletTransition counts a session transition.
func ObserveWalletTransition(status string) {
	walletTransitions.WithLabelValues(status).Inc()
}

// ObserveEventPublished counts an event publish attempt.
func ObserveEventPublished(eventType, outcome string) {
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// ObserveNotification counts a notification by level.
func ObserveNotification(level string) {
	notifications.WithLabelValues(level).Inc()
}
