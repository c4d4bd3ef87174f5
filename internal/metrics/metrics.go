// Package metrics exposes Prometheus collectors for the death counter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deathcounter"

var (
	Deaths = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deaths_total",
		Help:      "Deaths recorded since start.",
	})

	TrackedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_entities",
		Help:      "Entities with a ledger entry.",
	})

	// Pushes counts panel updates by outcome: ok, skipped, error.
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panel_pushes_total",
		Help:      "Panel content pushes by outcome.",
	}, []string{"result"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_errors_total",
		Help:      "Failed display provider calls by operation.",
	}, []string{"op"})

	// Saves counts ledger writes by outcome: ok, error.
	Saves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_saves_total",
		Help:      "Ledger writes by outcome.",
	}, []string{"result"})

	VisibleSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "visible_sessions",
		Help:      "Sessions currently showing the panel.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
