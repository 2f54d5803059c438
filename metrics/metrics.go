package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpanel",
			Name:      "login_attempts_total",
			Help:      "Count of login attempts by result.",
		},
		[]string{"result"},
	)

	toggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpanel",
			Name:      "toggles_total",
			Help:      "Count of dashboard toggles by field and outcome.",
		},
		[]string{"field", "outcome"},
	)

	settingsLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpanel",
			Name:      "settings_loads_total",
			Help:      "Count of dashboard settings fetches by outcome.",
		},
		[]string{"outcome"},
	)

	settingsWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpanel",
			Name:      "settings_writes_total",
			Help:      "Count of settings records written by the settings service, by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(loginAttempts, toggles, settingsLoads, settingsWrites)
	})
}

func IncLogin(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

func IncToggle(field, outcome string) {
	toggles.WithLabelValues(field, outcome).Inc()
}

func IncSettingsLoad(outcome string) {
	settingsLoads.WithLabelValues(outcome).Inc()
}

func IncSettingsWrite(route string) {
	settingsWrites.WithLabelValues(route).Inc()
}
