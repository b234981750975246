package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Guess ingestion
	GuessesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guesses_total",
		Help: "Guesses processed, labelled by outcome.",
	}, []string{"outcome"})

	GuessDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guess_duration_seconds",
		Help:    "End-to-end guess handling duration, cache and DB included.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// Auto-reveal worker
	RevealsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reveals_total",
		Help: "Auto-reveal ticks, labelled revealed or suppressed.",
	}, []string{"outcome"})

	ScheduledRevealJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduled_reveal_jobs",
		Help: "Reveal jobs currently waiting to fire.",
	})

	// Game lifecycle
	GamesFinishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "games_finished_total",
		Help: "Rooms that reached the finished state.",
	})

	RatingUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rating_updates_total",
		Help: "Per-player rating writes performed by the rating engine.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		GuessesTotal,
		GuessDurationSeconds,
		RevealsTotal,
		ScheduledRevealJobs,
		GamesFinishedTotal,
		RatingUpdatesTotal,
	)
}
