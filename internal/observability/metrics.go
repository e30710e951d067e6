package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelTokensTotal  *prometheus.CounterVec
	providerCooldown  *prometheus.GaugeVec

	repairAttemptsTotal prometheus.Counter
	repairOutcomesTotal *prometheus.CounterVec

	transitionsTotal *prometheus.CounterVec

	searchStepsTotal   *prometheus.CounterVec
	searchRunsTotal    *prometheus.CounterVec
	searchRunDuration  prometheus.Histogram
	votesTotal         *prometheus.CounterVec
	executionTotal     *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	routedTotal        *prometheus.CounterVec
	agentsActive       prometheus.Gauge
	promptReloadsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_model_calls_total",
					Help: "Total model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "grove_model_call_duration_seconds",
					Help:    "Model call duration in seconds, retries included.",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
				[]string{"provider"},
			),
			modelTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_model_tokens_total",
					Help: "Tokens consumed by provider and direction.",
				},
				[]string{"provider", "direction"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "grove_provider_cooldown_active",
					Help: "Provider cooldown state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			repairAttemptsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "grove_markup_repair_attempts_total",
					Help: "Corrective model calls issued for malformed markup.",
				},
			),
			repairOutcomesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_markup_repair_outcomes_total",
					Help: "Malformed markup episodes by outcome (repaired, exhausted).",
				},
				[]string{"outcome"},
			),
			transitionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_state_transitions_total",
					Help: "State machine transitions by machine and target state.",
				},
				[]string{"machine", "state"},
			),
			searchStepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_search_steps_total",
					Help: "Search step advances by reason (retry, incomplete).",
				},
				[]string{"reason"},
			),
			searchRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_search_runs_total",
					Help: "Completed search runs by status.",
				},
				[]string{"status"},
			),
			searchRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "grove_search_run_duration_seconds",
					Help:    "Search run duration in seconds.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			votesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_votes_total",
					Help: "Votes cast by kind (plan, propose, exec).",
				},
				[]string{"kind"},
			),
			executionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_code_executions_total",
					Help: "Code executions by language and status.",
				},
				[]string{"language", "status"},
			),
			executionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "grove_code_execution_duration_seconds",
					Help:    "Code execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"language"},
			),
			routedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_routed_tasks_total",
					Help: "Routed tasks by outcome (assigned, created).",
				},
				[]string{"outcome"},
			),
			agentsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "grove_agents_active",
					Help: "Agents registered with the router.",
				},
			),
			promptReloadsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grove_prompt_reloads_total",
					Help: "Prompt library reloads by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelTokensTotal,
			m.providerCooldown,
			m.repairAttemptsTotal,
			m.repairOutcomesTotal,
			m.transitionsTotal,
			m.searchStepsTotal,
			m.searchRunsTotal,
			m.searchRunDuration,
			m.votesTotal,
			m.executionTotal,
			m.executionDuration,
			m.routedTotal,
			m.agentsActive,
			m.promptReloadsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, status(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordTokens(provider string, input, output int) {
	m := getMetrics()
	m.modelTokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	m.modelTokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordRepairAttempt() {
	getMetrics().repairAttemptsTotal.Inc()
}

// RecordRepairOutcome counts a malformed-markup episode once it ends.
func RecordRepairOutcome(repaired bool) {
	outcome := "exhausted"
	if repaired {
		outcome = "repaired"
	}
	getMetrics().repairOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordTransition(machine, state string) {
	getMetrics().transitionsTotal.WithLabelValues(machine, state).Inc()
}

func RecordSearchStep(reason string) {
	getMetrics().searchStepsTotal.WithLabelValues(reason).Inc()
}

func RecordSearchRun(duration time.Duration, success bool) {
	m := getMetrics()
	m.searchRunsTotal.WithLabelValues(status(success)).Inc()
	m.searchRunDuration.Observe(duration.Seconds())
}

func RecordVote(kind string) {
	getMetrics().votesTotal.WithLabelValues(kind).Inc()
}

func RecordExecution(language string, duration time.Duration, success bool) {
	m := getMetrics()
	m.executionTotal.WithLabelValues(language, status(success)).Inc()
	m.executionDuration.WithLabelValues(language).Observe(duration.Seconds())
}

func RecordRouted(outcome string) {
	getMetrics().routedTotal.WithLabelValues(outcome).Inc()
}

func SetActiveAgents(count int) {
	getMetrics().agentsActive.Set(float64(count))
}

func RecordPromptReload(success bool) {
	getMetrics().promptReloadsTotal.WithLabelValues(status(success)).Inc()
}
