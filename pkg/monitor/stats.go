package monitor

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Interpolation outcomes, used as the result label.
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultDegenerate   = "degenerate"
)

// WorkloadStats counts solver traffic. Counters are mirrored into a private
// Prometheus registry served by Handler.
type WorkloadStats struct {
	SolveCount    uint64
	RejectCount   uint64
	EvaluateCount uint64
	MutationCount uint64

	registry       *prometheus.Registry
	interpolations *prometheus.CounterVec
	evaluations    prometheus.Counter
	mutations      *prometheus.CounterVec
	pointsPerSolve prometheus.Histogram
	pointSets      prometheus.Gauge
}

func NewWorkloadStats() *WorkloadStats {
	ws := &WorkloadStats{
		registry: prometheus.NewRegistry(),
		interpolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyfit_interpolations_total",
			Help: "Interpolation requests by result.",
		}, []string{"result"}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyfit_evaluations_total",
			Help: "Polynomial evaluations.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyfit_point_mutations_total",
			Help: "Point set mutations by operation.",
		}, []string{"op"}),
		pointsPerSolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyfit_interpolation_points",
			Help:    "Number of points per interpolation request.",
			Buckets: []float64{2, 3, 4, 6, 8, 12, 16, 32, 64},
		}),
		pointSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyfit_point_sets",
			Help: "Point sets held by the workspace.",
		}),
	}
	ws.registry.MustRegister(ws.interpolations, ws.evaluations, ws.mutations, ws.pointsPerSolve, ws.pointSets)
	// pre-create label values so they show up before the first request
	for _, r := range []string{ResultOK, ResultInsufficient, ResultDegenerate} {
		ws.interpolations.WithLabelValues(r)
	}
	return ws
}

func (ws *WorkloadStats) RecordInterpolation(result string, points int) {
	if result == ResultOK {
		atomic.AddUint64(&ws.SolveCount, 1)
	} else {
		atomic.AddUint64(&ws.RejectCount, 1)
	}
	ws.interpolations.WithLabelValues(result).Inc()
	ws.pointsPerSolve.Observe(float64(points))
}

func (ws *WorkloadStats) RecordEvaluation() {
	atomic.AddUint64(&ws.EvaluateCount, 1)
	ws.evaluations.Inc()
}

func (ws *WorkloadStats) RecordMutation(op string) {
	atomic.AddUint64(&ws.MutationCount, 1)
	ws.mutations.WithLabelValues(op).Inc()
}

func (ws *WorkloadStats) SetPointSets(n int) {
	ws.pointSets.Set(float64(n))
}

// GetRejectionRatio is rejected / total interpolations, 0 with no traffic.
func (ws *WorkloadStats) GetRejectionRatio() float64 {
	ok := atomic.LoadUint64(&ws.SolveCount)
	rejected := atomic.LoadUint64(&ws.RejectCount)
	total := ok + rejected
	if total == 0 {
		return 0.0
	}
	return float64(rejected) / float64(total)
}

// Counts loads the raw counters atomically.
func (ws *WorkloadStats) Counts() (solves, rejects, evaluations, mutations uint64) {
	return atomic.LoadUint64(&ws.SolveCount),
		atomic.LoadUint64(&ws.RejectCount),
		atomic.LoadUint64(&ws.EvaluateCount),
		atomic.LoadUint64(&ws.MutationCount)
}

// Handler serves the registry in the Prometheus exposition format.
func (ws *WorkloadStats) Handler() http.Handler {
	return promhttp.HandlerFor(ws.registry, promhttp.HandlerOpts{})
}

func (ws *WorkloadStats) Registry() *prometheus.Registry {
	return ws.registry
}
