package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalCases atomic.Int64

var (
	CasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coopvec_cases_total",
		Help: "Cases executed, by top level group and final status",
	}, []string{"group", "status"})

	CaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coopvec_case_duration_seconds",
		Help:    "Wall time of one case from support check to verdict",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})

	MismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coopvec_mismatches_total",
		Help: "Output elements that failed comparison against the reference",
	}, []string{"op"})

	FP8RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coopvec_fp8_retries_total",
		Help: "Invocations re-compared with binary16 quantization after an FP8 mismatch",
	})

	EmulatorMemoryAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coopvec_emulator_memory_allocated_bytes",
		Help: "Current bytes held by emulator buffers",
	})

	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coopvec_matrix_conversions_total",
		Help: "Matrix layout conversions, by execution path and destination layout",
	}, []string{"path", "layout"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coopvec_dispatch_duration_seconds",
		Help:    "Histogram of emulated program execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coopvec_validation_errors_total",
		Help: "Total number of rejected requests at the driver boundary",
	}, []string{"operation", "error_type"})
)

func RecordCase(group, status string, duration time.Duration) {
	CasesTotal.WithLabelValues(group, status).Inc()
	CaseDuration.WithLabelValues(group).Observe(duration.Seconds())
	totalCases.Add(1)
}

// TotalCases returns the number of cases recorded since start.
func TotalCases() int64 {
	return totalCases.Load()
}

func RecordMismatch(op string, count int) {
	if count <= 0 {
		return
	}
	MismatchesTotal.WithLabelValues(op).Add(float64(count))
}

func RecordFP8Retry() {
	FP8RetriesTotal.Inc()
}

func RecordEmulatorMemory(bytes int64) {
	EmulatorMemoryAllocated.Set(float64(bytes))
}

func RecordConversion(path, layout string) {
	ConversionsTotal.WithLabelValues(path, layout).Inc()
}

func RecordDispatchDuration(stage string, duration time.Duration) {
	DispatchDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}
