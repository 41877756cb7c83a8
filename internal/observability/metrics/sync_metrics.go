package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the shared metric labels.
type Config struct {
	ServiceName string
	Environment string
}

const (
	SyncJobKindCreate = "create"
	SyncJobKindDelete = "delete"
)

const (
	SyncOutcomeCompleted = "completed"
	SyncOutcomeFailed    = "failed"
	SyncOutcomeDead      = "dead"
)

// SyncMetrics captures CRM synchronization health signals.
type SyncMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobOutcomes     *prometheus.CounterVec
	jobRetries      *prometheus.CounterVec
	crmCalls        *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	slotRejections  *prometheus.CounterVec
	workerLoopLag   prometheus.Observer
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "famlink"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SyncMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_sync_job_runs_total",
			Help:        "Sync job executions by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "famlink_sync_job_duration_seconds",
			Help:        "Sync job execution duration.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_sync_job_outcomes_total",
			Help:        "Terminal and retryable job outcomes by kind.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_sync_job_retries_total",
			Help:        "Job reschedules after a failed attempt.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		crmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_crm_calls_total",
			Help:        "Outbound CRM calls by operation and result.",
			ConstLabels: constLabels,
		}, []string{"operation", "result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_slot_reconciliations_total",
			Help:        "Slot ledger reconciliations against the family graph.",
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		slotRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "famlink_slot_rejections_total",
			Help:        "Create requests rejected by slot accounting.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		workerLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "famlink_sync_worker_loop_lag_seconds",
			Help:        "Delay between the scheduled and actual worker tick.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobOutcomes,
		m.jobRetries,
		m.crmCalls,
		m.reconciliations,
		m.slotRejections,
		m.workerLoopLag.(prometheus.Collector),
	)

	return m
}

func (m *SyncMetrics) IncJobRun(kind string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(kind).Inc()
}

func (m *SyncMetrics) ObserveJobDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *SyncMetrics) IncJobOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *SyncMetrics) IncJobRetry(kind string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(kind).Inc()
}

func (m *SyncMetrics) IncCRMCall(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.crmCalls.WithLabelValues(operation, result).Inc()
}

func (m *SyncMetrics) IncReconciliation(trigger string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(trigger).Inc()
}

func (m *SyncMetrics) IncSlotRejection(reason string) {
	if m == nil {
		return
	}
	m.slotRejections.WithLabelValues(reason).Inc()
}

func (m *SyncMetrics) ObserveWorkerLoopLag(lag time.Duration) {
	if m == nil || m.workerLoopLag == nil {
		return
	}
	m.workerLoopLag.Observe(lag.Seconds())
}
