package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dr_"

	resultSuccess = "success"
	resultError   = "error"

	dispatchResultDelivered = "delivered"
	dispatchResultFailed    = "failed"
	dispatchResultSkipped   = "skipped"
)

var (
	registerOnce sync.Once

	responseLevel *prometheus.GaugeVec
	observedPower *prometheus.GaugeVec
	targetPower   *prometheus.GaugeVec

	saturationTotal   *prometheus.CounterVec
	skippedStepsTotal prometheus.Counter
	tickTotal         *prometheus.CounterVec
	tickLatency       *prometheus.HistogramVec

	dispatchTotal       *prometheus.CounterVec
	backupOverrideTotal *prometheus.CounterVec

	eventsTotal *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers coordination metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		responseLevel = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "response_level",
				Help: "Current response level of the active event",
			},
			[]string{"event_id"},
		)
		observedPower = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "observed_power",
				Help: "Last observed aggregate power of the active event",
			},
			[]string{"event_id"},
		)
		targetPower = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "target_power",
				Help: "Target aggregate power of the active event",
			},
			[]string{"event_id"},
		)

		saturationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "level_saturation_total",
				Help: "Total response level clamps by bound",
			},
			[]string{"bound"},
		)
		skippedStepsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "skipped_steps_total",
				Help: "Total control steps skipped because a tick overran",
			},
		)
		tickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_ticks_total",
				Help: "Total control ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "control_tick_latency_seconds",
				Help:    "Control tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_commands_total",
				Help: "Total per-device dispatch commands by source and result",
			},
			[]string{"source", "result"},
		)
		backupOverrideTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "backup_override_total",
				Help: "Total backup controller overrides by direction",
			},
			[]string{"direction"},
		)

		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total DR events by outcome",
			},
			[]string{"outcome"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total event report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Event report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			responseLevel,
			observedPower,
			targetPower,
			saturationTotal,
			skippedStepsTotal,
			tickTotal,
			tickLatency,
			dispatchTotal,
			backupOverrideTotal,
			eventsTotal,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveProgress exports the latest progress sample of an event.
func ObserveProgress(eventID string, level int, observed, target float64) {
	if responseLevel != nil {
		responseLevel.WithLabelValues(eventID).Set(float64(level))
	}
	if observedPower != nil {
		observedPower.WithLabelValues(eventID).Set(observed)
	}
	if targetPower != nil {
		targetPower.WithLabelValues(eventID).Set(target)
	}
}

// ForgetEvent drops the per-event gauges once an event has finished.
func ForgetEvent(eventID string) {
	if responseLevel != nil {
		responseLevel.DeleteLabelValues(eventID)
	}
	if observedPower != nil {
		observedPower.DeleteLabelValues(eventID)
	}
	if targetPower != nil {
		targetPower.DeleteLabelValues(eventID)
	}
}

// IncSaturation increments the saturation counter for bound "max" or "min".
func IncSaturation(bound string) {
	if bound == "" {
		bound = "unknown"
	}
	if saturationTotal != nil {
		saturationTotal.WithLabelValues(bound).Inc()
	}
}

// AddSkippedSteps increments the skipped step counter by count.
func AddSkippedSteps(count int) {
	if count <= 0 {
		return
	}
	if skippedStepsTotal != nil {
		skippedStepsTotal.Add(float64(count))
	}
}

// ObserveTick records control tick latency and result.
func ObserveTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if tickTotal != nil {
		tickTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncDispatch increments the per-device dispatch counter.
func IncDispatch(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = dispatchResultDelivered
	}
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(source, result).Inc()
	}
}

// IncBackupOverride increments the backup override counter.
func IncBackupOverride(direction string) {
	if direction == "" {
		direction = "unknown"
	}
	if backupOverrideTotal != nil {
		backupOverrideTotal.WithLabelValues(direction).Inc()
	}
}

// IncEvent increments the event outcome counter.
func IncEvent(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReportExport records report export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	DispatchResultDelivered = dispatchResultDelivered
	DispatchResultFailed    = dispatchResultFailed
	DispatchResultSkipped   = dispatchResultSkipped
)
