package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "events_running",
			Help: "Persisted events still marked running",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM dr_events WHERE status = 'running'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "dispatch_failures_last_hour",
			Help: "Undelivered dispatch log rows in the last hour",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM dispatch_logs WHERE delivered = FALSE AND error <> '' AND batch_time > NOW() - INTERVAL '1 hour'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
