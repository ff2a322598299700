package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// MetricsCollector owns the domain-level Prometheus series: generation
// throughput and latency, feedback volume, and the size of the active set.
type MetricsCollector struct {
	db     DatabaseQuerier
	logger *logrus.Logger

	generationsTotal   *prometheus.CounterVec
	generationDuration prometheus.Histogram
	feedbackTotal      *prometheus.CounterVec
	activeRecsGauge    prometheus.Gauge
	cacheRequests      *prometheus.CounterVec
}

func NewMetricsCollector(db DatabaseQuerier, logger *logrus.Logger) *MetricsCollector {
	mc := &MetricsCollector{
		db:     db,
		logger: logger,
		generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_generations_total",
			Help: "Pipeline runs by outcome",
		}, []string{"status"}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recommendation_generation_duration_seconds",
			Help:    "Per-user pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		feedbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_feedback_total",
			Help: "Feedback events by type",
		}, []string{"type"}),
		activeRecsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recommendation_active_total",
			Help: "Active content recommendations across all users",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_cache_requests_total",
			Help: "Read cache requests by outcome",
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{
		mc.generationsTotal, mc.generationDuration, mc.feedbackTotal,
		mc.activeRecsGauge, mc.cacheRequests,
	} {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register recommendation metric")
			}
		}
	}

	go mc.pollActiveSet()
	return mc
}

// ObserveGeneration records one pipeline run.
func (m *MetricsCollector) ObserveGeneration(duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.generationsTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.generationDuration.Observe(duration.Seconds())
	}
}

// ObserveFeedback records one feedback event by type.
func (m *MetricsCollector) ObserveFeedback(feedbackType string) {
	m.feedbackTotal.WithLabelValues(feedbackType).Inc()
}

// ObserveCache records a read cache hit or miss.
func (m *MetricsCollector) ObserveCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheRequests.WithLabelValues(outcome).Inc()
}

func (m *MetricsCollector) pollActiveSet() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var active int64
		err := m.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM content_recommendations
			WHERE dismissed_at IS NULL AND expires_at > NOW()`).Scan(&active)
		cancel()
		if err != nil {
			m.logger.WithError(err).Debug("Failed to poll active recommendation count")
			continue
		}
		m.activeRecsGauge.Set(float64(active))
	}
}
