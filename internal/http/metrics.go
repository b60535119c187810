package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (b *base) initMetrics(subsystem string) {
	b.metricsOnce.Do(func() {
		b.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagestack",
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		b.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagestack",
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		b.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagestack",
			Subsystem: subsystem,
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		collectors := []prometheus.Collector{b.requestTotal, b.requestLatency, b.rateLimitHits}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == b.requestTotal {
							b.requestTotal = v
						} else if collector == b.rateLimitHits {
							b.rateLimitHits = v
						}
					case *prometheus.HistogramVec:
						b.requestLatency = v
					}
				}
			}
		}
		b.metricsInitialized = true
	})
}

func (b *base) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !b.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	b.requestTotal.With(labels).Inc()
	b.requestLatency.With(labels).Observe(duration.Seconds())
}

func (b *base) recordRateLimitHit(route, key string) {
	if !b.metricsInitialized {
		return
	}
	b.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}
