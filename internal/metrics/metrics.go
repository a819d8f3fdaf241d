package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	compositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "compositions_total",
			Help:      "Total compositions by operation and result",
		},
		[]string{"op", "result"},
	)

	compositionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pagecomposer",
			Name:      "composition_duration_seconds",
			Help:      "Duration of compositions by operation",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	pagesComposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "pages_composed_total",
			Help:      "Total output pages written by operation",
		},
		[]string{"op"},
	)

	pagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "pages_skipped_total",
			Help:      "Requested pages or sources dropped as out of range or empty",
		},
		[]string{"op"},
	)

	historyWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "history_writes_total",
			Help:      "History appends by result",
		},
		[]string{"result"},
	)

	thumbnails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "thumbnails_total",
			Help:      "Thumbnail renders by result and cache outcome",
		},
		[]string{"result", "cache"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagecomposer",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

var initOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(compositions, compositionLatency, pagesComposed, pagesSkipped, historyWrites, thumbnails, httpRequests)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveComposition(op, result string, dur time.Duration) {
	compositions.WithLabelValues(op, result).Inc()
	compositionLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func AddPages(op string, n int)   { pagesComposed.WithLabelValues(op).Add(float64(n)) }
func AddSkipped(op string, n int) { pagesSkipped.WithLabelValues(op).Add(float64(n)) }

func IncHistoryWrite(result string) { historyWrites.WithLabelValues(result).Inc() }

// IncThumbnail counts one thumbnail request; cache is "hit", "miss" or "off".
func IncThumbnail(result, cache string) { thumbnails.WithLabelValues(result, cache).Inc() }

func IncHTTP(route string, code int) { httpRequests.WithLabelValues(route, codeToStr(code)).Inc() }

func codeToStr(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
