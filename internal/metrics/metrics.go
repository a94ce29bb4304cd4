// Package metrics exposes Prometheus counters for the pipeline and a
// small health snapshot for the /health endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArticlesSelected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosspost_articles_selected_total",
		Help: "Articles selected into publication batches.",
	})

	ArticlesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crosspost_articles_published_total",
		Help: "Articles successfully delivered, by platform.",
	}, []string{"platform"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crosspost_publish_failures_total",
		Help: "Per-article publish failures, by platform.",
	}, []string{"platform"})

	DuplicatesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosspost_duplicates_filtered_total",
		Help: "Articles excluded because the ledger already contains them.",
	})

	LedgerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crosspost_ledger_size",
		Help: "Number of ids currently retained in the dedup ledger.",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crosspost_run_duration_seconds",
		Help:    "Wall time of a full publication run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Health tracks the last run outcome for the monitoring endpoint.
type Health struct {
	mu sync.RWMutex

	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Health{IsHealthy: true}

func (h *Health) SetLastRun() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastRunTime = time.Now()
	h.IsHealthy = true
}

func (h *Health) SetError(err string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastError = err
	h.LastErrorTime = time.Now()
	h.IsHealthy = false
}

func (h *Health) Snapshot() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"last_run_time":   h.LastRunTime.Format(time.RFC3339),
		"last_error_time": h.LastErrorTime.Format(time.RFC3339),
		"last_error":      h.LastError,
		"is_healthy":      h.IsHealthy,
	}
}
