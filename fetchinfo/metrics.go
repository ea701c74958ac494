package fetchinfo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transitland_fetch_info_cache_lookups_total",
		Help: "Fetch info cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	enqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitland_fetch_info_enqueue_failures_total",
		Help: "Placeholders written whose task could not be enqueued",
	})

	recordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transitland_fetch_info_records_written_total",
		Help: "Fetch info records written to the cache by status",
	}, []string{"status"})
)
