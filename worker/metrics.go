package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transitland_worker_task_duration_seconds",
		Help:    "Duration of fetch info tasks by outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms up to ~3.4 minutes
	}, []string{"outcome"})

	tasksShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitland_worker_tasks_shared_total",
		Help: "Tasks that joined an in-flight run for the same cache key",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transitland_worker_queue_depth",
		Help: "Tasks waiting in the in-process queue",
	})

	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitland_worker_jobs_claimed_total",
		Help: "Jobs claimed from the database queue",
	})
)

func observeTask(start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	taskDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
