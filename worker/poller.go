package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MShaffar19/transitland-datastore/fetchinfo"
)

// Job is a task claimed from a durable queue
type Job struct {
	Id       string
	Task     fetchinfo.Task
	Attempts int
}

// JobSource is a durable queue shared by worker processes
type JobSource interface {
	// Claim leases up to limit jobs to this worker
	Claim(ctx context.Context, limit int) ([]Job, error)
	// Finish records the outcome of a claimed job
	Finish(ctx context.Context, id string, taskErr error) error
	// Release returns an interrupted job to the queue for another worker
	Release(ctx context.Context, id string) error
}

// PollerConfig controls claiming and concurrency
type PollerConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
}

// Poller claims jobs from a JobSource and runs them
type Poller struct {
	source  JobSource
	handler Handler
	cfg     PollerConfig
}

func NewPoller(source JobSource, handler Handler, cfg PollerConfig) *Poller {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = cfg.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Poller{source: source, handler: handler, cfg: cfg}
}

// Run polls until ctx is cancelled. While the queue is empty the wait between
// polls grows up to the poll interval.
func (p *Poller) Run(ctx context.Context) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = p.cfg.PollInterval / 10
	idle.MaxInterval = p.cfg.PollInterval
	idle.MaxElapsedTime = 0 // Never stop polling

	log.WithFields(log.Fields{
		"concurrency": p.cfg.Concurrency,
		"batch":       p.cfg.BatchSize,
		"interval":    p.cfg.PollInterval,
	}).Info("Starting job poller")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.poll(ctx)
		if err != nil {
			log.Errorf("Error claiming jobs: %v", err)
		}
		if n > 0 && err == nil {
			idle.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idle.NextBackOff()):
		}
	}
}

// poll claims one batch and runs it to completion
func (p *Poller) poll(ctx context.Context) (int, error) {
	jobs, err := p.source.Claim(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	jobsClaimed.Add(float64(len(jobs)))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			taskErr := p.handler(ctx, job.Task)

			// a job cut short by shutdown has no outcome, so another worker takes it
			if taskErr != nil && ctx.Err() != nil {
				if err := p.source.Release(context.WithoutCancel(ctx), job.Id); err != nil {
					log.WithFields(log.Fields{
						"job":   job.Id,
						"error": err,
					}).Error("Failed to release interrupted job")
				}
				return nil
			}
			observeTask(start, taskErr)

			if err := p.source.Finish(context.WithoutCancel(ctx), job.Id, taskErr); err != nil {
				log.WithFields(log.Fields{
					"job":   job.Id,
					"error": err,
				}).Error("Failed to record job outcome")
			}
			return nil
		})
	}

	return len(jobs), g.Wait()
}
