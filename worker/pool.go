package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/MShaffar19/transitland-datastore/fetchinfo"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrClosed    = errors.New("worker pool is shut down")
)

// Handler runs one task
type Handler func(ctx context.Context, task fetchinfo.Task) error

// Pool is an in-process task queue served by a fixed number of goroutines.
// Tasks for a URL that is already being handled share that run instead of
// starting another.
type Pool struct {
	maxWorkers  int
	workerQueue chan fetchinfo.Task
	handler     Handler
	group       singleflight.Group

	mu      sync.RWMutex
	closed  bool
	started bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(ctx context.Context, maxWorkers int, maxQueueSize int, handler Handler) *Pool {
	ctx, cancel := context.WithCancel(ctx)

	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &Pool{
		maxWorkers:  maxWorkers,
		workerQueue: make(chan fetchinfo.Task, maxQueueSize),
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue hands the task to the pool without blocking
func (p *Pool) Enqueue(ctx context.Context, task fetchinfo.Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.workerQueue <- task:
		queueDepth.Set(float64(len(p.workerQueue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.startWorker(i)
	}
}

// Shutdown stops accepting tasks, lets workers finish the queued ones and
// waits for them. Cancelling the parent context aborts queued tasks instead.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.workerQueue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	p.cancel()
}

func (p *Pool) startWorker(id int) {
	defer p.wg.Done() // Ensure we mark the worker as done when we exit

	for {
		select {
		case <-p.ctx.Done():
			log.Infof("Worker %d: Shutting down", id)
			return
		case task, ok := <-p.workerQueue:
			if !ok {
				log.Infof("Worker %d: Queue closed", id)
				return
			}
			queueDepth.Set(float64(len(p.workerQueue)))
			if err := p.run(task); err != nil {
				log.Errorf("Worker %d: Error running task %s for %s: %v", id, task.Id, task.Url, err)
			}
		}
	}
}

func (p *Pool) run(task fetchinfo.Task) error {
	start := time.Now()

	_, err, shared := p.group.Do(task.CacheKey, func() (interface{}, error) {
		return nil, p.handler(p.ctx, task)
	})
	if shared {
		tasksShared.Inc()
	}

	observeTask(start, err)
	return err
}
