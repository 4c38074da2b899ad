package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 100
)

// Job is a unit of work bound to a connection and an ordering key.
// Jobs that share Connection and Key run sequentially on the same worker.
type Job struct {
	Connection string
	Key        string
	Handler    func(ctx context.Context) error
}

func (j Job) shardKey() string {
	return j.Connection + "|" + j.Key
}

type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	Uptime          time.Duration `json:"uptime"`
	WorkerStats     []WorkerStats `json:"worker_stats"`
}

type WorkerStats struct {
	WorkerID      int    `json:"worker_id"`
	QueueDepth    int    `json:"queue_depth"`
	CurrentKey    string `json:"current_key,omitempty"`
	JobsProcessed int64  `json:"jobs_processed"`
}

// Pool runs jobs on a fixed set of workers. A job's worker is picked by
// hashing its shard key, so per-key order holds while unrelated keys run in
// parallel. Queues are bounded and dispatch never blocks.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker

	// mu guards the open/closed state of the worker queues.
	mu      sync.RWMutex
	running bool
	stopped bool
	wg      sync.WaitGroup
	started time.Time

	dispatched atomic.Int64
	processed  atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

type worker struct {
	id        int
	queue     chan Job
	ctx       context.Context
	cancel    context.CancelFunc
	processed atomic.Int64
	current   atomic.Pointer[string]
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start launches the workers. Jobs see a context derived from ctx.
// Calling Start twice, or after Stop, does nothing.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}

	for i := range p.workers {
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{id: i, queue: make(chan Job, p.queueSize), ctx: wctx, cancel: cancel}
		p.workers[i] = w
		p.wg.Add(1)
		go p.run(w)
	}
	p.running = true
	p.started = time.Now()
	logrus.Infof("[WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues job and reports whether it was accepted. Jobs are
// refused before Start, after Stop, and when the target queue is full.
func (p *Pool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		p.dropped.Add(1)
		return false
	}

	shard := p.shardFor(job.Connection, job.Key)
	select {
	case p.workers[shard].queue <- job:
		p.dispatched.Add(1)
		return true
	default:
		p.dropped.Add(1)
		logrus.Warnf("[WORKER_POOL] Worker %d queue full, dropping job for %s", shard, job.shardKey())
		return false
	}
}

// Dispatch is TryDispatch for callers that accept a silent drop.
func (p *Pool) Dispatch(job Job) {
	_ = p.TryDispatch(job)
}

// Stop refuses new jobs, lets the workers drain what is queued and waits
// for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	wasRunning := p.running
	p.stopped = true
	p.running = false
	if wasRunning {
		for _, w := range p.workers {
			close(w.queue)
		}
	}
	p.mu.Unlock()

	if !wasRunning {
		return
	}
	logrus.Info("[WORKER_POOL] Stopping workers...")
	p.wg.Wait()
	for _, w := range p.workers {
		w.cancel()
	}
	logrus.Info("[WORKER_POOL] All workers stopped")
}

func (p *Pool) shardFor(connection, key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connection + "|" + key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) GetStats() PoolStats {
	stats := PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		TotalDispatched: p.dispatched.Load(),
		TotalProcessed:  p.processed.Load(),
		TotalDropped:    p.dropped.Load(),
		TotalErrors:     p.failed.Load(),
		WorkerStats:     make([]WorkerStats, 0, p.numWorkers),
	}

	p.mu.RLock()
	if !p.started.IsZero() {
		stats.Uptime = time.Since(p.started)
	}
	workers := p.workers
	p.mu.RUnlock()

	for _, w := range workers {
		if w == nil {
			continue
		}
		ws := WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.queue),
			JobsProcessed: w.processed.Load(),
		}
		if key := w.current.Load(); key != nil {
			ws.CurrentKey = *key
			stats.ActiveWorkers++
		}
		stats.WorkerStats = append(stats.WorkerStats, ws)
	}
	return stats
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	logrus.Debugf("[WORKER_POOL] Worker %d started", w.id)
	for job := range w.queue {
		p.process(w, job)
	}
	logrus.Debugf("[WORKER_POOL] Worker %d shutting down", w.id)
}

func (p *Pool) process(w *worker, job Job) {
	key := job.shardKey()
	w.current.Store(&key)
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logrus.Errorf("[WORKER_POOL] Worker %d panic for %s: %v", w.id, key, r)
		}
		w.current.Store(nil)
		w.processed.Add(1)
		p.processed.Add(1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		p.failed.Add(1)
		logrus.WithError(err).Errorf("[WORKER_POOL] Worker %d job failed for %s", w.id, key)
	}
}
