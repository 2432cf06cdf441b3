package clock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Task is one unit of propagation work.
type Task func(ctx context.Context)

// Dispatcher runs propagation work off the caller's goroutine. Tasks submitted
// with the same key run in submission order.
type Dispatcher interface {
	// Submit reports false when the task was dropped.
	Submit(key uuid.UUID, task Task) bool
}

// Inline runs every task synchronously on the caller's goroutine.
type Inline struct{}

func (Inline) Submit(_ uuid.UUID, task Task) bool {
	task(context.Background())
	return true
}

// Pool is a fixed set of workers, each draining its own bounded queue. A key
// always lands on the same worker.
type Pool struct {
	queues []chan Task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool of numWorkers workers with queueSize slots each.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{queues: make([]chan Task, numWorkers)}
	for i := range p.queues {
		p.queues[i] = make(chan Task, queueSize)
	}
	return p
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	log.Info().Int("workers", len(p.queues)).Msg("propagation pool started")
}

func (p *Pool) Submit(key uuid.UUID, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	h := fnv.New32a()
	_, _ = h.Write(key[:])
	idx := int(h.Sum32() % uint32(len(p.queues)))

	select {
	case p.queues[idx] <- task:
		return true
	default:
		log.Warn().
			Str("key", key.String()).
			Int("worker_id", idx).
			Msg("propagation queue full, dropping task")
		return false
	}
}

// Stop stops accepting tasks, lets queued tasks finish and waits for workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	log.Info().Msg("propagation pool shut down")
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for task := range p.queues[workerID] {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Int("worker_id", workerID).Msg("propagation task panicked")
				}
			}()
			task(ctx)
		}()
	}
}
