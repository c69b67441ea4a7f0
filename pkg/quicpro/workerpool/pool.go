// Package workerpool runs a fixed set of goroutines draining a shared
// task queue, grounded on the worker-pool / stop-channel pattern of
// the AF_XDP manager (internal/acceleration/afxdp/manager.go) in the
// broader retrieval pack: a stop channel, a sync.WaitGroup for join,
// and per-worker goroutines pulling from a shared channel rather than
// each owning a private queue.
package workerpool

import (
	"context"
	"log"
	"os"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

const defaultWorkers = 4

var logger = log.New(os.Stderr, "workerpool: ", log.LstdFlags)

// Task is a unit of work submitted to the pool. Returning an error
// does not stop the pool; it is collected and surfaced from Stop.
type Task func(ctx context.Context) error

// Pool runs N workers pulling Tasks off a FIFO queue that holds up to
// 4096 pending tasks.
type Pool struct {
	workers int
	tasks   chan Task
	stop    chan struct{}
	wg      sync.WaitGroup

	errMu sync.Mutex
	errs  *multierror.Error

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Pool with the given worker count (default 4 if n <= 0).
// The queue is bounded at 4096 pending tasks; it does not grow past
// that, and ScheduleTask blocks while it is full.
func New(n int) *Pool {
	if n <= 0 {
		n = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: n,
		tasks:   make(chan Task, 4096),
		stop:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RunForever starts the worker goroutines. Safe to call once; later
// calls are no-ops.
func (p *Pool) RunForever() {
	p.startOnce.Do(func() {
		logger.Printf("starting %d workers", p.workers)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.workerLoop()
		}
	})
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(t)
		}
	}
}

// drain runs any tasks already queued before honoring a stop request,
// so ScheduleTask calls made just before Stop are not silently lost.
func (p *Pool) drain() {
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		default:
			return
		}
	}
}

func (p *Pool) run(t Task) {
	if err := t(p.ctx); err != nil {
		p.errMu.Lock()
		p.errs = multierror.Append(p.errs, err)
		p.errMu.Unlock()
	}
}

// ScheduleTask enqueues t for execution by some worker. It returns at
// once while the queue has room and blocks while 4096 tasks are
// already pending.
func (p *Pool) ScheduleTask(t Task) {
	p.tasks <- t
}

// Stop signals all workers to drain their remaining queued tasks and
// exit, waits for them to finish, and returns the aggregated task
// errors observed over the pool's lifetime (nil if none).
func (p *Pool) Stop() error {
	p.stopOnce.Do(func() {
		logger.Println("stopping, draining queued tasks")
		close(p.stop)
		p.cancel()
	})
	p.wg.Wait()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	if err := p.errs.ErrorOrNil(); err != nil {
		logger.Printf("stopped with task errors: %v", err)
		return err
	}
	logger.Println("stopped cleanly")
	return nil
}
