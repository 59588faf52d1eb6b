// Package parallel runs compute workgroups of the CPU device on a fixed
// set of goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines for data-parallel kernel execution.
//
// Each worker has its own queue and steals from the others when its queue
// is empty, so uneven chunks still keep every worker busy.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool

	// submit is held for reading while ExecuteAll enqueues and for writing
	// while Close stops the pool, so no item is queued after the workers
	// begin their final drain.
	submit sync.RWMutex
}

// NewWorkerPool creates a pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *WorkerPool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll runs every work item and waits for all of them. A panic in a
// work item is recovered and returned as an error; the first one wins.
// On a closed pool the items run on the calling goroutine.
func (p *WorkerPool) ExecuteAll(work []func()) error {
	if len(work) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	run := func(fn func()) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("parallel: work item panicked: %v", r) })
			}
		}()
		fn()
	}

	wg.Add(len(work))
	p.submit.RLock()
	if !p.running.Load() {
		p.submit.RUnlock()
		for _, fn := range work {
			run(fn)
		}
		wg.Wait()
		return firstErr
	}
	for i, fn := range work {
		p.workQueues[i%p.workers] <- func() { run(fn) }
	}
	p.submit.RUnlock()
	wg.Wait()
	return firstErr
}

// ForRange splits [0, n) into contiguous chunks, at most a few per
// worker, and calls fn(lo, hi) for each chunk in parallel.
func (p *WorkerPool) ForRange(n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return nil
	}
	chunks := min(n, p.workers*2)
	size := (n + chunks - 1) / chunks
	work := make([]func(), 0, chunks)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	return p.ExecuteAll(work)
}

// Close stops the workers after the queued work has run. Close is safe
// to call multiple times.
func (p *WorkerPool) Close() {
	p.submit.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.submit.Unlock()
		return
	}
	close(p.done)
	p.submit.Unlock()
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
