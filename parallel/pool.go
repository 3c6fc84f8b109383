// Package parallel runs index-range work on a persistent pool of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Threshold is the minimum range length dispatched to workers. Shorter
// ranges run on the calling goroutine.
const Threshold = 64

// Func processes the half-open range [start, end). slot identifies the chunk
// and lies in [0, Workers()); callers index per-slot scratch buffers with it.
// A slot always covers the same range for a given n, so merging slot buffers
// in order is deterministic.
type Func func(slot, start, end int)

type chunk struct {
	slot, start, end int
	fn               Func
}

// Pool is a set of persistent workers. Run must not be called concurrently.
// A nil *Pool runs everything serially.
type Pool struct {
	numWorkers int

	workChan chan chunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewPool creates a pool with the given number of workers; workers <= 0
// selects GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: workers}
}

// Workers returns the number of slots a Func may receive.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

func (p *Pool) start() {
	if p.running {
		return
	}
	p.workChan = make(chan chunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case c, ok := <-p.workChan:
			if !ok {
				return
			}
			c.fn(c.slot, c.start, c.end)
			p.doneChan <- struct{}{}
		}
	}
}

// Run splits [0, n) into at most Workers() chunks and blocks until all are
// processed.
func (p *Pool) Run(n int, fn Func) {
	if n <= 0 {
		return
	}
	if p == nil || p.numWorkers == 1 || n < Threshold {
		fn(0, 0, n)
		return
	}
	p.start()

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- chunk{slot: w, start: start, end: end, fn: fn}
		dispatched++
	}
	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
}

// Close stops the workers. The pool restarts them on the next Run.
func (p *Pool) Close() {
	if p == nil || !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}
