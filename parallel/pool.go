package parallel

import (
	"runtime"
	"sync"
)

type (
	WorkerFunc func(func())
	WaitFunc   func(done bool)
	CancelFunc func()
)

// Pool runs queued functions on a fixed set of goroutines. Wait acts as a
// barrier and can be called any number of times until the pool is done.
type Pool struct {
	wg     sync.WaitGroup
	tasks  sync.WaitGroup
	Size   int
	Do     WorkerFunc
	Wait   WaitFunc
	Cancel CancelFunc
}

func Start(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	pool := &Pool{
		Size: numWorkers,
		Do: func(f func()) {
			f()
		},
		Wait:   func(bool) {},
		Cancel: func() {},
	}

	if numWorkers > 1 {
		workChan := make(chan func(), numWorkers)

		for range numWorkers {
			pool.wg.Go(func() {
				for {
					f, ok := <-workChan
					if !ok {
						return
					}
					f()
					pool.tasks.Done()
				}
			})
		}

		pool.Do = func(f func()) {
			pool.tasks.Add(1)
			workChan <- f
		}

		pool.Wait = func(done bool) {
			pool.tasks.Wait()
			if done {
				pool.Cancel()
				pool.wg.Wait()
			}
		}
		pool.Cancel = sync.OnceFunc(func() { close(workChan) })
	}

	return pool
}

// Range splits [0, n) into at most Size contiguous parts, runs fn on each
// and returns once all parts are done. Part boundaries depend only on n and
// Size. Range may be called from several goroutines sharing the pool.
func (p *Pool) Range(n int, fn func(part, lo, hi int)) {
	if n <= 0 {
		return
	}
	parts := p.Parts(n)

	var wg sync.WaitGroup
	wg.Add(parts)
	for part := range parts {
		lo, hi := part*n/parts, (part+1)*n/parts
		p.Do(func() {
			defer wg.Done()
			fn(part, lo, hi)
		})
	}
	wg.Wait()
}

// Parts returns how many parts Range uses for n items.
func (p *Pool) Parts(n int) int {
	return max(1, min(p.Size, n))
}
