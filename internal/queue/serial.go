// Package queue runs work for one key strictly in submission order while
// different keys proceed in parallel.
package queue

import "sync"

// Serial keeps one FIFO per key. A worker goroutine drains each non-empty
// FIFO and exits as soon as it is empty, so idle keys hold no resources.
type Serial struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func NewSerial() *Serial {
	return &Serial{pending: make(map[string][]func())}
}

// Submit enqueues fn behind any work already queued for key. It never blocks
// on the work itself.
func (s *Serial) Submit(key string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, running := s.pending[key]
	s.pending[key] = append(jobs, fn)
	if !running {
		s.wg.Add(1)
		go s.drain(key)
	}
}

func (s *Serial) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		jobs := s.pending[key]
		if len(jobs) == 0 {
			delete(s.pending, key)
			s.mu.Unlock()
			return
		}
		fn := jobs[0]
		jobs[0] = nil
		s.pending[key] = jobs[1:]
		s.mu.Unlock()

		fn()
	}
}

// Wait blocks until every submitted job has run.
func (s *Serial) Wait() {
	s.wg.Wait()
}

// Len reports how many keys currently have queued or running work.
func (s *Serial) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
