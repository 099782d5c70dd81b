package server

import "sync"

// registry is the bookkeeping of live workers. The mutex is held only for
// map mutation, never across I/O or a join — the drain sequence snapshots
// the handles under the lock and joins outside it, so a slow worker never
// blocks registration of others.
type registry struct {
	mu      sync.Mutex
	workers map[string]*worker
}

func newRegistry() *registry {
	return &registry{workers: make(map[string]*worker)}
}

func (r *registry) register(w *worker) {
	r.mu.Lock()
	r.workers[w.id] = w
	r.mu.Unlock()
}

// deregister removes a worker, typically the worker itself on exit.
// Removing an already-removed id is a no-op.
func (r *registry) deregister(id string) {
	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// drainAndJoinAll waits until every currently registered worker has
// exited. Idempotent: with zero registered workers it returns immediately.
func (r *registry) drainAndJoinAll() {
	r.mu.Lock()
	handles := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		handles = append(handles, w)
	}
	r.mu.Unlock()

	// Join outside the critical section.
	for _, w := range handles {
		<-w.done
	}
}
