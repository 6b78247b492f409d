package store

import (
	"runtime"

	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/value"
)

// AsyncStore offloads writes to a bounded worker pool so the caller (the app
// loop) never blocks on disk I/O. Reads stay synchronous:
// the app loop only ever reads what it itself just decided or what sync
// handed it, so there is no concurrent-read pressure worth pooling.
type AsyncStore struct {
	*Store
	jobs chan func()
	done chan struct{}
}

// NewAsyncStore wraps store with a worker pool sized to GOMAXPROCS, floored
// at 4 so a single-core node still gets write concurrency.
func NewAsyncStore(s *Store) *AsyncStore {
	workers := runtime.GOMAXPROCS(0)
	if workers < 4 {
		workers = 4
	}
	a := &AsyncStore{
		Store: s,
		jobs:  make(chan func(), 256),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	return a
}

func (a *AsyncStore) worker() {
	for {
		select {
		case job, ok := <-a.jobs:
			if !ok {
				return
			}
			job()
		case <-a.done:
			return
		}
	}
}

// Close signals the workers to stop and closes the underlying store. It
// does not wait for the queue to drain: jobs still queued when Close is
// called are not guaranteed to run.
func (a *AsyncStore) Close() error {
	close(a.done)
	return a.Store.Close()
}

// StoreDecidedValueAsync submits a decided-value write to the pool and
// reports the outcome on the returned channel.
func (a *AsyncStore) StoreDecidedValueAsync(cert types.CommitCertificate, vid types.ValueId) <-chan error {
	result := make(chan error, 1)
	a.jobs <- func() {
		result <- a.Store.StoreDecidedValue(cert, vid)
	}
	return result
}

// StoreUndecidedProposalAsync submits an undecided-proposal write to the
// pool and reports the outcome on the returned channel.
func (a *AsyncStore) StoreUndecidedProposalAsync(p value.ProposedValue) <-chan error {
	result := make(chan error, 1)
	a.jobs <- func() {
		result <- a.Store.StoreUndecidedProposal(p)
	}
	return result
}

// StoreBlockDataAsync submits a raw block data write (undecided or decided,
// depending on which table key the caller built) to the pool.
func (a *AsyncStore) StoreBlockDataAsync(write func() error) <-chan error {
	result := make(chan error, 1)
	a.jobs <- func() {
		result <- write()
	}
	return result
}
