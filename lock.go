package gbolt

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// fileLock is the advisory OS lock on the database file. Writers hold it
// exclusively, read-only handles hold it shared.
type fileLock struct {
	fl        *flock.Flock
	exclusive bool
}

// acquireFileLock locks path, retrying every flockRetryInterval until timeout
// elapses. A zero timeout waits forever.
func acquireFileLock(path string, exclusive bool, timeout time.Duration, lg *zap.Logger) (*fileLock, error) {
	fl := flock.New(path)

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		locked bool
		err    error
		start  = time.Now()
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, flockRetryInterval)
	} else {
		locked, err = fl.TryRLockContext(ctx, flockRetryInterval)
	}
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !locked) {
		lg.Warn("file lock timeout",
			zap.Bool("exclusive", exclusive),
			zap.Duration("waited", time.Since(start)),
		)
		return nil, ErrTimeout
	} else if err != nil {
		return nil, errors.Wrap(err, "flock")
	}

	if waited := time.Since(start); waited > flockRetryInterval {
		lg.Debug("file lock acquired", zap.Bool("exclusive", exclusive), zap.Duration("waited", waited))
	}
	return &fileLock{fl: fl, exclusive: exclusive}, nil
}

// release drops the lock and closes its descriptor.
func (l *fileLock) release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return errors.Wrap(err, "funlock")
	}
	return nil
}

// readerTable tracks open read transactions. The writer consults it to find
// the oldest snapshot still in use before reclaiming pending pages.
type readerTable struct {
	mu  sync.Mutex
	txs []*Tx
}

// register adds a read transaction and returns the number of open readers.
func (r *readerTable) register(tx *Tx) int {
	r.mu.Lock()
	r.txs = append(r.txs, tx)
	n := len(r.txs)
	r.mu.Unlock()
	return n
}

// unregister removes a read transaction and returns the number of open readers.
func (r *readerTable) unregister(tx *Tx) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.txs {
		if t == tx {
			last := len(r.txs) - 1
			r.txs[i] = r.txs[last]
			r.txs[last] = nil
			r.txs = r.txs[:last]
			break
		}
	}
	return len(r.txs)
}

// oldest returns the smallest txid held by an open reader, or ok == false
// when no reader is open.
func (r *readerTable) oldest() (id txid, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txs {
		if !ok || t.meta.txid < id {
			id, ok = t.meta.txid, true
		}
	}
	return id, ok
}

// len returns the number of open readers.
func (r *readerTable) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}
