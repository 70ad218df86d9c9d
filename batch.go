package gbolt

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Batch calls fn as part of a batch. It behaves similar to Update,
// except:
//
// 1. concurrent Batch calls can be combined into a single write transaction.
//
// 2. the function passed to Batch may be called multiple times,
// regardless of whether it returns error or not.
//
// This means that Batch function side effects must be idempotent and
// take permanent effect only after a successful return is seen in
// caller.
//
// The maximum batch size and delay can be adjusted with DB.MaxBatchSize
// and DB.MaxBatchDelay, respectively.
//
// Batch is only useful when there are multiple goroutines calling it.
func (db *DB) Batch(fn func(*Tx) error) error {
	errCh := make(chan error, 1)

	db.batchMu.Lock()
	if db.batch == nil || len(db.batch.calls) >= db.MaxBatchSize {
		// There is no existing batch, or the existing batch is full; start a new one.
		db.batch = &batch{db: db}
		db.batch.timer = time.AfterFunc(db.MaxBatchDelay, db.batch.trigger)
	}
	db.batch.calls = append(db.batch.calls, call{fn: fn, err: errCh})
	if len(db.batch.calls) >= db.MaxBatchSize {
		// wake up batch, it's ready to run
		go db.batch.trigger()
	}
	db.batchMu.Unlock()

	err := <-errCh
	if errors.Is(err, errTrySolo) {
		err = db.Update(fn)
	}
	return err
}

type call struct {
	fn  func(*Tx) error
	err chan<- error
}

// batch is a group of calls that share one write transaction.
type batch struct {
	db    *DB
	timer *time.Timer
	start sync.Once
	calls []call
}

// trigger runs the batch if it hasn't already been run.
func (b *batch) trigger() {
	b.start.Do(b.run)
}

// run executes the calls in one Update and reports the outcome to each
// caller. A call that fails is removed and told to retry alone, then the
// remaining calls run again.
func (b *batch) run() {
	b.db.batchMu.Lock()
	b.timer.Stop()
	// Detach so no new calls join this batch; later batches are unaffected.
	if b.db.batch == b {
		b.db.batch = nil
	}
	b.db.batchMu.Unlock()

	for len(b.calls) > 0 {
		failIdx := -1
		err := b.db.Update(func(tx *Tx) error {
			for i, c := range b.calls {
				if err := safelyCall(c.fn, tx); err != nil {
					failIdx = i
					return err
				}
			}
			return nil
		})

		if failIdx >= 0 {
			c := b.calls[failIdx]
			b.calls[failIdx], b.calls = b.calls[len(b.calls)-1], b.calls[:len(b.calls)-1]
			b.db.logger.Debug("batch call failed, retrying solo",
				zap.Int("remaining", len(b.calls)),
				zap.Error(err),
			)
			c.err <- errTrySolo
			continue
		}

		// Success, or an engine error, goes to every caller.
		for _, c := range b.calls {
			c.err <- err
		}
		return
	}
}

// errTrySolo signals a Batch caller to re-run its function in its own
// transaction. It never escapes Batch.
var errTrySolo = errors.New("batch function returned an error and should be re-run solo")

// panicked carries a recovered panic out of a batched function.
type panicked struct {
	reason any
}

func (p panicked) Error() string {
	if err, ok := p.reason.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("panic: %v", p.reason)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p}
		}
	}()
	return fn(tx)
}
