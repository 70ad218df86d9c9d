package gbolt

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Giulio2002/gbolt/spill"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Tx represents a read-only or read/write transaction on the database.
// Read-only transactions can be used for retrieving values for keys and creating cursors.
// Read/write transactions can create and remove buckets and create and remove keys.
//
// IMPORTANT: You must commit or rollback transactions when you are done with
// them. Pages can not be reclaimed by the writer until no more transactions
// are using them. A long running read transaction can cause the database to
// quickly grow.
type Tx struct {
	writable       bool
	managed        bool
	db             *DB
	meta           *meta
	root           Bucket
	pages          map[pgid]*page
	spilled        map[pgid]spill.Slot // dirty pages held by the spill buffer
	nodes          []*node // arena of materialized nodes, indexed by nodeRef
	stats          TxStats
	commitHandlers []func()
}

// init initializes the transaction.
func (tx *Tx) init(db *DB) {
	tx.db = db
	tx.pages = nil
	tx.nodes = nil

	// Copy the meta page since it can be changed by the writer.
	tx.meta = &meta{}
	db.meta().copy(tx.meta)

	// The root bucket shares its descriptor with the meta so a spill of the
	// root updates the meta in place.
	tx.root = newBucket(tx)
	tx.root.bucket = &tx.meta.root

	// Increment the transaction id and add a page cache for writable transactions.
	if tx.writable {
		tx.pages = make(map[pgid]*page)
		tx.meta.txid += txid(1)
	}
}

// ID returns the transaction id.
func (tx *Tx) ID() int {
	if tx == nil || tx.meta == nil {
		return -1
	}
	return int(tx.meta.txid)
}

// DB returns a reference to the database that created the transaction.
func (tx *Tx) DB() *DB {
	return tx.db
}

// Size returns current database size in bytes as seen by this transaction.
func (tx *Tx) Size() int64 {
	return int64(tx.meta.pgid) * int64(tx.db.pageSize)
}

// Writable returns whether the transaction can perform write operations.
func (tx *Tx) Writable() bool {
	return tx.writable
}

// Cursor creates a cursor associated with the root bucket.
// All items in the cursor will return a nil value because all root bucket keys point to buckets.
// The cursor is only valid as long as the transaction is open.
// Do not use a cursor after the transaction is closed.
func (tx *Tx) Cursor() *Cursor {
	return tx.root.Cursor()
}

// Stats retrieves a copy of the current transaction statistics.
func (tx *Tx) Stats() TxStats {
	return tx.stats
}

// Bucket retrieves a bucket by name.
// Returns nil if the bucket does not exist.
// The bucket instance is only valid for the lifetime of the transaction.
func (tx *Tx) Bucket(name []byte) *Bucket {
	return tx.root.Bucket(name)
}

// CreateBucket creates a new bucket.
// Returns an error if the bucket already exists, if the bucket name is blank, or if the bucket name is too long.
// The bucket instance is only valid for the lifetime of the transaction.
func (tx *Tx) CreateBucket(name []byte) (*Bucket, error) {
	return tx.root.CreateBucket(name)
}

// CreateBucketIfNotExists creates a new bucket if it doesn't already exist.
// Returns an error if the bucket name is blank, or if the bucket name is too long.
// The bucket instance is only valid for the lifetime of the transaction.
func (tx *Tx) CreateBucketIfNotExists(name []byte) (*Bucket, error) {
	return tx.root.CreateBucketIfNotExists(name)
}

// DeleteBucket deletes a bucket.
// Returns an error if the bucket cannot be found or if the key represents a non-bucket value.
func (tx *Tx) DeleteBucket(name []byte) error {
	return tx.root.DeleteBucket(name)
}

// ForEach executes a function for each bucket in the root.
// If the provided function returns an error then the iteration is stopped and
// the error is returned to the caller.
func (tx *Tx) ForEach(fn func(name []byte, b *Bucket) error) error {
	return tx.root.ForEach(func(k, v []byte) error {
		return fn(k, tx.root.Bucket(k))
	})
}

// OnCommit adds a handler function to be executed after the transaction successfully commits.
func (tx *Tx) OnCommit(fn func()) {
	tx.commitHandlers = append(tx.commitHandlers, fn)
}

// Commit writes all changes to disk and updates the meta page.
// Returns an error if a disk write error occurs, or if Commit is
// called on a read-only transaction.
func (tx *Tx) Commit() error {
	if tx.managed {
		return ErrTxManaged
	} else if tx.db == nil {
		return ErrTxClosed
	} else if !tx.writable {
		return ErrTxNotWritable
	}

	lg := tx.db.logger
	tid := tx.meta.txid

	// Rebalance nodes which have had deletions.
	var startTime = time.Now()
	tx.root.rebalance()
	if tx.stats.Rebalance > 0 {
		tx.stats.RebalanceTime += time.Since(startTime)
	}

	// spill data onto dirty pages.
	opgid := tx.meta.pgid
	startTime = time.Now()
	if err := tx.root.spill(); err != nil {
		lg.Error("spill failed", zap.Uint64("txid", uint64(tid)), zap.Error(err))
		tx.rollback()
		return err
	}
	tx.stats.SpillTime += time.Since(startTime)

	// Free the old freelist because commit writes out a fresh freelist.
	tx.db.freelist.free(tx.meta.txid, tx.db.page(tx.meta.freelist))
	if err := tx.commitFreelist(); err != nil {
		lg.Error("freelist commit failed", zap.Uint64("txid", uint64(tid)), zap.Error(err))
		return err
	}

	// If the high water mark has moved up then attempt to grow the database.
	if tx.meta.pgid > opgid {
		if err := tx.db.grow(int(tx.meta.pgid+1) * tx.db.pageSize); err != nil {
			lg.Error("grow failed", zap.Uint64("txid", uint64(tid)), zap.Uint64("pgid", uint64(tx.meta.pgid)), zap.Error(err))
			tx.rollback()
			return err
		}
	}

	// Write dirty pages to disk.
	startTime = time.Now()
	written := len(tx.pages)
	if err := tx.write(); err != nil {
		lg.Error("page write failed", zap.Uint64("txid", uint64(tid)), zap.Error(err))
		tx.rollback()
		return err
	}

	// If strict mode is enabled then perform a consistency check.
	if tx.db.StrictMode {
		ch := tx.Check()
		var errs []string
		for err := range ch {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			panic("check fail: " + strings.Join(errs, "\n"))
		}
	}

	// Write meta to disk.
	if err := tx.writeMeta(); err != nil {
		lg.Error("meta write failed", zap.Uint64("txid", uint64(tid)), zap.Error(err))
		tx.rollback()
		return err
	}
	tx.stats.WriteTime += time.Since(startTime)

	lg.Debug("commit",
		zap.Uint64("txid", uint64(tid)),
		zap.Int("pages", written),
		zap.Duration("spill", tx.stats.SpillTime),
		zap.Duration("write", tx.stats.WriteTime),
	)

	// Finalize the transaction.
	handlers := tx.commitHandlers
	tx.close()

	// Execute commit handlers now that the locks have been removed.
	for _, fn := range handlers {
		fn()
	}

	return nil
}

// commitFreelist allocates pages for the freelist and writes it out.
// The size is taken before allocation, which can only shrink the list.
func (tx *Tx) commitFreelist() error {
	p, err := tx.allocate((tx.db.freelist.size() / tx.db.pageSize) + 1)
	if err != nil {
		tx.rollback()
		return err
	}
	if err := tx.db.freelist.write(p); err != nil {
		tx.rollback()
		return err
	}
	tx.meta.freelist = p.id()

	return nil
}

// Rollback closes the transaction and ignores all previous updates. Read-only
// transactions must be rolled back and not committed.
func (tx *Tx) Rollback() error {
	if tx.managed {
		return ErrTxManaged
	} else if tx.db == nil {
		return ErrTxClosed
	}
	tx.rollback()
	return nil
}

// rollback discards the pending frees of a writer and reloads the persisted
// freelist, which undoes any allocation the writer made.
func (tx *Tx) rollback() {
	if tx.db == nil {
		return
	}
	if tx.writable {
		tx.db.freelist.rollback(tx.meta.txid)
		if tx.db.data != nil {
			tx.db.freelist.reload(tx.db.page(tx.db.meta().freelist))
		}
	}
	tx.close()
}

func (tx *Tx) close() {
	if tx.db == nil {
		return
	}
	if tx.writable {
		// Grab freelist stats.
		var freelistFreeN = tx.db.freelist.freeCount()
		var freelistPendingN = tx.db.freelist.pendingCount()
		var freelistAlloc = tx.db.freelist.size()

		if len(tx.spilled) > 0 {
			slots := make([]spill.Slot, 0, len(tx.spilled))
			for _, s := range tx.spilled {
				slots = append(slots, s)
			}
			tx.db.spill.Release(slots...)
			tx.stats.SpillPageN += int64(len(slots))
			tx.spilled = nil
		}

		// Remove transaction ref & writer lock.
		tx.db.rwtx = nil
		tx.db.rwlock.Unlock()

		// Merge statistics.
		tx.db.statlock.Lock()
		tx.db.stats.FreePageN = freelistFreeN
		tx.db.stats.PendingPageN = freelistPendingN
		tx.db.stats.FreeAlloc = (freelistFreeN + freelistPendingN) * tx.db.pageSize
		tx.db.stats.FreelistInuse = freelistAlloc
		tx.db.stats.TxStats.add(&tx.stats)
		tx.db.statlock.Unlock()
	} else {
		tx.db.removeTx(tx)
	}

	// Clear all references.
	tx.db = nil
	tx.meta = nil
	tx.root = Bucket{tx: tx}
	tx.pages = nil
	tx.nodes = nil
	tx.commitHandlers = nil
}

// WriteTo writes the entire database to a writer.
// Both meta pages are rewritten from this transaction's meta so the copy
// opens at exactly this snapshot.
func (tx *Tx) WriteTo(w io.Writer) (n int64, err error) {
	if tx.db == nil {
		return 0, ErrTxClosed
	}

	buf := make([]byte, tx.db.pageSize)
	p := &page{data: buf}
	for i := 0; i < 2; i++ {
		clear(buf)

		m := *tx.meta
		if i == 1 {
			m.txid -= 1
		}
		m.write(p)
		p.setID(pgid(i))

		nn, err := w.Write(buf)
		n += int64(nn)
		if err != nil {
			return n, errors.Wrapf(err, "meta %d copy", i)
		}
	}

	// Copy data pages using a SectionReader over the database file.
	dataOffset := int64(tx.db.pageSize * 2)
	dataSize := tx.Size() - dataOffset
	sr := io.NewSectionReader(tx.db.file, dataOffset, dataSize)
	wn, err := io.CopyN(w, sr, dataSize)
	n += wn
	if err != nil {
		return n, errors.Wrap(err, "data copy")
	}

	return n, nil
}

// CopyFile copies the entire database to file at the given path.
// A reader transaction is maintained during the copy so it is safe to continue
// using the database while a copy is in progress.
func (tx *Tx) CopyFile(path string, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "open copy target")
	}

	_, err = tx.WriteTo(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// allocate returns a contiguous block of memory starting at a given page.
func (tx *Tx) allocate(count int) (*page, error) {
	p, err := tx.db.allocate(tx.meta.txid, count)
	if err != nil {
		return nil, err
	}

	// Save to our page cache.
	tx.pages[p.id()] = p

	// Update statistics.
	tx.stats.PageCount += int64(count)
	tx.stats.PageAlloc += int64(count * tx.db.pageSize)

	return p, nil
}

// write writes any dirty pages to disk.
func (tx *Tx) write() error {
	// Sort pages by id.
	pages := make([]*page, 0, len(tx.pages))
	for _, p := range tx.pages {
		pages = append(pages, p)
	}
	// Clear out page cache early.
	tx.pages = make(map[pgid]*page)
	sort.Slice(pages, func(i, j int) bool { return pages[i].id() < pages[j].id() })

	// Write pages to disk in order.
	for _, p := range pages {
		size := (int(p.overflow()) + 1) * tx.db.pageSize
		offset := int64(p.id()) * int64(tx.db.pageSize)
		if _, err := tx.db.file.WriteAt(p.data[:size], offset); err != nil {
			return errors.Wrapf(err, "write page %d", p.id())
		}

		// Update statistics.
		tx.stats.Write++
	}

	// Ignore file sync if flag is set on DB.
	if !tx.db.NoSync || IgnoreNoSync {
		if err := fdatasync(tx.db); err != nil {
			return errors.Wrap(err, "fdatasync")
		}
	}

	// Put small pages back to page pool.
	for _, p := range pages {
		// Ignore page sizes over 1 page.
		// These are allocated using make() instead of the page pool.
		if int(p.overflow()) != 0 {
			continue
		}
		if _, ok := tx.spilled[p.id()]; ok {
			continue
		}

		buf := p.data[:tx.db.pageSize]
		clear(buf)
		tx.db.pagePool.Put(&buf)
	}

	return nil
}

// writeMeta writes the meta to the disk.
func (tx *Tx) writeMeta() error {
	// Create a temporary buffer for the meta page.
	buf := make([]byte, tx.db.pageSize)
	p := &page{data: buf}
	tx.meta.write(p)

	// Write the meta page to file.
	tx.db.metalock.Lock()
	if _, err := tx.db.file.WriteAt(buf, int64(p.id())*int64(tx.db.pageSize)); err != nil {
		tx.db.metalock.Unlock()
		return errors.Wrap(err, "write meta")
	}
	tx.db.metalock.Unlock()

	if !tx.db.NoSync || IgnoreNoSync {
		if err := fdatasync(tx.db); err != nil {
			return errors.Wrap(err, "fdatasync")
		}
	}

	// Update statistics.
	tx.stats.Write++

	return nil
}

// page returns a reference to the page with a given id.
// If page has been written to then a temporary buffered page is returned.
func (tx *Tx) page(id pgid) *page {
	// Check the dirty pages first.
	if tx.pages != nil {
		if p, ok := tx.pages[id]; ok {
			return p
		}
	}

	// Otherwise return directly from the mmap.
	return tx.db.page(id)
}

// forEachPage iterates over every page within a given page and executes a function.
func (tx *Tx) forEachPage(id pgid, fn func(*page, int, []pgid)) {
	stack := make([]pgid, 10)
	stack[0] = id
	tx.forEachPageInternal(stack[:1], fn)
}

func (tx *Tx) forEachPageInternal(stack []pgid, fn func(*page, int, []pgid)) {
	p := tx.page(stack[len(stack)-1])

	// Execute function.
	fn(p, len(stack)-1, stack)

	// Recursively loop over children.
	if p.isBranch() {
		for i := 0; i < int(p.count()); i++ {
			tx.forEachPageInternal(append(stack, p.branchPgid(uint16(i))), fn)
		}
	}
}

// Page returns page information for a given page number.
// This is only safe for concurrent use when used by a writable transaction.
func (tx *Tx) Page(id int) (*PageInfo, error) {
	if tx.db == nil {
		return nil, ErrTxClosed
	} else if pgid(id) >= tx.meta.pgid {
		return nil, nil
	}

	// Build the page info.
	p := tx.db.page(pgid(id))
	info := &PageInfo{
		ID:            id,
		Count:         int(p.count()),
		OverflowCount: int(p.overflow()),
	}

	// Determine the type (or if it's free).
	if tx.db.freelist.freed(pgid(id)) {
		info.Type = "free"
	} else {
		info.Type = p.typ()
	}

	return info, nil
}

// String describes the transaction for logs and panics.
func (tx *Tx) String() string {
	return fmt.Sprintf("tx{id: %d, writable: %t}", tx.ID(), tx.writable)
}
