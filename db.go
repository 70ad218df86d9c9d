package gbolt

import (
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/Giulio2002/gbolt/mmap"
	"github.com/Giulio2002/gbolt/spill"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// defaultPageSize is the OS page size, used when a new file is created
// without an explicit Options.PageSize.
var defaultPageSize = os.Getpagesize()

// DB represents a collection of buckets persisted to a file on disk.
// All data access is performed through transactions which can be obtained through the DB.
// All the functions on DB will return a ErrDatabaseNotOpen if accessed before Open() is called.
type DB struct {
	// When enabled, the database will perform a Check() after every commit.
	// A panic is issued if the database is in an inconsistent state. This
	// flag has a large performance impact so it should only be used for
	// debugging purposes.
	StrictMode bool

	// Setting the NoSync flag will cause the database to skip fsync()
	// calls after each commit. This can be useful when bulk loading data
	// into a database and you can restart the bulk load in the event of
	// a system failure or database corruption. Do not set this flag for
	// normal use.
	//
	// THIS IS UNSAFE. PLEASE USE WITH CAUTION.
	NoSync bool

	// When true, skips the truncate call when growing the database.
	// Setting this to true is only safe on non-ext3/ext4 systems.
	// Skipping truncation avoids preallocation of hard drive space and
	// bypasses a truncate() and fsync() syscall on remapping.
	NoGrowSync bool

	// MmapFlags are OR'ed into MAP_SHARED, e.g. syscall.MAP_POPULATE on Linux.
	MmapFlags int

	// MaxBatchSize is the maximum size of a batch. Default value is
	// copied from DefaultMaxBatchSize in Open.
	//
	// If <=0, disables batching.
	//
	// Do not change concurrently with calls to Batch.
	MaxBatchSize int

	// MaxBatchDelay is the maximum delay before a batch starts.
	// Default value is copied from DefaultMaxBatchDelay in Open.
	//
	// If <=0, effectively disables batching.
	//
	// Do not change concurrently with calls to Batch.
	MaxBatchDelay time.Duration

	// AllocSize is the amount of space allocated when the database
	// needs to create new pages. This is done to amortize the cost
	// of truncate() and fsync() when growing the data file.
	AllocSize int

	path     string
	file     *os.File
	flock    *fileLock
	dataref  *mmap.Map // mmap'ed readonly, write throws SEGV
	data     []byte
	datasz   int
	pageSize int
	opened   bool
	readOnly bool
	logger   *zap.Logger

	rwtx     *Tx
	readers  readerTable
	freelist *freelist
	stats    Stats

	pagePool sync.Pool
	spill    *spill.Buffer // single-page dirty buffers when Options.SpillPath is set

	batchMu sync.Mutex
	batch   *batch

	rwlock   sync.Mutex   // Allows only one writer at a time.
	metalock sync.Mutex   // Protects meta page access.
	mmaplock sync.RWMutex // Protects mmap access during remapping.
	statlock sync.RWMutex // Protects stats access.
}

// Path returns the path to currently open database file.
func (db *DB) Path() string {
	return db.path
}

// IsReadOnly returns whether the database was opened with Options.ReadOnly.
func (db *DB) IsReadOnly() bool {
	return db.readOnly
}

// Open creates and opens a database at the given path with a given file mode.
// If the file does not exist then it will be created automatically with a given file mode.
// Passing in nil options will cause gbolt to open the database with the default options.
// Note: For read/write transactions, ensure the owner has write permission on the created/opened database file, e.g. 0600
func Open(path string, mode os.FileMode, options *Options) (*DB, error) {
	db := &DB{
		opened: true,
	}
	// Set default options if no options are provided.
	if options == nil {
		options = DefaultOptions
	}
	db.NoSync = options.NoSync
	db.NoGrowSync = options.NoGrowSync
	db.MmapFlags = options.MmapFlags
	db.StrictMode = options.StrictMode

	// Set default values for later DB operations.
	db.MaxBatchSize = DefaultMaxBatchSize
	db.MaxBatchDelay = DefaultMaxBatchDelay
	db.AllocSize = DefaultAllocSize

	lg := options.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	db.logger = lg.Named("gbolt").With(zap.String("path", path))

	flag := os.O_RDWR
	if options.ReadOnly {
		flag = os.O_RDONLY
		db.readOnly = true
	} else {
		flag |= os.O_CREATE
	}

	// Open data file and separate sync handler for metadata writes.
	var err error
	if db.file, err = os.OpenFile(path, flag, mode); err != nil {
		_ = db.close()
		return nil, errors.Wrap(err, "open")
	}
	db.path = db.file.Name()

	// Lock file so that other processes using gbolt in read-write mode cannot
	// use the database at the same time. This would cause corruption since
	// the two processes would write meta pages and free pages separately.
	// The database file is locked exclusively (only one process can grab the lock)
	// if !options.ReadOnly.
	// The database file is locked using the shared lock (more than one process may
	// hold a lock at the same time) otherwise (options.ReadOnly is set).
	if db.flock, err = acquireFileLock(db.path, !db.readOnly, options.Timeout, db.logger); err != nil {
		_ = db.close()
		return nil, err
	}

	// Default values for test hooks
	if db.pageSize = options.PageSize; db.pageSize == 0 {
		db.pageSize = defaultPageSize
	}

	// Initialize the database if it doesn't exist.
	if info, err := db.file.Stat(); err != nil {
		_ = db.close()
		return nil, errors.Wrap(err, "stat")
	} else if info.Size() == 0 {
		if db.readOnly {
			_ = db.close()
			return nil, ErrInvalid
		}
		// Initialize new files with meta pages.
		if err := db.init(); err != nil {
			// clean up file descriptor on initialization fail
			_ = db.close()
			return nil, err
		}
	} else {
		// Read the first meta page to determine the page size.
		if db.pageSize, err = db.readPageSize(); err != nil {
			_ = db.close()
			return nil, err
		}
	}

	// Initialize page pool.
	db.pagePool = sync.Pool{
		New: func() any {
			buf := make([]byte, db.pageSize)
			return &buf
		},
	}

	if options.SpillPath != "" && !db.readOnly {
		if db.spill, err = spill.New(options.SpillPath, db.pageSize, options.SpillSegmentPages); err != nil {
			_ = db.close()
			return nil, err
		}
	}

	// Memory map the data file.
	if err := db.mmap(options.InitialMmapSize); err != nil {
		_ = db.close()
		return nil, err
	}

	// Read in the freelist.
	db.freelist = newFreelist()
	db.freelist.read(db.page(db.meta().freelist))
	db.stats.FreePageN = db.freelist.freeCount()

	db.logger.Debug("open",
		zap.Int("pageSize", db.pageSize),
		zap.Int("mmapSize", db.datasz),
		zap.Uint64("txid", uint64(db.meta().txid)),
		zap.Bool("readOnly", db.readOnly),
	)

	// Mark the database as opened and return.
	return db, nil
}

// readPageSize reads the page size recorded in the first valid meta page.
// Meta 0 sits at offset 0; meta 1 is probed at every power-of-two page size.
func (db *DB) readPageSize() (int, error) {
	var buf [pageHeaderSize + metaSize]byte

	if n, err := db.file.ReadAt(buf[:], 0); err == nil && n == len(buf) {
		if m := (&page{data: buf[:]}).meta(); m.validate() == nil {
			return int(m.pageSize), nil
		}
	}

	for size := 1024; size <= 1<<16; size <<= 1 {
		if n, err := db.file.ReadAt(buf[:], int64(size)); err != nil || n != len(buf) {
			break
		}
		if m := (&page{data: buf[:]}).meta(); m.validate() == nil && int(m.pageSize) == size {
			return size, nil
		}
	}

	// Neither meta validates: report why the first one failed.
	if _, err := db.file.ReadAt(buf[:], 0); err != nil {
		return 0, ErrInvalid
	}
	if err := (&page{data: buf[:]}).meta().validate(); err != nil {
		return 0, err
	}
	return 0, ErrInvalid
}

// mmap opens the underlying memory-mapped file and initializes the meta references.
// minsz is the minimum size that the new mmap can be.
func (db *DB) mmap(minsz int) error {
	db.mmaplock.Lock()
	defer db.mmaplock.Unlock()

	info, err := db.file.Stat()
	if err != nil {
		return errors.Wrap(err, "mmap stat")
	} else if int(info.Size()) < db.pageSize*2 {
		return errors.Wrap(ErrInvalid, "file size too small")
	}

	// Ensure the size is at least the minimum size.
	var size = int(info.Size())
	if size < minsz {
		size = minsz
	}
	size, err = db.mmapSize(size)
	if err != nil {
		return err
	}

	// Dereference all mmap references before unmapping.
	if db.rwtx != nil {
		db.rwtx.root.dereference()
	}

	oldsz := db.datasz
	if db.dataref == nil {
		db.dataref, err = mmap.New(int(db.file.Fd()), size, db.MmapFlags)
		if err == nil {
			err = db.dataref.AdviseRandom()
		}
	} else {
		err = db.dataref.Remap(int64(size))
	}
	if err != nil {
		db.invalidate()
		return errors.Wrap(err, "mmap")
	}
	db.data = db.dataref.Data()
	db.datasz = size

	// Validate the meta pages. We only return an error if both meta pages fail
	// validation, since meta0 failing validation means that it wasn't saved
	// properly -- but we can recover using meta1. And vice-versa.
	err0 := db.page(0).meta().validate()
	err1 := db.page(1).meta().validate()
	if err0 != nil && err1 != nil {
		return err0
	}

	db.logger.Debug("mmap", zap.Int("oldSize", oldsz), zap.Int("newSize", size))
	return nil
}

// invalidate drops the references to the mapped region.
func (db *DB) invalidate() {
	db.data = nil
	db.datasz = 0
}

// munmap unmaps the data file from memory.
func (db *DB) munmap() error {
	defer db.invalidate()
	if db.dataref == nil {
		return nil
	}
	err := db.dataref.Close()
	db.dataref = nil
	if err != nil {
		return errors.Wrap(err, "unmap")
	}
	return nil
}

// mmapSize determines the appropriate size for the mmap given the current size
// of the database. The minimum size is 32KB and doubles until it reaches 1GB.
// Returns an error if the new mmap size is greater than the max allowed.
func (db *DB) mmapSize(size int) (int, error) {
	// Double the size from 32KB until 1GB.
	for i := uint(15); i <= 30; i++ {
		if size <= 1<<i {
			return 1 << i, nil
		}
	}

	// Verify the requested size is not above the maximum allowed.
	if size > maxMapSize {
		return 0, WrapError(CodeOutOfAllocableSpace, errors.New("mmap too large"))
	}

	// If larger than 1GB then grow by 1GB at a time.
	sz := int64(size)
	if remainder := sz % int64(maxMmapStep); remainder > 0 {
		sz += int64(maxMmapStep) - remainder
	}

	// Ensure that the mmap size is a multiple of the page size.
	// This should always be true since we're incrementing in MBs.
	pageSize := int64(db.pageSize)
	if (sz % pageSize) != 0 {
		sz = ((sz / pageSize) + 1) * pageSize
	}

	// If we've exceeded the max size then only grow up to the max size.
	if sz > maxMapSize {
		sz = maxMapSize
	}

	return int(sz), nil
}

// init creates a new database file and initializes its meta pages.
func (db *DB) init() error {
	// Create two meta pages on a buffer.
	buf := make([]byte, db.pageSize*4)
	for i := 0; i < 2; i++ {
		p := db.pageInBuffer(buf, pgid(i))
		m := &meta{
			magic:    Magic,
			version:  Version,
			pageSize: uint32(db.pageSize),
			freelist: 2,
			root:     bucket{root: 3},
			pgid:     4,
			txid:     txid(i),
		}
		m.write(p)
	}

	// Write an empty freelist at page 3.
	p := db.pageInBuffer(buf, pgid(2))
	p.setID(2)
	p.setFlags(PageFreelist)
	p.setCount(0)

	// Write an empty leaf page at page 4.
	p = db.pageInBuffer(buf, pgid(3))
	p.setID(3)
	p.setFlags(PageLeaf)
	p.setCount(0)

	// Write the buffer to our data file.
	if _, err := db.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "init write")
	}
	if err := fdatasync(db); err != nil {
		return errors.Wrap(err, "init fdatasync")
	}

	db.logger.Debug("init", zap.Int("pageSize", db.pageSize))
	return nil
}

// Close releases all database resources.
// It will block waiting for any open transactions to finish
// before closing the database and returning.
func (db *DB) Close() error {
	db.rwlock.Lock()
	defer db.rwlock.Unlock()

	db.metalock.Lock()
	defer db.metalock.Unlock()

	db.mmaplock.Lock()
	defer db.mmaplock.Unlock()

	return db.close()
}

func (db *DB) close() error {
	if !db.opened {
		return nil
	}

	db.opened = false
	db.freelist = nil

	var errs []error
	// Unmap file
	if err := db.munmap(); err != nil {
		errs = append(errs, err)
	}

	if db.spill != nil {
		if err := db.spill.Close(); err != nil {
			errs = append(errs, err)
		}
		db.spill = nil
	}

	// Close file handles.
	if db.file != nil {
		if err := db.flock.release(); err != nil {
			errs = append(errs, err)
		}
		db.flock = nil

		// Close the file descriptor.
		if err := db.file.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "db file close"))
		}
		db.file = nil
	}

	if db.logger != nil {
		db.logger.Debug("close")
	}
	db.path = ""

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Begin starts a new transaction.
// Multiple read-only transactions can be used concurrently but only one
// write transaction can be used at a time. Starting multiple write transactions
// will cause the calls to block and be serialized until the current write
// transaction finishes.
//
// Transactions should not be dependent on one another. Opening a read
// transaction and a write transaction in the same goroutine can cause the
// writer to deadlock because the database periodically needs to re-mmap itself
// as it grows and it cannot do that while a read transaction is open.
//
// If a long running read transaction (for example, a snapshot transaction) is
// needed, you might want to set DB.InitialMmapSize to a large enough value
// to avoid potential blocking of write transaction.
//
// IMPORTANT: You must close read-only transactions after you are finished or
// else the database will not reclaim old pages.
func (db *DB) Begin(writable bool) (*Tx, error) {
	if writable {
		return db.beginRWTx()
	}
	return db.beginTx()
}

func (db *DB) beginTx() (*Tx, error) {
	// Lock the meta pages while we initialize the transaction. We obtain
	// the meta lock before the mmap lock because that's the order that the
	// write transaction will obtain them.
	db.metalock.Lock()

	// Obtain a read-only lock on the mmap. When the mmap is remapped it will
	// obtain a write lock so all transactions must finish before it can be
	// remapped.
	db.mmaplock.RLock()

	// Exit if the database is not open yet.
	if !db.opened {
		db.mmaplock.RUnlock()
		db.metalock.Unlock()
		return nil, ErrDatabaseNotOpen
	}

	// Create a transaction associated with the database.
	t := &Tx{}
	t.init(db)

	// Keep track of transaction until it closes.
	n := db.readers.register(t)

	// Unlock the meta pages.
	db.metalock.Unlock()

	// Update the transaction stats.
	db.statlock.Lock()
	db.stats.TxN++
	db.stats.OpenTxN = n
	db.statlock.Unlock()

	return t, nil
}

func (db *DB) beginRWTx() (*Tx, error) {
	// If the database was opened with Options.ReadOnly, return an error.
	if db.readOnly {
		return nil, ErrDatabaseReadOnly
	}

	// Obtain writer lock. This is released by the transaction when it closes.
	// This enforces only one writer transaction at a time.
	db.rwlock.Lock()

	// Once we have the writer lock then we can lock the meta pages so that
	// we can set up the transaction.
	db.metalock.Lock()
	defer db.metalock.Unlock()

	// Exit if the database is not open yet.
	if !db.opened {
		db.rwlock.Unlock()
		return nil, ErrDatabaseNotOpen
	}

	// Create a transaction associated with the database.
	t := &Tx{writable: true}
	t.init(db)
	db.rwtx = t

	// Free any pages associated with closed read-only transactions.
	var minid txid = 0xFFFFFFFFFFFFFFFF
	if oldest, ok := db.readers.oldest(); ok {
		minid = oldest
	}
	if minid > 0 {
		db.freelist.release(minid - 1)
	}

	return t, nil
}

// removeTx removes a transaction from the database.
func (db *DB) removeTx(tx *Tx) {
	// Release the read lock on the mmap.
	db.mmaplock.RUnlock()

	// Use the meta lock to restrict access to the DB object.
	db.metalock.Lock()
	n := db.readers.unregister(tx)
	db.metalock.Unlock()

	// Merge statistics.
	db.statlock.Lock()
	db.stats.OpenTxN = n
	db.stats.TxStats.add(&tx.stats)
	db.statlock.Unlock()
}

// Update executes a function within the context of a read-write managed transaction.
// If no error is returned from the function then the transaction is committed.
// If an error is returned then the entire transaction is rolled back.
// Any error that is returned from the function or returned from the commit is
// returned from the Update() method.
//
// Manually committing or rolling back within the function returns ErrTxManaged.
func (db *DB) Update(fn func(*Tx) error) error {
	t, err := db.Begin(true)
	if err != nil {
		return err
	}

	// Make sure the transaction rolls back in the event of a panic.
	defer func() {
		if t.db != nil {
			t.rollback()
		}
	}()

	// Mark as a managed tx so that the inner function cannot manually commit.
	t.managed = true

	// If an error is returned from the function then rollback and return error.
	err = fn(t)
	t.managed = false
	if err != nil {
		_ = t.Rollback()
		return err
	}

	return t.Commit()
}

// View executes a function within the context of a managed read-only transaction.
// Any error that is returned from the function is returned from the View() method.
//
// Manually rolling back within the function returns ErrTxManaged.
func (db *DB) View(fn func(*Tx) error) error {
	t, err := db.Begin(false)
	if err != nil {
		return err
	}

	// Make sure the transaction rolls back in the event of a panic.
	defer func() {
		if t.db != nil {
			t.rollback()
		}
	}()

	// Mark as a managed tx so that the inner function cannot manually rollback.
	t.managed = true

	// If an error is returned from the function then pass it through.
	err = fn(t)
	t.managed = false
	if err != nil {
		_ = t.Rollback()
		return err
	}

	return t.Rollback()
}

// Sync executes fdatasync() against the database file handle.
//
// This is not necessary under normal operation, however, if you use NoSync
// then it allows you to force the database file to sync against the disk.
func (db *DB) Sync() error {
	if !db.opened {
		return ErrDatabaseNotOpen
	}
	if err := fdatasync(db); err != nil {
		return errors.Wrap(err, "sync")
	}
	return nil
}

// Stats retrieves ongoing performance stats for the database.
// This is only updated when a transaction closes.
func (db *DB) Stats() Stats {
	db.statlock.RLock()
	defer db.statlock.RUnlock()
	return db.stats
}

// Info exposes the address of the mapped region and the page size. Use
// carefully, or not at all.
func (db *DB) Info() *Info {
	_assert(db.data != nil, "database file isn't correctly mapped")
	return &Info{uintptr(unsafe.Pointer(&db.data[0])), db.pageSize}
}

// page retrieves a page reference from the mmap based on the current page size.
func (db *DB) page(id pgid) *page {
	pos := int(id) * db.pageSize
	_assert(pos+pageHeaderSize <= len(db.data), "page %d beyond mapped size %d", id, len(db.data))
	return pageAt(db.data, pos, db.pageSize)
}

// pageInBuffer retrieves a page reference from a given byte array based on the current page size.
func (db *DB) pageInBuffer(b []byte, id pgid) *page {
	return pageAt(b, int(id)*db.pageSize, db.pageSize)
}

// meta retrieves the current meta page reference.
func (db *DB) meta() *meta {
	// We have to return the meta with the highest txid which doesn't fail
	// validation. Otherwise, we can cause errors when in fact the database is
	// in a consistent state. metaA is the one with the higher txid.
	metaA := db.page(0).meta()
	metaB := db.page(1).meta()
	if metaB.txid > metaA.txid {
		metaA, metaB = metaB, metaA
	}

	// Use higher meta page if valid. Otherwise, fallback to previous, if valid.
	if err := metaA.validate(); err == nil {
		return metaA
	} else if err := metaB.validate(); err == nil {
		return metaB
	}

	// This should never be reached, because both meta1 and meta0 were validated
	// on mmap() and we do fsync() on every write.
	panic("gbolt.DB.meta(): invalid meta pages")
}

// allocate returns a contiguous block of memory starting at a given page.
func (db *DB) allocate(tid txid, count int) (*page, error) {
	// Allocate a temporary buffer for the page.
	var buf []byte
	var slot *spill.Slot
	switch {
	case count == 1 && db.spill != nil:
		data, s, err := db.spill.Allocate()
		if err != nil {
			return nil, errors.Wrapf(err, "spill allocate for tx %d", tid)
		}
		buf, slot = data, &s
	case count == 1:
		buf = *(db.pagePool.Get().(*[]byte))
	default:
		buf = make([]byte, count*db.pageSize)
	}
	p := &page{data: buf}
	p.setOverflow(uint32(count - 1))

	// Use pages from the freelist if they are available.
	id := db.freelist.allocate(count)
	if id == 0 {
		// Resize mmap() if we're at the end.
		id = db.rwtx.meta.pgid
		var minsz = int((id+pgid(count))+1) * db.pageSize
		if minsz >= db.datasz {
			if err := db.mmap(minsz); err != nil {
				if slot != nil {
					db.spill.Release(*slot)
				}
				return nil, errors.Wrapf(err, "mmap allocate for tx %d", tid)
			}
		}

		// Move the page id high water mark.
		db.rwtx.meta.pgid += pgid(count)
	}
	p.setID(id)

	if slot != nil {
		if db.rwtx.spilled == nil {
			db.rwtx.spilled = make(map[pgid]spill.Slot)
		}
		db.rwtx.spilled[id] = *slot
	}

	return p, nil
}

// grow grows the size of the database to the given sz.
func (db *DB) grow(sz int) error {
	info, err := db.file.Stat()
	if err != nil {
		return errors.Wrap(err, "grow stat")
	}
	fileSize := int(info.Size())

	// Ignore if the new size is less than available file size.
	if sz <= fileSize {
		return nil
	}

	// If the data is smaller than the alloc size then only allocate what's needed.
	// Once it goes over the allocation size then allocate in chunks.
	if db.datasz <= db.AllocSize {
		sz = db.datasz
	} else {
		sz += db.AllocSize
	}

	// Truncate and fsync to ensure file size metadata is flushed.
	// https://github.com/boltdb/bolt/issues/284
	if !db.NoGrowSync && !db.readOnly {
		if err := db.file.Truncate(int64(sz)); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				return WrapError(CodeOutOfAllocableSpace, err)
			}
			return errors.Wrap(err, "file resize")
		}
		if err := db.file.Sync(); err != nil {
			return errors.Wrap(err, "file sync")
		}
	}

	db.logger.Debug("grow", zap.Int("from", fileSize), zap.Int("to", sz))
	return nil
}

// Options represents the options that can be set when opening a database.
type Options struct {
	// Timeout is the amount of time to wait to obtain a file lock.
	// When set to zero it will wait indefinitely.
	Timeout time.Duration

	// Sets the DB.NoGrowSync flag before memory mapping the file.
	NoGrowSync bool

	// Do not sync the data file after each commit. Sets DB.NoSync.
	NoSync bool

	// Open database in read-only mode. Uses flock(..., LOCK_SH |LOCK_NB) to
	// grab a shared lock (UNIX).
	ReadOnly bool

	// Sets the DB.MmapFlags flag before memory mapping the file.
	MmapFlags int

	// InitialMmapSize is the initial mmap size of the database
	// in bytes. Read transactions won't block write transaction
	// if the InitialMmapSize is large enough to hold database mmap
	// size. (See DB.Begin for more information)
	//
	// If <=0, the initial map size is 0.
	// If initialMmapSize is smaller than the previous database size,
	// it takes no effect.
	InitialMmapSize int

	// PageSize overrides the default OS page size. Only used when the
	// file is created.
	PageSize int

	// Sets DB.StrictMode.
	StrictMode bool

	// Logger receives debug and error events. Defaults to a no-op logger.
	Logger *zap.Logger

	// SpillPath, when set, keeps single-page dirty buffers of write
	// transactions in a memory-mapped scratch file at this path instead of
	// on the Go heap. The file is truncated on Open and removed on Close.
	// Ignored for read-only databases.
	SpillPath string

	// SpillSegmentPages is the number of pages each spill segment file
	// holds. Zero uses spill.DefaultSegmentPages.
	SpillSegmentPages int
}

// DefaultOptions represent the options used if nil options are passed into Open().
// No timeout is used which will cause gbolt to wait indefinitely for a lock.
var DefaultOptions = &Options{
	Timeout:    0,
	NoGrowSync: false,
}
