package gbolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testPageSize = 4096

// tempPath returns a database path inside a per-test directory.
func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// mustOpenDB opens a fresh database that is closed when the test ends.
func mustOpenDB(t *testing.T, o *Options) *DB {
	t.Helper()
	return mustOpenPath(t, tempPath(t), o)
}

func mustOpenPath(t *testing.T, path string, o *Options) *DB {
	t.Helper()
	if o == nil {
		o = &Options{}
	}
	if o.PageSize == 0 {
		o.PageSize = testPageSize
	}
	db, err := Open(path, 0600, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenInitializesFile(t *testing.T) {
	path := tempPath(t)
	db := mustOpenPath(t, path, nil)
	require.Equal(t, path, db.Path())
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 4*testPageSize)

	for i := 0; i < 2; i++ {
		p := pageAt(raw, i*testPageSize, testPageSize)
		require.Equal(t, pgid(i), p.id())
		require.Equal(t, PageMeta, p.flags())

		m := p.meta()
		require.NoError(t, m.validate())
		require.Equal(t, Magic, m.magic)
		require.Equal(t, Version, m.version)
		require.Equal(t, uint32(testPageSize), m.pageSize)
		require.Equal(t, txid(i), m.txid)
		require.Equal(t, pgid(2), m.freelist)
		require.Equal(t, pgid(3), m.root.root)
		require.Equal(t, pgid(4), m.pgid)
	}

	fl := pageAt(raw, 2*testPageSize, testPageSize)
	require.Equal(t, PageFreelist, fl.flags())
	require.Zero(t, fl.count())

	leaf := pageAt(raw, 3*testPageSize, testPageSize)
	require.Equal(t, PageLeaf, leaf.flags())
	require.Zero(t, leaf.count())
}

func TestOpenEmptyDatabaseHasNoBuckets(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, 1, tx.ID())
		require.Equal(t, int64(4*testPageSize), tx.Size())
		k, v := tx.Cursor().First()
		require.Nil(t, k)
		require.Nil(t, v)
		return nil
	}))
}

func TestOpenReopen(t *testing.T) {
	path := tempPath(t)
	db := mustOpenPath(t, path, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket([]byte("widgets"))
		if err != nil {
			return err
		}
		return b.Put([]byte("foo"), []byte("bar"))
	}))
	require.NoError(t, db.Close())

	// The page size comes from the file, not the options.
	db, err := Open(path, 0600, &Options{PageSize: 8192})
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, testPageSize, db.pageSize)

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, 2, tx.ID())
		require.Equal(t, []byte("bar"), tx.Bucket([]byte("widgets")).Get([]byte("foo")))
		return nil
	}))
}

func TestOpenInvalidFile(t *testing.T) {
	path := tempPath(t)
	require.NoError(t, os.WriteFile(path, make([]byte, 2*testPageSize), 0600))

	_, err := Open(path, 0600, nil)
	require.ErrorIs(t, err, ErrInvalid)
	require.True(t, Is(err, CodeInvalid))

	// A tiny file cannot hold a meta page at all.
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))
	_, err = Open(path, 0600, nil)
	require.ErrorIs(t, err, ErrInvalid)
}

// corruptMeta rewrites one field of the meta stored on page id of the file.
func corruptMeta(t *testing.T, path string, id int, off int, v uint32) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err = f.WriteAt(buf[:], int64(id*testPageSize+pageHeaderSize+off))
	require.NoError(t, err)
}

func TestOpenVersionMismatch(t *testing.T) {
	path := tempPath(t)
	db := mustOpenPath(t, path, nil)
	require.NoError(t, db.Close())

	corruptMeta(t, path, 0, 4, 100)
	corruptMeta(t, path, 1, 4, 100)

	_, err := Open(path, 0600, nil)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestOpenChecksumRecovery(t *testing.T) {
	path := tempPath(t)
	db := mustOpenPath(t, path, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket([]byte("lost"))
		return err
	}))
	require.NoError(t, db.Close())

	// txid 2 lives on page 0; damage its high-water mark field.
	corruptMeta(t, path, 0, 40, 0xdead)

	db, err := Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, 1, tx.ID())
		require.Nil(t, tx.Bucket([]byte("lost")))
		return nil
	}))
	require.NoError(t, db.Close())

	// With both metas damaged the file is unusable.
	corruptMeta(t, path, 1, 40, 0xdead)
	_, err = Open(path, 0600, nil)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestOpenReadOnly(t *testing.T) {
	path := tempPath(t)
	db := mustOpenPath(t, path, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket([]byte("widgets"))
		if err != nil {
			return err
		}
		return b.Put([]byte("foo"), []byte("bar"))
	}))
	require.NoError(t, db.Close())

	ro, err := Open(path, 0600, &Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	require.True(t, ro.IsReadOnly())

	// Several read-only handles share the lock.
	ro2, err := Open(path, 0600, &Options{ReadOnly: true, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, ro2.Close())

	_, err = ro.Begin(true)
	require.ErrorIs(t, err, ErrDatabaseReadOnly)
	require.ErrorIs(t, ro.Update(func(*Tx) error { return nil }), ErrDatabaseReadOnly)

	require.NoError(t, ro.View(func(tx *Tx) error {
		require.Equal(t, []byte("bar"), tx.Bucket([]byte("widgets")).Get([]byte("foo")))
		return nil
	}))
}

func TestOpenReadOnlyEmptyFile(t *testing.T) {
	path := tempPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0600))
	_, err := Open(path, 0600, &Options{ReadOnly: true})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestOpenTimeout(t *testing.T) {
	path := tempPath(t)
	mustOpenPath(t, path, nil)

	start := time.Now()
	_, err := Open(path, 0600, &Options{Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	_, err = Open(path, 0600, &Options{ReadOnly: true, Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestOpenTimeoutLogged(t *testing.T) {
	path := tempPath(t)
	mustOpenPath(t, path, nil)

	core, logs := observer.New(zap.DebugLevel)
	_, err := Open(path, 0600, &Options{Timeout: 60 * time.Millisecond, Logger: zap.New(core)})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 1, logs.FilterMessage("file lock timeout").Len())
}

func TestClose(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Begin(false)
	require.ErrorIs(t, err, ErrDatabaseNotOpen)
	_, err = db.Begin(true)
	require.ErrorIs(t, err, ErrDatabaseNotOpen)
	require.ErrorIs(t, db.Sync(), ErrDatabaseNotOpen)
}

func TestCloseWaitsForWriter(t *testing.T) {
	db := mustOpenDB(t, nil)
	tx, err := db.Begin(true)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- db.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while a write transaction was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Rollback())
	require.NoError(t, <-closed)
}

func TestUpdateCommitsAndRollsBack(t *testing.T) {
	db := mustOpenDB(t, nil)

	boom := errors.New("boom")
	err := db.Update(func(tx *Tx) error {
		if _, err := tx.CreateBucket([]byte("widgets")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Nil(t, tx.Bucket([]byte("widgets")))
		return nil
	}))

	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))
	require.NoError(t, db.View(func(tx *Tx) error {
		require.NotNil(t, tx.Bucket([]byte("widgets")))
		return nil
	}))
}

func TestUpdateManaged(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		require.ErrorIs(t, tx.Commit(), ErrTxManaged)
		require.ErrorIs(t, tx.Rollback(), ErrTxManaged)
		return nil
	}))
	require.NoError(t, db.View(func(tx *Tx) error {
		require.ErrorIs(t, tx.Rollback(), ErrTxManaged)
		return nil
	}))
}

func TestUpdatePanicReleasesWriter(t *testing.T) {
	db := mustOpenDB(t, nil)

	require.Panics(t, func() {
		_ = db.Update(func(tx *Tx) error {
			_, _ = tx.CreateBucket([]byte("widgets"))
			panic("omg")
		})
	})

	// The writer lock was released and the bucket never committed.
	require.NoError(t, db.Update(func(tx *Tx) error {
		require.Nil(t, tx.Bucket([]byte("widgets")))
		return nil
	}))
}

func TestViewError(t *testing.T) {
	db := mustOpenDB(t, nil)
	boom := errors.New("boom")
	require.ErrorIs(t, db.View(func(*Tx) error { return boom }), boom)
	require.Equal(t, 0, db.Stats().OpenTxN)
}

func TestStats(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))

	before := db.Stats()
	for i := 0; i < 3; i++ {
		require.NoError(t, db.View(func(*Tx) error { return nil }))
	}
	after := db.Stats()
	diff := after.Sub(&before)

	require.Equal(t, 3, diff.TxN)
	require.Equal(t, 0, after.OpenTxN)
	require.Positive(t, before.TxStats.Write)
	require.Positive(t, before.TxStats.PageCount)
}

func TestSyncAndInfo(t *testing.T) {
	db := mustOpenDB(t, &Options{NoSync: true})
	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))
	require.NoError(t, db.Sync())

	info := db.Info()
	require.NotZero(t, info.Data)
	require.Equal(t, testPageSize, info.PageSize)
}

func TestMmapSize(t *testing.T) {
	db := &DB{pageSize: testPageSize}

	for _, tc := range []struct{ in, want int }{
		{0, 32 << 10},
		{16384, 32 << 10},
		{32 << 10, 32 << 10},
		{(32 << 10) + 1, 64 << 10},
		{1 << 20, 1 << 20},
		{1 << 30, 1 << 30},
		{(1 << 30) + 1, 2 << 30},
		{(5 << 30) - 1, 5 << 30},
		{maxMapSize - 1, maxMapSize},
		{maxMapSize, maxMapSize},
	} {
		got, err := db.mmapSize(tc.in)
		require.NoError(t, err, "size %d", tc.in)
		require.Equal(t, tc.want, got, "size %d", tc.in)
	}

	_, err := db.mmapSize(maxMapSize + 1)
	require.ErrorIs(t, err, ErrOutOfAllocableSpace)
}

func TestInitialMmapSize(t *testing.T) {
	db := mustOpenDB(t, &Options{InitialMmapSize: 1 << 22})
	require.Equal(t, 1<<22, db.datasz)
}

// Ensure that only one write transaction runs at any instant.
func TestBeginRWSerializes(t *testing.T) {
	db := mustOpenDB(t, nil)
	tx, err := db.Begin(true)
	require.NoError(t, err)

	started := make(chan *Tx)
	go func() {
		tx2, err := db.Begin(true)
		if err != nil {
			panic(err)
		}
		started <- tx2
	}()

	select {
	case <-started:
		t.Fatal("second writer started while the first was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	tx2 := <-started
	require.Equal(t, 3, tx2.ID())
	require.NoError(t, tx2.Rollback())
}

func TestLargeDatabaseRemap(t *testing.T) {
	db := mustOpenDB(t, &Options{StrictMode: true})
	value := make([]byte, 512)

	// Enough data to force several remaps while the writer holds nodes.
	for batch := 0; batch < 8; batch++ {
		require.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte("widgets"))
			if err != nil {
				return err
			}
			for i := 0; i < 500; i++ {
				k := []byte(fmt.Sprintf("%02d-%06d", batch, i))
				if err := b.Put(k, value); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	require.Greater(t, db.datasz, 1<<20)

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, 4000, tx.Bucket([]byte("widgets")).Stats().KeyN)
		return nil
	}))
}

func TestFreePagesAreReused(t *testing.T) {
	db := mustOpenDB(t, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte("widgets"))
			if err != nil {
				return err
			}
			return b.Put([]byte("counter"), []byte(fmt.Sprint(i)))
		}))
	}

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Less(t, tx.Size(), int64(16*testPageSize))
		return nil
	}))
	require.Positive(t, db.Stats().FreePageN+db.Stats().PendingPageN)
}

func TestOpenReaderPinsPages(t *testing.T) {
	db := mustOpenDB(t, &Options{InitialMmapSize: 1 << 22})
	require.NoError(t, db.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket([]byte("widgets"))
		if err != nil {
			return err
		}
		return b.Put([]byte("k"), []byte("v1"))
	}))

	reader, err := db.Begin(false)
	require.NoError(t, err)

	for i := 2; i < 20; i++ {
		require.NoError(t, db.Update(func(tx *Tx) error {
			return tx.Bucket([]byte("widgets")).Put([]byte("k"), []byte(fmt.Sprintf("v%d", i)))
		}))
	}

	// The reader keeps its snapshot while writers reuse other pages.
	require.Equal(t, []byte("v1"), reader.Bucket([]byte("widgets")).Get([]byte("k")))
	require.Equal(t, 1, db.Stats().OpenTxN)
	require.NoError(t, reader.Rollback())
	require.ErrorIs(t, reader.Rollback(), ErrTxClosed)

	var writes atomic.Int32
	require.NoError(t, db.Update(func(tx *Tx) error {
		tx.OnCommit(func() { writes.Add(1) })
		return nil
	}))
	require.Equal(t, int32(1), writes.Load())
}

func TestOpenLogsLifecycle(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	db := mustOpenDB(t, &Options{Logger: zap.New(core)})
	require.NoError(t, db.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))
	require.NoError(t, db.Close())

	for _, msg := range []string{"init", "open", "mmap", "commit", "close"} {
		require.Positive(t, logs.FilterMessage(msg).Len(), msg)
	}
	entry := logs.FilterMessage("open").All()[0]
	require.Equal(t, "gbolt", entry.LoggerName)
	require.Empty(t, db.Path())
}

func TestSpillBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	spillPath := filepath.Join(dir, "dirty.spill")

	db := mustOpenPath(t, path, &Options{SpillPath: spillPath, SpillSegmentPages: 4, StrictMode: true})
	require.NotNil(t, db.spill)

	err := db.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket([]byte("widgets"))
		if err != nil {
			return err
		}
		for i := 0; i < 2000; i++ {
			if err := b.Put([]byte(fmt.Sprintf("%05d", i)), make([]byte, 100)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// Slots are back in the buffer and the buffer grew past one segment.
	require.Equal(t, 0, db.spill.Allocated())
	require.Greater(t, db.spill.Capacity(), 4)
	require.Greater(t, db.Stats().TxStats.SpillPageN, int64(4))
	_, err = os.Stat(spillPath + ".1")
	require.NoError(t, err)

	// A second commit reuses the released slots.
	capacity := db.spill.Capacity()
	require.NoError(t, db.Update(func(tx *Tx) error {
		return tx.Bucket([]byte("widgets")).Put([]byte("00001"), []byte("x"))
	}))
	require.Equal(t, capacity, db.spill.Capacity())

	require.NoError(t, db.Close())
	_, err = os.Stat(spillPath)
	require.True(t, os.IsNotExist(err))

	// The file is an ordinary database without the spill buffer.
	db = mustOpenPath(t, path, &Options{ReadOnly: true})
	require.Nil(t, db.spill)
	require.NoError(t, db.View(func(tx *Tx) error {
		b := tx.Bucket([]byte("widgets"))
		require.Equal(t, 2000, b.Stats().KeyN)
		require.Equal(t, []byte("x"), b.Get([]byte("00001")))
		require.Equal(t, make([]byte, 100), b.Get([]byte("01999")))
		for err := range tx.Check() {
			t.Error(err)
		}
		return nil
	}))
}
