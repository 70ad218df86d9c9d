package gbolt

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Ensure that committing a closed transaction returns an error.
func TestTxCommitErrTxClosed(t *testing.T) {
	db := mustOpenDB(t, nil)
	tx, err := db.Begin(true)
	require.NoError(t, err)
	_, err = tx.CreateBucket([]byte("foo"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	require.ErrorIs(t, tx.Rollback(), ErrTxClosed)
}

// Ensure that committing a read-only transaction returns an error.
func TestTxCommitErrTxNotWritable(t *testing.T) {
	db := mustOpenDB(t, nil)
	tx, err := db.Begin(false)
	require.NoError(t, err)
	require.ErrorIs(t, tx.Commit(), ErrTxNotWritable)
	require.NoError(t, tx.Rollback())
}

// Ensure that a rolled back writer leaves no trace.
func TestTxRollback(t *testing.T) {
	db := mustOpenDB(t, nil)
	fillBucket(t, db, "widgets", "a")

	tx, err := db.Begin(true)
	require.NoError(t, err)
	b := tx.Bucket([]byte("widgets"))
	require.NoError(t, b.Put([]byte("b"), []byte("2")))
	_, err = tx.CreateBucket([]byte("woojits"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Nil(t, tx.Bucket([]byte("woojits")))
		require.Nil(t, tx.Bucket([]byte("widgets")).Get([]byte("b")))
		require.Equal(t, []byte("v-a"), tx.Bucket([]byte("widgets")).Get([]byte("a")))
		return nil
	}))
}

func TestTxIDAndWritable(t *testing.T) {
	db := mustOpenDB(t, nil)

	require.NoError(t, db.View(func(tx *Tx) error {
		require.False(t, tx.Writable())
		require.Equal(t, 1, tx.ID())
		require.Same(t, db, tx.DB())
		require.Equal(t, int64(4*testPageSize), tx.Size())
		return nil
	}))

	require.NoError(t, db.Update(func(tx *Tx) error {
		require.True(t, tx.Writable())
		require.Equal(t, 2, tx.ID())
		require.Contains(t, tx.String(), "writable: true")
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, 2, tx.ID())
		return nil
	}))
}

// Ensure that a read transaction does not see data committed after it began.
func TestTxSnapshotIsolation(t *testing.T) {
	db := mustOpenDB(t, nil)
	fillBucket(t, db, "widgets", "a")

	reader, err := db.Begin(false)
	require.NoError(t, err)
	defer func() { _ = reader.Rollback() }()

	fillBucket(t, db, "widgets", "b")
	fillBucket(t, db, "other")

	require.Nil(t, reader.Bucket([]byte("widgets")).Get([]byte("b")))
	require.Nil(t, reader.Bucket([]byte("other")))

	require.NoError(t, db.View(func(tx *Tx) error {
		require.Equal(t, []byte("v-b"), tx.Bucket([]byte("widgets")).Get([]byte("b")))
		return nil
	}))
}

// Ensure that commit handlers run only after a successful commit.
func TestTxOnCommit(t *testing.T) {
	db := mustOpenDB(t, nil)
	var x int
	require.NoError(t, db.Update(func(tx *Tx) error {
		tx.OnCommit(func() { x += 1 })
		tx.OnCommit(func() { x += 2 })
		_, err := tx.CreateBucket([]byte("widgets"))
		return err
	}))
	require.Equal(t, 3, x)

	var y int
	stop := errors.New("rollback this commit")
	err := db.Update(func(tx *Tx) error {
		tx.OnCommit(func() { y += 1 })
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Zero(t, y)
}

func TestTxCheck(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		for i := 0; i < 5; i++ {
			b, err := tx.CreateBucket([]byte(fmt.Sprintf("bucket-%d", i)))
			require.NoError(t, err)
			for j := 0; j < 500; j++ {
				require.NoError(t, b.Put([]byte(fmt.Sprintf("%05d", j)), bytes.Repeat([]byte("x"), 50)))
			}
			sub, err := b.CreateBucket([]byte("sub"))
			require.NoError(t, err)
			require.NoError(t, sub.Put([]byte("k"), []byte("v")))
		}
		return nil
	}))
	require.NoError(t, db.Update(func(tx *Tx) error {
		return tx.DeleteBucket([]byte("bucket-2"))
	}))

	for _, writable := range []bool{false, true} {
		tx, err := db.Begin(writable)
		require.NoError(t, err)
		var errs []error
		for err := range tx.Check() {
			errs = append(errs, err)
		}
		require.Empty(t, errs)
		require.NoError(t, tx.Rollback())
	}
}

// Ensure that Check reports a page that is neither reachable nor free.
func TestTxCheckUnreachablePage(t *testing.T) {
	db := mustOpenDB(t, nil)
	fillBucket(t, db, "widgets", "a")

	// Leak a page by reclaiming it from the freelist without using it.
	require.NoError(t, db.Update(func(tx *Tx) error {
		require.NotEmpty(t, db.freelist.ids)
		db.freelist.ids = db.freelist.ids[1:]
		db.freelist.reindex()
		return nil
	}))

	require.NoError(t, db.View(func(tx *Tx) error {
		var errs []error
		for err := range tx.Check() {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		require.Contains(t, errs[0].Error(), "unreachable unfreed")
		return nil
	}))
}

func TestTxPage(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.View(func(tx *Tx) error {
		p, err := tx.Page(0)
		require.NoError(t, err)
		require.Equal(t, "meta", p.Type)

		p, err = tx.Page(2)
		require.NoError(t, err)
		require.Equal(t, "freelist", p.Type)

		p, err = tx.Page(3)
		require.NoError(t, err)
		require.Equal(t, "leaf", p.Type)
		require.Zero(t, p.Count)

		// Past the high water mark.
		p, err = tx.Page(4)
		require.NoError(t, err)
		require.Nil(t, p)
		return nil
	}))

	tx, err := db.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	_, err = tx.Page(0)
	require.ErrorIs(t, err, ErrTxClosed)
}

// Ensure that a copy of the database opens at the same snapshot.
func TestTxCopyFile(t *testing.T) {
	// Large enough that the writer below never remaps under the reader.
	db := mustOpenDB(t, &Options{InitialMmapSize: 1 << 20})
	fillBucket(t, db, "widgets", "foo", "baz")

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.View(func(tx *Tx) error {
		// Writes after the copy began must not leak into it.
		require.NoError(t, db.Update(func(tx *Tx) error {
			return tx.Bucket([]byte("widgets")).Put([]byte("later"), []byte("x"))
		}))
		return tx.CopyFile(dest, 0600)
	}))

	cp := mustOpenPath(t, dest, nil)
	require.NoError(t, cp.View(func(tx *Tx) error {
		b := tx.Bucket([]byte("widgets"))
		require.Equal(t, []byte("v-foo"), b.Get([]byte("foo")))
		require.Equal(t, []byte("v-baz"), b.Get([]byte("baz")))
		require.Nil(t, b.Get([]byte("later")))
		for err := range tx.Check() {
			t.Errorf("check: %v", err)
		}
		return nil
	}))
}

type failWriter struct {
	n int
}

func (f *failWriter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, errors.New("meta 0 copy: error injected for tests")
	}
	f.n--
	return len(p), nil
}

func TestTxWriteToError(t *testing.T) {
	db := mustOpenDB(t, nil)
	fillBucket(t, db, "widgets", "foo")

	for _, n := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("after-%d-writes", n), func(t *testing.T) {
			require.NoError(t, db.View(func(tx *Tx) error {
				_, err := tx.WriteTo(&failWriter{n: n})
				require.Error(t, err)
				return nil
			}))
		})
	}

	var buf bytes.Buffer
	require.NoError(t, db.View(func(tx *Tx) error {
		n, err := tx.WriteTo(&buf)
		require.NoError(t, err)
		require.Equal(t, tx.Size(), n)
		return nil
	}))
}

func TestTxStats(t *testing.T) {
	db := mustOpenDB(t, nil)
	require.NoError(t, db.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket([]byte("widgets"))
		require.NoError(t, err)
		for i := 0; i < 2000; i++ {
			require.NoError(t, b.Put([]byte(fmt.Sprintf("%05d", i)), make([]byte, 64)))
		}
		require.Positive(t, tx.Stats().CursorCount)
		return nil
	}))

	s := db.Stats().TxStats
	require.Positive(t, s.Spill)
	require.Positive(t, s.Split)
	require.Positive(t, s.Write)
	require.Positive(t, s.PageCount)
}

// Ensure that StrictMode catches a corrupted tree on commit.
func TestTxStrictModeCommit(t *testing.T) {
	db := mustOpenDB(t, &Options{StrictMode: true})
	fillBucket(t, db, "widgets", "a", "b", "c")

	var msg any
	func() {
		defer func() { msg = recover() }()
		_ = db.Update(func(tx *Tx) error {
			// Forget every free page so the commit leaves them unaccounted.
			require.Equal(t, []pgid{2, 3}, db.freelist.ids)
			db.freelist.ids = nil
			db.freelist.reindex()
			return tx.Bucket([]byte("widgets")).Put([]byte("d"), []byte("4"))
		})
	}()
	require.Contains(t, msg, "check fail")
	require.Contains(t, msg, "page 2: unreachable unfreed")
	require.Contains(t, msg, "page 3: unreachable unfreed")

	// The panicking writer rolled back and released the lock.
	require.NoError(t, db.View(func(tx *Tx) error {
		require.Nil(t, tx.Bucket([]byte("widgets")).Get([]byte("d")))
		return nil
	}))
	fillBucket(t, db, "widgets", "e")
}
