// Package gbolt is a pure Go embedded key/value store built on a
// copy-on-write B+tree, file-format compatible with bolt.
//
// The whole database lives in a single file that is memory-mapped
// read-only. Pages are written with pwrite and a commit becomes durable
// when the alternate meta page is written and synced.
//
// Key features:
//   - Nested buckets, each its own B+tree, with inline storage for small buckets
//   - Single writer, multiple concurrent readers; readers see a stable snapshot
//   - Freed pages are reused once no open reader can still observe them
//   - Batched writes that coalesce concurrent Update-style calls
//   - Online consistency check and hot backup through a read transaction
//
// Basic usage:
//
//	db, err := gbolt.Open("/path/to/db", 0600, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Update(func(tx *gbolt.Tx) error {
//	    b, err := tx.CreateBucketIfNotExists([]byte("widgets"))
//	    if err != nil {
//	        return err
//	    }
//	    return b.Put([]byte("foo"), []byte("bar"))
//	})
//
//	err = db.View(func(tx *gbolt.Tx) error {
//	    v := tx.Bucket([]byte("widgets")).Get([]byte("foo"))
//	    fmt.Printf("foo=%s\n", v)
//	    return nil
//	})
package gbolt
