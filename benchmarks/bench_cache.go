// Package benchmarks compares gbolt against bbolt, libmdbx (mdbx-go) and
// RocksDB on the same plain key/value workloads.
package benchmarks

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/Giulio2002/gbolt"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/tecbot/gorocksdb"
	bolt "go.etcd.io/bbolt"
)

// Cached benchmark database directory
const benchCacheDir = "testdata/benchdb"

// Every engine stores the same table: 8-byte big-endian keys and 32-byte values.
const (
	benchBucket  = "bench"
	benchValSize = 32
	batchSize    = 100_000
)

var (
	cacheMu     sync.Mutex
	gboltDBs    = make(map[int]*gbolt.DB)
	mdbxEnvs    = make(map[int]*mdbxgo.Env)
	boltDBs     = make(map[int]*bolt.DB)
	rocksDBs    = make(map[int]*gorocksdb.DB)
	sampleCache = make(map[int][][]byte)
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func benchKey(buf []byte, i int) []byte {
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

// shuffled returns 0..n-1 in a fixed pseudo-random order.
func shuffled(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := int(uint64(i*17+31) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// getCachedGboltDB returns a cached gbolt database, creating it if needed.
// The database is stored in testdata/benchdb/plain_<size>_gbolt.db
func getCachedGboltDB(b *testing.B, size int) (*gbolt.DB, [][]byte) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if db, ok := gboltDBs[size]; ok {
		return db, sampleCache[size]
	}
	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	path := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_gbolt.db", size))
	exists := fileExists(path)

	db, err := gbolt.Open(path, 0644, &gbolt.Options{
		NoSync:          true,
		InitialMmapSize: 128 * 1024 * 1024,
	})
	if err != nil {
		b.Fatal(err)
	}

	if !exists {
		b.Logf("Creating cached gbolt DB with %d keys...", size)
		populateGbolt(b, db, size)
	} else {
		b.Logf("Using cached gbolt DB with %d keys", size)
	}

	gboltDBs[size] = db
	sampleCache[size] = collectSampleKeys(b, db)
	return db, sampleCache[size]
}

func populateGbolt(b *testing.B, db *gbolt.DB, numKeys int) {
	key := make([]byte, 8)
	val := make([]byte, benchValSize)

	for start := 0; start < numKeys; start += batchSize {
		end := min(start+batchSize, numKeys)
		err := db.Update(func(tx *gbolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(benchBucket))
			if err != nil {
				return err
			}
			// Keys arrive in order, so pack the leaves.
			bucket.FillPercent = 0.9
			for i := start; i < end; i++ {
				binary.BigEndian.PutUint64(val, uint64(i))
				if err := bucket.Put(benchKey(key, i), val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// collectSampleKeys takes every 1000th key of the bench bucket.
func collectSampleKeys(b *testing.B, db *gbolt.DB) [][]byte {
	var samples [][]byte
	err := db.View(func(tx *gbolt.Tx) error {
		c := tx.Bucket([]byte(benchBucket)).Cursor()
		i := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if i%1000 == 0 {
				samples = append(samples, append([]byte(nil), k...))
			}
			i++
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return samples
}

// getCachedMdbxEnv returns a cached libmdbx environment, creating it if needed.
func getCachedMdbxEnv(b *testing.B, size int) *mdbxgo.Env {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if env, ok := mdbxEnvs[size]; ok {
		return env
	}
	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	path := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_mdbx.db", size))
	exists := fileExists(path)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	env.SetOption(mdbxgo.OptMaxDB, 10)
	env.SetGeometry(-1, -1, 1<<32, -1, -1, 4096) // 4GB max
	if err := env.Open(path, mdbxgo.NoSubdir|mdbxgo.NoMetaSync|mdbxgo.WriteMap, 0644); err != nil {
		b.Fatal(err)
	}

	if !exists {
		b.Logf("Creating cached mdbx DB with %d keys...", size)
		populateMdbx(b, env, size)
	} else {
		b.Logf("Using cached mdbx DB with %d keys", size)
	}

	mdbxEnvs[size] = env
	return env
}

func populateMdbx(b *testing.B, env *mdbxgo.Env, numKeys int) {
	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI(benchBucket, mdbxgo.Create, nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := txn.Put(dbi, benchKey(key, i), val, mdbxgo.Upsert); err != nil {
			b.Fatal(err)
		}

		if (i+1)%batchSize == 0 {
			if _, err := txn.Commit(); err != nil {
				b.Fatal(err)
			}
			txn, err = env.BeginTxn(nil, 0)
			if err != nil {
				b.Fatal(err)
			}
		}
	}

	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
}

// getCachedBoltDB returns a cached BoltDB database, creating it if needed.
func getCachedBoltDB(b *testing.B, size int) *bolt.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if db, ok := boltDBs[size]; ok {
		return db
	}
	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	path := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_bolt.db", size))
	exists := fileExists(path)

	db, err := bolt.Open(path, 0644, &bolt.Options{
		NoSync:          true,
		InitialMmapSize: 128 * 1024 * 1024,
	})
	if err != nil {
		b.Fatal(err)
	}

	if !exists {
		b.Logf("Creating cached BoltDB with %d keys...", size)
		populateBolt(b, db, size)
	} else {
		b.Logf("Using cached BoltDB with %d keys", size)
	}

	boltDBs[size] = db
	return db
}

func populateBolt(b *testing.B, db *bolt.DB, numKeys int) {
	key := make([]byte, 8)
	val := make([]byte, benchValSize)

	for start := 0; start < numKeys; start += batchSize {
		end := min(start+batchSize, numKeys)
		err := db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(benchBucket))
			if err != nil {
				return err
			}
			bucket.FillPercent = 0.9
			for i := start; i < end; i++ {
				binary.BigEndian.PutUint64(val, uint64(i))
				if err := bucket.Put(benchKey(key, i), val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// getCachedRocksDB returns a cached RocksDB database, creating it if needed.
func getCachedRocksDB(b *testing.B, size int) *gorocksdb.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if db, ok := rocksDBs[size]; ok {
		return db
	}
	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	path := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_rocks.db", size))
	exists := fileExists(path)

	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024) // 64MB write buffer
	opts.SetMaxWriteBufferNumber(3)
	opts.SetTargetFileSizeBase(64 * 1024 * 1024)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		b.Fatal(err)
	}

	if !exists {
		b.Logf("Creating cached RocksDB with %d keys...", size)
		populateRocks(b, db, size)
	} else {
		b.Logf("Using cached RocksDB with %d keys", size)
	}

	rocksDBs[size] = db
	return db
}

func populateRocks(b *testing.B, db *gorocksdb.DB, numKeys int) {
	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()

	batch := gorocksdb.NewWriteBatch()
	defer batch.Destroy()

	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(val, uint64(i))
		batch.Put(benchKey(key, i), val)

		if (i+1)%batchSize == 0 {
			if err := db.Write(wo, batch); err != nil {
				b.Fatal(err)
			}
			batch.Clear()
		}
	}

	if batch.Count() > 0 {
		if err := db.Write(wo, batch); err != nil {
			b.Fatal(err)
		}
	}
}

// CleanupBenchCache closes all cached databases.
// Call this in TestMain or after benchmarks complete.
func CleanupBenchCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	for _, db := range gboltDBs {
		db.Close()
	}
	for _, env := range mdbxEnvs {
		env.Close()
	}
	for _, db := range boltDBs {
		db.Close()
	}
	for _, db := range rocksDBs {
		db.Close()
	}
	gboltDBs = make(map[int]*gbolt.DB)
	mdbxEnvs = make(map[int]*mdbxgo.Env)
	boltDBs = make(map[int]*bolt.DB)
	rocksDBs = make(map[int]*gorocksdb.DB)
	sampleCache = make(map[int][][]byte)
}

// DeleteBenchCache removes all cached database files.
func DeleteBenchCache() error {
	return os.RemoveAll(benchCacheDir)
}
