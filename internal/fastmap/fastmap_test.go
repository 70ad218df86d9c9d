package fastmap

import (
	"math/rand"
	"testing"
)

// Test basic functionality
func TestUint64Set(t *testing.T) {
	s := &Uint64Set{}

	// Test empty set
	if s.Has(1) {
		t.Error("Expected miss on empty set")
	}
	if s.Delete(1) {
		t.Error("Delete on empty set should report false")
	}

	if !s.Add(1) || !s.Add(2) {
		t.Fatal("Add of new keys should report true")
	}
	if s.Add(1) {
		t.Error("Add of existing key should report false")
	}
	if !s.Has(1) || !s.Has(2) {
		t.Error("Has failed")
	}
	if s.Has(3) {
		t.Error("Has(3) should be false")
	}
	if s.Len() != 2 {
		t.Errorf("Expected len=2, got %d", s.Len())
	}

	// Test clear
	s.Clear()
	if s.Len() != 0 {
		t.Error("Clear failed")
	}
	if s.Has(1) {
		t.Error("Has after clear should be false")
	}
}

// Test with many entries to trigger growth
func TestUint64SetGrowth(t *testing.T) {
	s := &Uint64Set{}

	n := 10000
	for i := 0; i < n; i++ {
		s.Add(uint64(i))
	}
	if s.Len() != n {
		t.Errorf("Expected len=%d, got %d", n, s.Len())
	}
	for i := 0; i < n; i++ {
		if !s.Has(uint64(i)) {
			t.Fatalf("Has(%d) failed", i)
		}
	}
}

// Test with key=0
func TestUint64SetZeroKey(t *testing.T) {
	s := &Uint64Set{}
	s.Add(0)
	if !s.Has(0) {
		t.Error("Zero key failed")
	}
	if s.Len() != 1 {
		t.Error("Len should be 1")
	}
}

// Deleting from the middle of probe chains must keep every other key reachable.
func TestUint64SetDelete(t *testing.T) {
	s := &Uint64Set{}
	ref := make(map[uint64]bool)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50000; i++ {
		k := uint64(rng.Intn(4096))
		if rng.Intn(3) == 0 {
			if s.Delete(k) != ref[k] {
				t.Fatalf("Delete(%d) disagreed with reference", k)
			}
			delete(ref, k)
		} else {
			if s.Add(k) == ref[k] {
				t.Fatalf("Add(%d) disagreed with reference", k)
			}
			ref[k] = true
		}
	}

	if s.Len() != len(ref) {
		t.Fatalf("Expected len=%d, got %d", len(ref), s.Len())
	}
	for k := uint64(0); k < 4096; k++ {
		if s.Has(k) != ref[k] {
			t.Fatalf("Has(%d)=%v, want %v", k, s.Has(k), ref[k])
		}
	}

	seen := 0
	s.ForEach(func(k uint64) {
		if !ref[k] {
			t.Errorf("ForEach yielded unexpected key %d", k)
		}
		seen++
	})
	if seen != len(ref) {
		t.Errorf("ForEach yielded %d keys, want %d", seen, len(ref))
	}
}

// Benchmark: Sequential adds - FastMap
func BenchmarkFastMapSeqAdd(b *testing.B) {
	s := &Uint64Set{}
	for i := 0; i < b.N; i++ {
		s.Add(uint64(i))
	}
}

// Benchmark: Sequential adds - Go map
func BenchmarkGoMapSeqAdd(b *testing.B) {
	m := make(map[uint64]struct{})
	for i := 0; i < b.N; i++ {
		m[uint64(i)] = struct{}{}
	}
}

// Benchmark: Random lookups - FastMap
func BenchmarkFastMapRandHas(b *testing.B) {
	s := &Uint64Set{}
	keys := make([]uint64, 100000)
	for i := range keys {
		keys[i] = rand.Uint64()
		s.Add(keys[i])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Has(keys[i%len(keys)])
	}
}

// Benchmark: Random lookups - Go map
func BenchmarkGoMapRandHas(b *testing.B) {
	m := make(map[uint64]struct{})
	keys := make([]uint64, 100000)
	for i := range keys {
		keys[i] = rand.Uint64()
		m[keys[i]] = struct{}{}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%len(keys)]]
	}
}
