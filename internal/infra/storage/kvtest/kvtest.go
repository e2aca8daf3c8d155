// Package kvtest checks storage.KV backends against the same behaviour.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/relayer/internal/infra/storage"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.KV) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		kv := open(t)
		if _, err := kv.Get(ctx, "nobucket", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing bucket, got %v", err)
		}
		if err := kv.Put(ctx, "b", "other", []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := kv.Get(ctx, "b", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing key, got %v", err)
		}
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		kv := open(t)
		if err := kv.Put(ctx, "b", "k", []byte("v1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := kv.Put(ctx, "b", "k", []byte("v2")); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}
		got, err := kv.Get(ctx, "b", "k")
		if err != nil || string(got) != "v2" {
			t.Fatalf("expected v2, got %q (%v)", got, err)
		}
		if err := kv.Delete(ctx, "b", "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := kv.Delete(ctx, "b", "k"); err != nil {
			t.Errorf("deleting an absent key must not fail: %v", err)
		}
		if _, err := kv.Get(ctx, "b", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("ScanOrderAndPrefix", func(t *testing.T) {
		kv := open(t)
		for _, k := range []string{"a:3", "a:1", "b:1", "a:2"} {
			if err := kv.Put(ctx, "b", k, []byte(k)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		var keys []string
		err := kv.Scan(ctx, "b", "a:", func(key string, value []byte) error {
			if key != string(value) {
				t.Errorf("value mismatch for %s", key)
			}
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if fmt.Sprint(keys) != "[a:1 a:2 a:3]" {
			t.Errorf("unexpected scan order %v", keys)
		}

		n := 0
		err = kv.Scan(ctx, "b", "", func(string, []byte) error {
			n++
			return storage.ErrStopScan
		})
		if err != nil || n != 1 {
			t.Errorf("expected early stop after 1 key, got %d (%v)", n, err)
		}

		if err := kv.Scan(ctx, "empty", "", func(string, []byte) error { return nil }); err != nil {
			t.Errorf("scan of missing bucket failed: %v", err)
		}
	})

	t.Run("BatchIsAtomicMove", func(t *testing.T) {
		kv := open(t)
		if err := kv.Put(ctx, "from", "item", []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		err := kv.Batch(ctx, []storage.Op{
			storage.Delete("from", "item"),
			storage.Put("to", "item", []byte("y")),
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if _, err := kv.Get(ctx, "from", "item"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("item still in source bucket: %v", err)
		}
		if got, err := kv.Get(ctx, "to", "item"); err != nil || string(got) != "y" {
			t.Errorf("expected y in destination bucket, got %q (%v)", got, err)
		}
	})

	t.Run("PutIfAbsentConcurrent", func(t *testing.T) {
		kv := open(t)
		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := kv.PutIfAbsent(ctx, "attempts", "hash", []byte(fmt.Sprint(i)))
				if err != nil {
					t.Errorf("PutIfAbsent failed: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("expected exactly one writer, got %d", wins)
		}
	})
}
