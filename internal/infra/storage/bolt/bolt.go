// Package bolt is the embedded storage.KV backend.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/infra/storage"
)

type DB struct {
	db *bbolt.DB
}

var _ storage.KV = (*DB)(nil)

// Open opens or creates the database file, creating parent directories.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("could not create db dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o660, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Get(_ context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// values are only valid for the life of the transaction
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

func (d *DB) Put(ctx context.Context, bucket, key string, value []byte) error {
	return d.Batch(ctx, []storage.Op{storage.Put(bucket, key, value)})
}

func (d *DB) Delete(ctx context.Context, bucket, key string) error {
	return d.Batch(ctx, []storage.Op{storage.Delete(bucket, key)})
}

func (d *DB) PutIfAbsent(_ context.Context, bucket, key string, value []byte) (bool, error) {
	written := false
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("could not create bucket %s: %w", bucket, err)
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		written = true
		return b.Put([]byte(key), value)
	})
	return written, err
}

func (d *DB) Scan(_ context.Context, bucket, prefix string, fn func(key string, value []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry

	// Collect first so fn can write without deadlocking the single writer.
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			entries = append(entries, entry{key: string(k), value: bytes.Clone(v)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			if err == storage.ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

func (d *DB) Batch(_ context.Context, ops []storage.Op) error {
	metrics.DBBatchSize.WithLabelValues("bolt").Observe(float64(len(ops)))
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range ops {
			switch op.Kind {
			case storage.OpPut:
				b, err := tx.CreateBucketIfNotExists([]byte(op.Bucket))
				if err != nil {
					return fmt.Errorf("could not create bucket %s: %w", op.Bucket, err)
				}
				if err := b.Put([]byte(op.Key), op.Value); err != nil {
					return fmt.Errorf("write %s/%s: %w", op.Bucket, op.Key, err)
				}
			case storage.OpDelete:
				b := tx.Bucket([]byte(op.Bucket))
				if b == nil {
					continue
				}
				if err := b.Delete([]byte(op.Key)); err != nil {
					return fmt.Errorf("delete %s/%s: %w", op.Bucket, op.Key, err)
				}
			}
		}
		return nil
	})
}
