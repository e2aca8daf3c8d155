package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/infra/storage"
)

// KV implements storage.KV on a single (bucket, key) table.
type KV struct {
	db *DB
}

var _ storage.KV = (*KV)(nil)

func NewKV(db *DB) *KV {
	return &KV{db: db}
}

const (
	upsertQuery = `
		INSERT INTO kv (bucket, key, value, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	insertQuery = `
		INSERT INTO kv (bucket, key, value, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (bucket, key) DO NOTHING`
	deleteQuery = `DELETE FROM kv WHERE bucket = $1 AND key = $2`
)

type row struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

func (k *KV) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := k.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE bucket = $1 AND key = $2`, bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (k *KV) Put(ctx context.Context, bucket, key string, value []byte) error {
	if _, err := k.db.ExecContext(ctx, upsertQuery, bucket, key, value); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, bucket, key string) error {
	if _, err := k.db.ExecContext(ctx, deleteQuery, bucket, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (k *KV) PutIfAbsent(ctx context.Context, bucket, key string, value []byte) (bool, error) {
	res, err := k.db.ExecContext(ctx, insertQuery, bucket, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s/%s: %w", bucket, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (k *KV) Scan(ctx context.Context, bucket, prefix string, fn func(key string, value []byte) error) error {
	var rows []row
	err := k.db.SelectContext(ctx, &rows,
		`SELECT key, value FROM kv WHERE bucket = $1 AND starts_with(key, $2) ORDER BY key COLLATE "C"`,
		bucket, prefix)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", bucket, err)
	}
	for _, r := range rows {
		if err := fn(r.Key, r.Value); err != nil {
			if err == storage.ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

func (k *KV) Batch(ctx context.Context, ops []storage.Op) error {
	if len(ops) == 0 {
		return nil
	}
	metrics.DBBatchSize.WithLabelValues("postgres").Observe(float64(len(ops)))

	tx, err := k.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case storage.OpPut:
			_, err = tx.ExecContext(ctx, upsertQuery, op.Bucket, op.Key, op.Value)
		case storage.OpDelete:
			_, err = tx.ExecContext(ctx, deleteQuery, op.Bucket, op.Key)
		}
		if err != nil {
			return fmt.Errorf("batch %s/%s: %w", op.Bucket, op.Key, err)
		}
	}
	return tx.Commit()
}

func (k *KV) Close() error {
	return k.db.Close()
}
