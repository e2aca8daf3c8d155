// Package storage defines the keyed store every backend implements and the
// typed stores the relayer builds on top of it.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one mutation of an atomic batch.
type Op struct {
	Kind   OpKind
	Bucket string
	Key    string
	Value  []byte
}

func Put(bucket, key string, value []byte) Op {
	return Op{Kind: OpPut, Bucket: bucket, Key: key, Value: value}
}

func Delete(bucket, key string) Op {
	return Op{Kind: OpDelete, Bucket: bucket, Key: key}
}

// KV is a bucketed key value store. Buckets are created on first write.
type KV interface {
	// Get returns ErrNotFound when the key or bucket is absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, bucket, key string) error
	// PutIfAbsent writes value only when key is absent and reports whether it wrote.
	PutIfAbsent(ctx context.Context, bucket, key string, value []byte) (bool, error)
	// Scan visits keys with the given prefix in ascending order. Returning
	// ErrStopScan from fn ends the scan without error.
	Scan(ctx context.Context, bucket, prefix string, fn func(key string, value []byte) error) error
	// Batch applies ops atomically: either all are visible or none.
	Batch(ctx context.Context, ops []Op) error
	Close() error
}

// ErrStopScan ends a Scan early.
var ErrStopScan = errors.New("stop scan")

// HasPrefix is shared by backends that filter keys in memory.
func HasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}

// Bucket joins name parts with ":".
func Bucket(parts ...string) string {
	return strings.Join(parts, ":")
}
