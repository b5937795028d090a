package store

import (
	"context"
)

// IKVStore is the durable medium behind conversation ledgers. A partition
// holds one JSON array of opaque records.
type IKVStore interface {
	// Get returns the partition value; ok is false if the partition is absent.
	Get(ctx context.Context, partition string) (value []byte, ok bool, err error)

	// Set replaces the partition value, creating the partition if absent.
	Set(ctx context.Context, partition string, value []byte) error

	Close() error
}
