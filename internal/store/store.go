// Package store provides the durable key/value storage the orchestration
// engine writes through on every mutation. Values are JSON documents; the
// key prefixes under which the engine persists state are the contract that
// view-layer consumers read.
package store

import "context"

// KV is a single key/value pair returned by List.
type KV struct {
	Key   string
	Value []byte
}

// Store is the durable key/value contract. Implementations must return
// List results sorted by key so callers see a stable order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]KV, error)
}
