// Package kv provides the durable keyed storage the memory engine persists to.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrConflict is returned by Apply when an expected key is missing.
	// Nothing in the batch is written.
	ErrConflict = errors.New("expected key missing")
)

// Op is one step inside an Apply batch. Delete and Expect ops ignore Value.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
	Expect bool
}

// PutOp builds a put operation.
func PutOp(key string, value []byte) Op { return Op{Key: key, Value: value} }

// DeleteOp builds a delete operation.
func DeleteOp(key string) Op { return Op{Key: key, Delete: true} }

// ExpectOp asserts that key exists when the batch reaches it.
func ExpectOp(key string) Op { return Op{Key: key, Expect: true} }

// Adapter is durable keyed storage. Every call is atomic; Apply commits all
// of its ops or none of them.
type Adapter interface {
	Put(ctx context.Context, key string, value []byte) error

	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key with the given prefix in key order.
	// Returning an error from fn stops the scan and is returned as-is.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Apply runs ops in a single transaction.
	Apply(ctx context.Context, ops ...Op) error

	Close() error
}
