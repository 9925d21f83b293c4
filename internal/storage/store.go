// Package storage provides the durable object store behind patterns,
// detection snapshots, incident records and approval tokens. Keys are
// slash-separated paths like "patterns/pat-123.json". The filesystem
// implementation is authoritative; callers treat it as a flat KV space.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: object not found")

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Locker is an optional capability: implementations that can serialize
// writers across processes expose it. Release by calling the returned func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func PutJSON(ctx context.Context, s ObjectStore, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

func GetJSON(ctx context.Context, s ObjectStore, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
