package kvcache

import (
	"context"
	"time"
)

// ResponseStore is a SQL table of provider responses. Both directory store
// backends implement it.
type ResponseStore interface {
	GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error)
	SetCachedResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// Table adapts a ResponseStore to geocode.Cache with a fixed TTL.
type Table struct {
	store ResponseStore
	ttl   time.Duration
}

// NewTable creates a Table cache. A zero ttl never expires.
func NewTable(s ResponseStore, ttl time.Duration) *Table {
	return &Table{store: s, ttl: ttl}
}

func (t *Table) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.store.GetCachedResponse(ctx, key)
}

func (t *Table) Set(ctx context.Context, key string, body []byte) error {
	return t.store.SetCachedResponse(ctx, key, body, t.ttl)
}
