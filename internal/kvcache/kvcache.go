// Package kvcache provides geocode.Cache backends: an in-process LRU, Redis,
// and the SQL response tables of the directory store.
package kvcache

import (
	"context"

	"github.com/sells-group/osm-geocoder/internal/metrics"
	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

// Instrumented counts cache hits, misses and errors per backend.
type Instrumented struct {
	next    geocode.Cache
	backend string
}

// Instrument wraps c so every Get and Set is recorded under backend.
func Instrument(backend string, c geocode.Cache) *Instrumented {
	return &Instrumented{next: c, backend: backend}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := i.next.Get(ctx, key)
	switch {
	case err != nil:
		metrics.ObserveCache(i.backend, "get", "error")
	case ok:
		metrics.ObserveCache(i.backend, "get", "hit")
	default:
		metrics.ObserveCache(i.backend, "get", "miss")
	}
	return body, ok, err
}

func (i *Instrumented) Set(ctx context.Context, key string, body []byte) error {
	err := i.next.Set(ctx, key, body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveCache(i.backend, "set", outcome)
	return err
}
