// Package batch enriches many address records concurrently.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/osm-geocoder/internal/resilience"
	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

// DefaultConcurrency is used when no positive concurrency is configured.
const DefaultConcurrency = 4

// Enricher enriches a single record. *geocode.Enricher implements it.
type Enricher interface {
	EnrichDetail(ctx context.Context, rec *geocode.Record) (bool, error)
}

// Summary reports the outcome of one Run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Total    int           `json:"total"`
	Geocoded int           `json:"geocoded"`
	Failed   int           `json:"failed"`
	Errors   int           `json:"errors"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Runner fans records out over a bounded worker pool.
type Runner struct {
	enricher    Enricher
	concurrency int
	breaker     *resilience.CircuitBreaker
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the number of records in flight.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBreaker makes the runner skip remaining records while the breaker is
// open.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Runner) {
		r.breaker = cb
	}
}

// NewRunner creates a Runner.
func NewRunner(e Enricher, opts ...Option) *Runner {
	r := &Runner{enricher: e, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run enriches recs in place. A record that could not be attempted because
// the context ended or the breaker was open is left exactly as it was and
// counted as skipped.
func (r *Runner) Run(ctx context.Context, recs []*geocode.Record) Summary {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Total: len(recs)}
	log := zap.L().With(zap.String("run_id", sum.RunID))
	log.Info("batch: starting", zap.Int("records", len(recs)), zap.Int("concurrency", r.concurrency))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, rec := range recs {
		if rec == nil {
			mu.Lock()
			sum.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			outcome := r.enrichOne(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeGeocoded:
				sum.Geocoded++
			case outcomeFailed:
				sum.Failed++
			case outcomeError:
				sum.Errors++
				log.Debug("batch: record error", zap.Int("index", i), zap.String("error", rec.GeoCodeError))
			case outcomeSkipped:
				sum.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	log.Info("batch: complete",
		zap.Int("geocoded", sum.Geocoded),
		zap.Int("failed", sum.Failed),
		zap.Int("errors", sum.Errors),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration),
	)
	return sum
}

type outcome int

const (
	outcomeGeocoded outcome = iota
	outcomeFailed
	outcomeError
	outcomeSkipped
)

func (r *Runner) enrichOne(ctx context.Context, rec *geocode.Record) outcome {
	if ctx.Err() != nil {
		return outcomeSkipped
	}
	if r.breaker != nil && r.breaker.State() == resilience.CircuitOpen {
		return outcomeSkipped
	}

	orig := *rec
	ok, err := r.enricher.EnrichDetail(ctx, rec)
	switch {
	case err == nil && ok:
		return outcomeGeocoded
	case err == nil:
		return outcomeFailed
	case errors.Is(err, resilience.ErrCircuitOpen), ctx.Err() != nil:
		*rec = orig
		return outcomeSkipped
	default:
		return outcomeError
	}
}
