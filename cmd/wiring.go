package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osm-geocoder/internal/fetcher"
	"github.com/sells-group/osm-geocoder/internal/kvcache"
	"github.com/sells-group/osm-geocoder/internal/metrics"
	"github.com/sells-group/osm-geocoder/internal/resilience"
	"github.com/sells-group/osm-geocoder/internal/store"
	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

// geocodeEnv holds everything a geocoding command needs.
type geocodeEnv struct {
	Directory store.Store
	Client    *geocode.Client
	Enricher  *geocode.Enricher
	Guard     *resilience.Guard

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *geocodeEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initDirectory opens the configured directory store. SQLite and memory
// stores are migrated on open; memory stores are seeded from
// directory.seed_file when set.
func initDirectory(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Directory.Driver {
	case "memory":
		st = store.NewMemory()
	case "sqlite":
		dsn := cfg.Directory.DatabaseURL
		if dsn == "" {
			dsn = "osm-geocoder.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Directory.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Directory.MaxConns,
			MinConns: cfg.Directory.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported directory driver: %s", cfg.Directory.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open directory")
	}

	if cfg.Directory.Driver != "postgres" {
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}

	if cfg.Directory.Driver == "memory" && cfg.Directory.SeedFile != "" {
		if _, err := seedFromFile(ctx, st, cfg.Directory.SeedFile); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}
	return st, nil
}

// seedFromFile loads a seed from a path or an http(s) URL into st.
func seedFromFile(ctx context.Context, st store.Store, src string) (store.SeedResult, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: geocode.UserAgent(cfg.Geocode.UserAgentProduct, cfg.Geocode.APIKey, cfg.Geocode.SiteName, cfg.Geocode.SiteKey),
	})
	rc, err := fetcher.Open(ctx, f, src)
	if err != nil {
		return store.SeedResult{}, eris.Wrap(err, "open seed")
	}
	defer rc.Close() //nolint:errcheck

	data, err := store.LoadSeed(rc, src)
	if err != nil {
		return store.SeedResult{}, err
	}
	res, err := st.Seed(ctx, data)
	if err != nil {
		return res, eris.Wrap(err, "seed directory")
	}
	return res, nil
}

// responseStore is a directory backend that can also hold the response
// cache table.
type responseStore interface {
	store.Store
	kvcache.ResponseStore
}

// initCache builds the response cache. Table-backed drivers reuse the
// directory database when cache.database_url is empty and the drivers
// match. The returned closer may be nil.
func initCache(ctx context.Context, dir store.Store) (geocode.Cache, func() error, error) {
	driver := cfg.Cache.Driver
	ttl := cfg.Cache.TTL()

	var (
		c      geocode.Cache
		closer func() error
	)
	switch driver {
	case "none":
		return geocode.NopCache{}, nil, nil
	case "memory":
		c = kvcache.NewMemory(cfg.Cache.Size, ttl)
	case "redis":
		r, err := kvcache.NewRedis(ctx, cfg.Cache.RedisAddr, ttl, kvcache.WithKeyPrefix(cfg.Cache.RedisPrefix))
		if err != nil {
			return nil, nil, err
		}
		c, closer = r, r.Close
	case "sqlite", "postgres":
		rs, own, err := cacheStore(ctx, dir)
		if err != nil {
			return nil, nil, err
		}
		c = kvcache.NewTable(rs, ttl)
		if own {
			closer = rs.Close
		}
	default:
		return nil, nil, eris.Errorf("unsupported cache driver: %s", driver)
	}
	return kvcache.Instrument(driver, c), closer, nil
}

// cacheStore returns the store for the cache table and whether the caller
// owns it.
func cacheStore(ctx context.Context, dir store.Store) (responseStore, bool, error) {
	if cfg.Cache.DatabaseURL == "" && cfg.Cache.Driver == cfg.Directory.Driver {
		if rs, ok := dir.(responseStore); ok {
			return rs, false, nil
		}
	}

	var (
		rs  responseStore
		err error
	)
	switch cfg.Cache.Driver {
	case "sqlite":
		dsn := cfg.Cache.DatabaseURL
		if dsn == "" {
			dsn = "osm-geocoder-cache.db"
		}
		rs, err = store.NewSQLite(dsn)
		if err == nil {
			if err = rs.Migrate(ctx); err != nil {
				rs.Close() //nolint:errcheck
			}
		}
	case "postgres":
		rs, err = store.NewPostgres(ctx, cfg.Cache.DatabaseURL, nil)
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "open cache store")
	}
	return rs, true, nil
}

// initGuard builds the rate limiter and circuit breaker shared by every
// provider request of the process.
func initGuard() *resilience.Guard {
	cb := resilience.FromCircuitConfig(cfg.Batch.BreakerThreshold, cfg.Batch.BreakerResetSecs)
	cb.OnStateChange = func(from, to resilience.CircuitState) {
		metrics.SetCircuitState(int(to))
		zap.L().Warn("provider circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return resilience.NewGuard(resilience.GuardConfig{
		RequestsPerSecond: cfg.Batch.RequestsPerSecond,
		Breaker:           cb,
	})
}

// initGeocoder wires directory, cache, guard and client into an Enricher.
func initGeocoder(ctx context.Context) (*geocodeEnv, error) {
	env := &geocodeEnv{}

	dir, err := initDirectory(ctx)
	if err != nil {
		return nil, err
	}
	env.Directory = dir
	env.closers = append(env.closers, dir.Close)

	cache, closeCache, err := initCache(ctx, dir)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeCache != nil {
		env.closers = append(env.closers, closeCache)
	}

	env.Guard = initGuard()
	httpClient := &http.Client{
		Timeout:   cfg.Geocode.Timeout(),
		Transport: resilience.NewTransport(nil, env.Guard),
	}

	env.Client = geocode.NewClient(
		geocode.WithHTTPClient(httpClient),
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(geocode.UserAgent(
			cfg.Geocode.UserAgentProduct,
			cfg.Geocode.APIKey,
			cfg.Geocode.SiteName,
			cfg.Geocode.SiteKey,
		)),
		geocode.WithCache(cache),
		geocode.WithResolver(geocode.NewResolver(dir)),
		geocode.WithEmptyResultLogging(cfg.Geocode.LogEmptyResults),
	)
	env.Enricher = geocode.NewEnricher(env.Client, dir, geocode.BuildOptions{
		UseRawStateName: cfg.Geocode.UseRawStateName,
	})

	zap.L().Debug("geocoder initialized",
		zap.String("directory", cfg.Directory.Driver),
		zap.String("cache", cfg.Cache.Driver),
		zap.Float64("requests_per_second", cfg.Batch.RequestsPerSecond),
	)
	return env, nil
}
