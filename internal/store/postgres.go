package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/osm-geocoder/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	if connString == "" {
		return nil, eris.New("postgres: no database_url configured")
	}
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS countries (
	id       BIGINT PRIMARY KEY,
	name     TEXT NOT NULL,
	iso_code TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state_provinces (
	id           BIGINT PRIMARY KEY,
	name         TEXT NOT NULL,
	abbreviation TEXT NOT NULL DEFAULT '',
	country_id   BIGINT NOT NULL REFERENCES countries(id)
);

CREATE TABLE IF NOT EXISTS counties (
	id                BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name              TEXT NOT NULL,
	abbreviation      TEXT NOT NULL DEFAULT '',
	state_province_id BIGINT NOT NULL REFERENCES state_provinces(id),
	UNIQUE (state_province_id, name)
);

CREATE INDEX IF NOT EXISTS idx_countries_iso_code ON countries(iso_code);
CREATE INDEX IF NOT EXISTS idx_state_provinces_name ON state_provinces(name);
CREATE INDEX IF NOT EXISTS idx_state_provinces_abbreviation ON state_provinces(abbreviation);
CREATE INDEX IF NOT EXISTS idx_counties_name ON counties(name);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key  TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_expires_at ON geocode_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// lookupID runs a single-column id query. No rows is a miss, not an error.
func (s *PostgresStore) lookupID(ctx context.Context, what, query string, arg any) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, query, arg).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "postgres: find %s", what)
	}
	return id, true, nil
}

func (s *PostgresStore) lookupName(ctx context.Context, query string, arg any) (string, bool, error) {
	var name string
	err := s.pool.QueryRow(ctx, query, arg).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrap(err, "postgres: state name")
	}
	return name, true, nil
}

func (s *PostgresStore) FindCountryByISOCode(ctx context.Context, code string) (int64, bool, error) {
	return s.lookupID(ctx, "country",
		`SELECT id FROM countries WHERE iso_code = $1 ORDER BY id LIMIT 1`, code)
}

func (s *PostgresStore) FindStateByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookupID(ctx, "state",
		`SELECT id FROM state_provinces WHERE name = $1 ORDER BY id LIMIT 1`, name)
}

func (s *PostgresStore) FindCountyByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookupID(ctx, "county",
		`SELECT id FROM counties WHERE name = $1 ORDER BY id LIMIT 1`, name)
}

// CreateCounty inserts a county or returns the id of the existing row for the
// same state and name.
func (s *PostgresStore) CreateCounty(ctx context.Context, stateID int64, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO counties (name, abbreviation, state_province_id) VALUES ($1, $1, $2)
		 ON CONFLICT (state_province_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, stateID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: create county in state %d", stateID)
	}
	return id, nil
}

func (s *PostgresStore) StateNameByID(ctx context.Context, id int64) (string, bool, error) {
	return s.lookupName(ctx, `SELECT name FROM state_provinces WHERE id = $1`, id)
}

func (s *PostgresStore) StateNameByAbbreviation(ctx context.Context, abbr string) (string, bool, error) {
	return s.lookupName(ctx,
		`SELECT name FROM state_provinces WHERE abbreviation = $1 ORDER BY id LIMIT 1`, abbr)
}

// Seed upserts the seed rows in one transaction, parents first. Explicit
// county ids bypass the identity sequence, so the sequence is moved past them
// before commit and CreateCounty cannot collide.
func (s *PostgresStore) Seed(ctx context.Context, data SeedData) (SeedResult, error) {
	var res SeedResult
	if err := data.Validate(); err != nil {
		return res, err
	}

	countries := make([][]any, len(data.Countries))
	for i, c := range data.Countries {
		countries[i] = []any{c.ID, c.Name, c.ISOCode}
	}
	states := make([][]any, len(data.StateProvinces))
	for i, st := range data.StateProvinces {
		states[i] = []any{st.ID, st.Name, st.Abbreviation, st.CountryID}
	}
	counties := make([][]any, len(data.Counties))
	for i, c := range data.Counties {
		counties[i] = []any{c.ID, c.Name, c.Abbreviation, c.StateProvinceID}
	}

	var finalize []string
	if len(counties) > 0 {
		finalize = append(finalize, advanceCountySequence)
	}

	n, err := db.Merge(ctx, s.pool, []db.MergeTable{
		{
			Name:         "countries",
			Columns:      []string{"id", "name", "iso_code"},
			ConflictKeys: []string{"id"},
			Rows:         countries,
		},
		{
			Name:         "state_provinces",
			Columns:      []string{"id", "name", "abbreviation", "country_id"},
			ConflictKeys: []string{"id"},
			Rows:         states,
		},
		{
			Name:         "counties",
			Columns:      []string{"id", "name", "abbreviation", "state_province_id"},
			ConflictKeys: []string{"id"},
			Rows:         counties,
		},
	}, finalize...)
	if err != nil {
		return res, eris.Wrap(err, "postgres: seed directory")
	}
	res.Countries, res.StateProvinces, res.Counties = n[0], n[1], n[2]
	return res, nil
}

const advanceCountySequence = `SELECT setval(pg_get_serial_sequence('counties', 'id'), (SELECT MAX(id) FROM counties))`

// GetCachedResponse returns a cached provider body that has not expired.
func (s *PostgresStore) GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM geocode_cache
		 WHERE cache_key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get cached response")
	}
	return body, true, nil
}

// SetCachedResponse stores a provider body. A zero ttl never expires.
func (s *PostgresStore) SetCachedResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO geocode_cache (cache_key, body, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET body = $2, cached_at = $3, expires_at = $4`,
		key, body, now, expiresAt,
	)
	return eris.Wrap(err, "postgres: set cached response")
}

// DeleteExpiredResponses removes expired cache rows.
func (s *PostgresStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM geocode_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired responses")
	}
	return int(tag.RowsAffected()), nil
}
