package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS countries (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	iso_code TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state_provinces (
	id           INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	abbreviation TEXT NOT NULL DEFAULT '',
	country_id   INTEGER NOT NULL REFERENCES countries(id)
);

CREATE TABLE IF NOT EXISTS counties (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL,
	abbreviation      TEXT NOT NULL DEFAULT '',
	state_province_id INTEGER NOT NULL REFERENCES state_provinces(id),
	UNIQUE (state_province_id, name)
);

CREATE INDEX IF NOT EXISTS idx_countries_iso_code ON countries(iso_code);
CREATE INDEX IF NOT EXISTS idx_state_provinces_name ON state_provinces(name);
CREATE INDEX IF NOT EXISTS idx_state_provinces_abbreviation ON state_provinces(abbreviation);
CREATE INDEX IF NOT EXISTS idx_counties_name ON counties(name);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key  TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_expires_at ON geocode_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) lookupID(ctx context.Context, what, query string, arg any) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "sqlite: find %s", what)
	}
	return id, true, nil
}

func (s *SQLiteStore) lookupName(ctx context.Context, query string, arg any) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrap(err, "sqlite: state name")
	}
	return name, true, nil
}

func (s *SQLiteStore) FindCountryByISOCode(ctx context.Context, code string) (int64, bool, error) {
	return s.lookupID(ctx, "country",
		`SELECT id FROM countries WHERE iso_code = ? ORDER BY id LIMIT 1`, code)
}

func (s *SQLiteStore) FindStateByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookupID(ctx, "state",
		`SELECT id FROM state_provinces WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (s *SQLiteStore) FindCountyByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookupID(ctx, "county",
		`SELECT id FROM counties WHERE name = ? ORDER BY id LIMIT 1`, name)
}

// CreateCounty inserts a county or returns the id of the existing row for the
// same state and name.
func (s *SQLiteStore) CreateCounty(ctx context.Context, stateID int64, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counties (name, abbreviation, state_province_id) VALUES (?, ?, ?)
		 ON CONFLICT (state_province_id, name) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		name, name, stateID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: create county in state %d", stateID)
	}
	return id, nil
}

func (s *SQLiteStore) StateNameByID(ctx context.Context, id int64) (string, bool, error) {
	return s.lookupName(ctx, `SELECT name FROM state_provinces WHERE id = ?`, id)
}

func (s *SQLiteStore) StateNameByAbbreviation(ctx context.Context, abbr string) (string, bool, error) {
	return s.lookupName(ctx,
		`SELECT name FROM state_provinces WHERE abbreviation = ? ORDER BY id LIMIT 1`, abbr)
}

// Seed upserts all seed rows in one transaction.
func (s *SQLiteStore) Seed(ctx context.Context, data SeedData) (SeedResult, error) {
	var res SeedResult
	if err := data.Validate(); err != nil {
		return res, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: seed begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range data.Countries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO countries (id, name, iso_code) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, iso_code = excluded.iso_code`,
			c.ID, c.Name, c.ISOCode,
		); err != nil {
			return res, eris.Wrapf(err, "sqlite: seed country %d", c.ID)
		}
		res.Countries++
	}

	for _, st := range data.StateProvinces {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_provinces (id, name, abbreviation, country_id) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, abbreviation = excluded.abbreviation,
			 country_id = excluded.country_id`,
			st.ID, st.Name, st.Abbreviation, st.CountryID,
		); err != nil {
			return res, eris.Wrapf(err, "sqlite: seed state %d", st.ID)
		}
		res.StateProvinces++
	}

	for _, c := range data.Counties {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO counties (id, name, abbreviation, state_province_id) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, abbreviation = excluded.abbreviation,
			 state_province_id = excluded.state_province_id`,
			c.ID, c.Name, c.Abbreviation, c.StateProvinceID,
		); err != nil {
			return res, eris.Wrapf(err, "sqlite: seed county %d", c.ID)
		}
		res.Counties++
	}

	if err := tx.Commit(); err != nil {
		return res, eris.Wrap(err, "sqlite: seed commit")
	}
	return res, nil
}

// GetCachedResponse returns a cached provider body that has not expired.
func (s *SQLiteStore) GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM geocode_cache WHERE cache_key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UTC(),
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "sqlite: get cached response")
	}
	return body, true, nil
}

// SetCachedResponse stores a provider body. A zero ttl never expires.
func (s *SQLiteStore) SetCachedResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (cache_key, body, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET body = excluded.body, cached_at = excluded.cached_at,
		 expires_at = excluded.expires_at`,
		key, body, now, expiresAt,
	)
	return eris.Wrap(err, "sqlite: set cached response")
}

// DeleteExpiredResponses removes expired cache rows.
func (s *SQLiteStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM geocode_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired responses")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}
