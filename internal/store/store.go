// Package store persists the administrative directory (countries,
// states/provinces, counties) and the SQL-backed geocode response cache.
package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

// Country is a row of the countries table.
type Country struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ISOCode string `json:"iso_code"`
}

// StateProvince is a row of the state_provinces table.
type StateProvince struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	CountryID    int64  `json:"country_id"`
}

// County is a row of the counties table.
type County struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Abbreviation    string `json:"abbreviation"`
	StateProvinceID int64  `json:"state_province_id"`
}

// SeedData is the content of a directory seed file.
type SeedData struct {
	Countries      []Country       `json:"countries"`
	StateProvinces []StateProvince `json:"state_provinces"`
	Counties       []County        `json:"counties"`
}

// SeedResult reports how many rows each table received.
type SeedResult struct {
	Countries      int64 `json:"countries"`
	StateProvinces int64 `json:"state_provinces"`
	Counties       int64 `json:"counties"`
}

// Store is the administrative directory consumed by the resolver and the
// request builder.
type Store interface {
	geocode.Directory
	geocode.StateNamer

	Seed(ctx context.Context, data SeedData) (SeedResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// LoadSeedFile reads and validates a JSON seed file.
func LoadSeedFile(path string) (SeedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedData{}, eris.Wrapf(err, "store: read seed file %s", path)
	}
	defer f.Close() //nolint:errcheck
	return LoadSeed(f, path)
}

// LoadSeed decodes and validates seed JSON from r. name labels errors.
func LoadSeed(r io.Reader, name string) (SeedData, error) {
	var data SeedData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return data, eris.Wrapf(err, "store: parse seed file %s", name)
	}
	return data, data.Validate()
}

// Validate checks ids are positive and references point at seeded parents.
func (d SeedData) Validate() error {
	countries := make(map[int64]bool, len(d.Countries))
	for _, c := range d.Countries {
		if c.ID <= 0 {
			return eris.Errorf("store: country %q has no id", c.Name)
		}
		if strings.TrimSpace(c.ISOCode) == "" {
			return eris.Errorf("store: country %d has no iso_code", c.ID)
		}
		countries[c.ID] = true
	}

	states := make(map[int64]bool, len(d.StateProvinces))
	for _, s := range d.StateProvinces {
		if s.ID <= 0 {
			return eris.Errorf("store: state %q has no id", s.Name)
		}
		if !countries[s.CountryID] {
			return eris.Errorf("store: state %d references unknown country %d", s.ID, s.CountryID)
		}
		states[s.ID] = true
	}

	for _, c := range d.Counties {
		if c.ID <= 0 {
			return eris.Errorf("store: county %q has no id", c.Name)
		}
		if !states[c.StateProvinceID] {
			return eris.Errorf("store: county %d references unknown state %d", c.ID, c.StateProvinceID)
		}
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
