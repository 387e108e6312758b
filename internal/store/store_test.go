package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func germanSeed() SeedData {
	return SeedData{
		Countries: []Country{
			{ID: 42, Name: "Germany", ISOCode: "DE"},
			{ID: 43, Name: "Austria", ISOCode: "AT"},
		},
		StateProvinces: []StateProvince{
			{ID: 10, Name: "Niedersachsen", Abbreviation: "NI", CountryID: 42},
			{ID: 11, Name: "Hamburg", Abbreviation: "HH", CountryID: 42},
			{ID: 12, Name: "Baden-Württemberg", Abbreviation: "BW", CountryID: 42},
		},
		Counties: []County{
			{ID: 500, Name: "Landkreis Göttingen", Abbreviation: "GÖ", StateProvinceID: 10},
		},
	}
}

func TestSeedData_Validate(t *testing.T) {
	assert.NoError(t, germanSeed().Validate())

	tests := []struct {
		name   string
		mutate func(*SeedData)
		want   string
	}{
		{"country without id", func(d *SeedData) { d.Countries[0].ID = 0 }, "has no id"},
		{"country without iso", func(d *SeedData) { d.Countries[1].ISOCode = " " }, "no iso_code"},
		{"state with unknown country", func(d *SeedData) { d.StateProvinces[0].CountryID = 99 }, "unknown country 99"},
		{"county with unknown state", func(d *SeedData) { d.Counties[0].StateProvinceID = 77 }, "unknown state 77"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := germanSeed()
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"countries": [{"id": 42, "name": "Germany", "iso_code": "DE"}],
		"state_provinces": [{"id": 10, "name": "Niedersachsen", "abbreviation": "NI", "country_id": 42}]
	}`), 0o644))

	data, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, data.Countries, 1)
	assert.Equal(t, "DE", data.Countries[0].ISOCode)
	assert.Equal(t, int64(42), data.StateProvinces[0].CountryID)
	assert.Empty(t, data.Counties)
}

func TestLoadSeedFile_Errors(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"countries": [`), 0o644))
	_, err = LoadSeedFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse seed file")
}

// exerciseDirectory runs the shared directory contract against any backend.
func exerciseDirectory(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	res, err := s.Seed(ctx, germanSeed())
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Countries: 2, StateProvinces: 3, Counties: 1}, res)

	id, ok, err := s.FindCountryByISOCode(ctx, "DE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok, err = s.FindCountryByISOCode(ctx, "de")
	require.NoError(t, err)
	assert.False(t, ok, "iso code match is case-sensitive")

	id, ok, err = s.FindStateByName(ctx, "Baden-Württemberg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	_, ok, err = s.FindStateByName(ctx, "Atlantis")
	require.NoError(t, err)
	assert.False(t, ok)

	id, ok, err = s.FindCountyByName(ctx, "Landkreis Göttingen")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(500), id)

	name, ok, err := s.StateNameByAbbreviation(ctx, "NI")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Niedersachsen", name)

	name, ok, err = s.StateNameByID(ctx, 11)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Hamburg", name)

	_, ok, err = s.StateNameByID(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.CreateCounty(ctx, 10, "Region Hannover")
	require.NoError(t, err)
	assert.Greater(t, first, int64(500), "created ids follow seeded ids")

	again, err := s.CreateCounty(ctx, 10, "Region Hannover")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	found, ok, err := s.FindCountyByName(ctx, "Region Hannover")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, found)

	other, err := s.CreateCounty(ctx, 12, "Region Hannover")
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "same name in another state is a distinct county")
}
