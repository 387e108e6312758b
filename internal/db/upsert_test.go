package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countriesTable(rows ...[]any) MergeTable {
	return MergeTable{
		Name:         "public.countries",
		Columns:      []string{"id", "name", "iso_code"},
		ConflictKeys: []string{"id"},
		Rows:         rows,
	}
}

func TestMerge_NoRowsSkipsTransaction(t *testing.T) {
	counts, err := Merge(context.TODO(), nil, []MergeTable{countriesTable()}, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, counts)
}

func TestMerge_NoColumns(t *testing.T) {
	_, err := Merge(context.TODO(), nil, []MergeTable{{
		Name:         "countries",
		ConflictKeys: []string{"id"},
		Rows:         [][]any{{1, "a"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge countries: no columns specified")
}

func TestMerge_NoConflictKeys(t *testing.T) {
	_, err := Merge(context.TODO(), nil, []MergeTable{{
		Name:    "counties",
		Columns: []string{"id", "name"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge counties: no conflict keys specified")
}

func TestMerge_TablesShareOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stateCols := []string{"id", "name", "country_id"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_public_countries"}, []string{"id", "name", "iso_code"}).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "public"."countries" .* ON CONFLICT \("id"\) DO UPDATE SET "name" = EXCLUDED."name", "iso_code" = EXCLUDED."iso_code"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_state_provinces"}, stateCols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "state_provinces"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT setval`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	counts, err := Merge(context.Background(), mock, []MergeTable{
		countriesTable([]any{int64(1), "Germany", "DE"}, []any{int64(2), "Austria", "AT"}),
		{Name: "counties", Columns: []string{"id"}, ConflictKeys: []string{"id"}},
		{
			Name:         "state_provinces",
			Columns:      stateCols,
			ConflictKeys: []string{"id"},
			Rows:         [][]any{{int64(10), "Niedersachsen", int64(1)}},
		},
	}, "SELECT setval('x', 1)")

	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMerge_FailureRollsBackEverything(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_public_countries"}, []string{"id", "name", "iso_code"}).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_counties"}, []string{"id", "name"}).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = Merge(context.Background(), mock, []MergeTable{
		countriesTable([]any{int64(1), "Germany", "DE"}),
		{
			Name:         "counties",
			Columns:      []string{"id", "name"},
			ConflictKeys: []string{"id"},
			Rows:         [][]any{{int64(1), "Landkreis Göttingen"}},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge counties: copy rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictAction(t *testing.T) {
	tests := []struct {
		name  string
		table MergeTable
		want  string
	}{
		{
			name:  "all non-key columns",
			table: MergeTable{Columns: []string{"id", "name"}, ConflictKeys: []string{"id"}},
			want:  `DO UPDATE SET "name" = EXCLUDED."name"`,
		},
		{
			name:  "explicit columns",
			table: MergeTable{Columns: []string{"id", "name", "abbreviation"}, ConflictKeys: []string{"id"}, UpdateCols: []string{"abbreviation"}},
			want:  `DO UPDATE SET "abbreviation" = EXCLUDED."abbreviation"`,
		},
		{
			name:  "keys only",
			table: MergeTable{Columns: []string{"state_province_id", "name"}, ConflictKeys: []string{"state_province_id", "name"}},
			want:  "DO NOTHING",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conflictAction(tt.table))
		})
	}
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"counties"`, sanitizeTable("counties"))
	assert.Equal(t, `"public"."state_provinces"`, sanitizeTable("public.state_provinces"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "abbreviation"`, quoteAndJoin([]string{"id", "name", "abbreviation"}))
}

func TestConnect_RequiresDSN(t *testing.T) {
	_, err := Connect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database_url")
}
