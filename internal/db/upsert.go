package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// MergeTable is one table of a Merge: Rows are copied into a temp table and
// merged into Name on ConflictKeys. UpdateCols nil updates every
// non-conflict column.
type MergeTable struct {
	Name         string
	Columns      []string
	ConflictKeys []string
	UpdateCols   []string
	Rows         [][]any
}

// Merge upserts every table in order inside one transaction, then runs the
// finalize statements (sequence bumps and the like) in the same
// transaction. Tables without rows are skipped. It returns the rows affected
// per table, indexed like tables. Parent tables must come before children.
func Merge(ctx context.Context, pool Pool, tables []MergeTable, finalize ...string) ([]int64, error) {
	for _, t := range tables {
		if len(t.Columns) == 0 {
			return nil, eris.Errorf("db: merge %s: no columns specified", t.Name)
		}
		if len(t.ConflictKeys) == 0 {
			return nil, eris.Errorf("db: merge %s: no conflict keys specified", t.Name)
		}
	}

	counts := make([]int64, len(tables))
	if !hasRows(tables) {
		return counts, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: merge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i, t := range tables {
		if len(t.Rows) == 0 {
			continue
		}
		n, err := mergeOne(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}

	for _, stmt := range finalize {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, eris.Wrap(err, "db: merge: finalize")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: merge: commit tx")
	}
	return counts, nil
}

func hasRows(tables []MergeTable) bool {
	for _, t := range tables {
		if len(t.Rows) > 0 {
			return true
		}
	}
	return false
}

func mergeOne(ctx context.Context, tx pgx.Tx, t MergeTable) (int64, error) {
	staging := "_merge_" + strings.ReplaceAll(t.Name, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(),
		sanitizeTable(t.Name),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create staging table", t.Name)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, t.Columns, pgx.CopyFromRows(t.Rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy rows", t.Name)
	}

	colList := quoteAndJoin(t.Columns)
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(t.Name),
		colList,
		colList,
		pgx.Identifier{staging}.Sanitize(),
		quoteAndJoin(t.ConflictKeys),
		conflictAction(t),
	))
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", t.Name)
	}
	return tag.RowsAffected(), nil
}

// conflictAction is DO UPDATE over the update columns, or DO NOTHING when a
// table is all keys.
func conflictAction(t MergeTable) string {
	cols := t.UpdateCols
	if cols == nil {
		keys := make(map[string]bool, len(t.ConflictKeys))
		for _, k := range t.ConflictKeys {
			keys[k] = true
		}
		for _, c := range t.Columns {
			if !keys[c] {
				cols = append(cols, c)
			}
		}
	}
	if len(cols) == 0 {
		return "DO NOTHING"
	}

	set := make([]string, len(cols))
	for i, c := range cols {
		id := pgx.Identifier{c}.Sanitize()
		set[i] = id + " = EXCLUDED." + id
	}
	return "DO UPDATE SET " + strings.Join(set, ", ")
}

// sanitizeTable quotes a plain or schema-qualified table name.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
