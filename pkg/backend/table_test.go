package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/backend"
	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteWriter(t *testing.T, mode models.WriteMode) (*backend.TableWriter, *sqlx.DB) {
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	w, err := backend.NewTableWriter(db, mode)
	require.NoError(t, err)
	return w, db
}

func TestTableWriter(t *testing.T) {
	ctx := context.Background()
	dest := backend.Destination{Table: "customer_features"}

	t.Run("replace swaps the whole table", func(t *testing.T) {
		w, _ := sqliteWriter(t, models.ReplaceWriteMode)
		res, err := w.Write(ctx, dest, customers(t, 1, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, models.WriteResult{Table: "customer_features", Rows: 3, Mode: models.ReplaceWriteMode}, res)

		res, err = w.Write(ctx, dest, customers(t, 4, 5))
		require.NoError(t, err)
		assert.True(t, res.Replaced)

		rs, err := w.Load(ctx, "customer_features")
		require.NoError(t, err)
		assert.Equal(t, 2, rs.Len())
		assert.Equal(t, customers(t, 4).Schema(), rs.Schema())
		assert.Equal(t, []interface{}{"n4", int64(4), float64(2), nil}, rs.Row(0))
	})

	t.Run("append keeps earlier rows", func(t *testing.T) {
		w, _ := sqliteWriter(t, models.AppendWriteMode)
		_, err := w.Write(ctx, dest, customers(t, 1, 2))
		require.NoError(t, err)
		res, err := w.Write(ctx, dest, customers(t, 3))
		require.NoError(t, err)
		assert.Equal(t, models.AppendWriteMode, res.Mode)
		assert.False(t, res.Replaced)

		rs, err := w.Load(ctx, "customer_features")
		require.NoError(t, err)
		assert.Equal(t, 3, rs.Len())
	})

	t.Run("failed swap leaves the old object and no staging table", func(t *testing.T) {
		w, db := sqliteWriter(t, models.ReplaceWriteMode)
		_, err := db.Exec(`CREATE TABLE src (a INTEGER)`)
		require.NoError(t, err)
		// DROP TABLE refuses to drop a view, failing the swap after the insert
		_, err = db.Exec(`CREATE VIEW customer_features AS SELECT a FROM src`)
		require.NoError(t, err)

		_, err = w.Write(ctx, dest, customers(t, 1, 2))
		assert.True(t, errkind.Is(err, errkind.PartialWriteAborted))

		var names []string
		require.NoError(t, db.Select(&names, `SELECT name FROM sqlite_master WHERE name LIKE '%__stg_%'`))
		assert.Empty(t, names)
		var kind string
		require.NoError(t, db.Get(&kind, `SELECT type FROM sqlite_master WHERE name = 'customer_features'`))
		assert.Equal(t, "view", kind)
	})

	t.Run("rejects unsafe identifiers", func(t *testing.T) {
		w, _ := sqliteWriter(t, models.ReplaceWriteMode)
		_, err := w.Write(ctx, backend.Destination{Table: "x; DROP TABLE y"}, customers(t, 1))
		assert.True(t, errkind.Is(err, errkind.FormatMismatch))
	})

	t.Run("load of a missing table", func(t *testing.T) {
		w, _ := sqliteWriter(t, models.ReplaceWriteMode)
		_, err := w.Load(ctx, "missing")
		assert.True(t, errkind.Is(err, errkind.NotFound))
	})

	t.Run("unsupported mode", func(t *testing.T) {
		db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "x.db"))
		require.NoError(t, err)
		defer db.Close()
		_, err = backend.NewTableWriter(db, models.UpsertWriteMode)
		assert.Error(t, err)
	})
}
