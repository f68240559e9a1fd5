package backend_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bayuaji732/data-prep-api/pkg/backend"
	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customers(t *testing.T, ids ...int64) *rowset.RowSet {
	rows := make([][]interface{}, len(ids))
	for i, id := range ids {
		rows[i] = []interface{}{"n" + rowset.FormatValue(id), id, float64(id) / 2, nil}
	}
	rs, err := rowset.New([]rowset.Field{
		{Name: "name", Type: rowset.String},
		{Name: "customer_id", Type: rowset.Int},
		{Name: "spend", Type: rowset.Float},
		{Name: "churned", Type: rowset.Bool},
	}, rows)
	require.NoError(t, err)
	return rs
}

func TestOnlineWriter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	w := backend.NewOnlineWriter(client)
	dest := backend.Destination{Table: "customer_features", Key: "customer_id"}

	t.Run("writes one hash per row", func(t *testing.T) {
		res, err := w.Write(ctx, dest, customers(t, 1, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, models.WriteResult{Table: "customer_features", Rows: 3, Mode: models.ReplaceWriteMode}, res)

		fields, err := w.Read(ctx, "customer_features", "2")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"name": "n2", "customer_id": "2", "spend": "1"}, fields)

		members, err := client.SMembers(ctx, backend.KeySet("customer_features")).Result()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "2", "3"}, members)
	})

	t.Run("rewrite prunes keys missing from the snapshot", func(t *testing.T) {
		res, err := w.Write(ctx, dest, customers(t, 2, 3))
		require.NoError(t, err)
		assert.True(t, res.Replaced)

		_, err = w.Read(ctx, "customer_features", "1")
		assert.True(t, errkind.Is(err, errkind.NotFound))
		members, err := client.SMembers(ctx, backend.KeySet("customer_features")).Result()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"2", "3"}, members)
		assert.False(t, mr.Exists(backend.KeySet("customer_features")+":staging"))
	})

	t.Run("same snapshot twice is idempotent", func(t *testing.T) {
		_, err := w.Write(ctx, dest, customers(t, 2, 3))
		require.NoError(t, err)
		_, err = w.Write(ctx, dest, customers(t, 2, 3))
		require.NoError(t, err)
		keys := mr.Keys()
		assert.ElementsMatch(t, []string{"customer_features:2", "customer_features:3", "customer_features:__keys"}, keys)
	})

	t.Run("first column is the default key", func(t *testing.T) {
		_, err := w.Write(ctx, backend.Destination{Table: "by_name"}, customers(t, 7))
		require.NoError(t, err)
		assert.True(t, mr.Exists("by_name:n7"))
	})

	t.Run("unknown key column", func(t *testing.T) {
		_, err := w.Write(ctx, backend.Destination{Table: "x", Key: "nope"}, customers(t, 1))
		assert.True(t, errkind.Is(err, errkind.FormatMismatch))
	})

	t.Run("store down", func(t *testing.T) {
		down := miniredis.RunT(t)
		c := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		defer c.Close()
		down.Close()
		_, err := backend.NewOnlineWriter(c).Write(ctx, dest, customers(t, 1))
		assert.True(t, errkind.Is(err, errkind.BackendUnavailable))
	})
}
