package backend

import (
	"context"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/redis/go-redis/v9"
)

const (
	// rows per MULTI/EXEC block
	defaultOnlineChunk = 500
	keySetSuffix       = ":__keys"
)

// OnlineWriter stores each row as a Redis hash at <table>:<key> and tracks
// the written keys in the set <table>:__keys. A write is a snapshot: keys
// from the previous snapshot that are absent from the new one are deleted
// once every row has been stored.
//
// Each chunk is its own MULTI/EXEC block, so a write that loses the store
// part way is not atomic: readers may see new rows next to the previous
// snapshot until a retry completes. Rewriting the same RowSet converges to
// the same state.
type OnlineWriter struct {
	client    redis.UniversalClient
	chunkSize int
}

func NewOnlineWriter(client redis.UniversalClient) *OnlineWriter {
	return &OnlineWriter{client: client, chunkSize: defaultOnlineChunk}
}

// RowKey returns the hash key of one row.
func RowKey(table, key string) string { return table + ":" + key }

// KeySet returns the name of the set listing a table's row keys.
func KeySet(table string) string { return table + keySetSuffix }

func (w *OnlineWriter) Write(ctx context.Context, dest Destination, rs *rowset.RowSet) (models.WriteResult, error) {
	if err := checkIdentifiers(dest, rs); err != nil {
		return models.WriteResult{}, err
	}
	ki, err := keyIndex(dest, rs)
	if err != nil {
		return models.WriteResult{}, err
	}
	if err := w.client.Ping(ctx).Err(); err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "online store")
	}

	previous, err := w.client.SCard(ctx, KeySet(dest.Table)).Result()
	if err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "reading key set")
	}
	columns := rs.Columns()
	staged := KeySet(dest.Table) + ":staging"

	// every row is checked before the first chunk goes out, so a bad key
	// never leaves half a snapshot behind
	type entry struct {
		key    string
		fields []interface{}
	}
	entries := make([]entry, 0, rs.Len())
	err = rs.Each(func(i int, row []interface{}) error {
		if row[ki] == nil {
			return errkind.New(errkind.FormatMismatch, "row %d has no value for key column %q", i+1, columns[ki])
		}
		fields := make([]interface{}, 0, 2*len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			fields = append(fields, columns[j], rowset.FormatValue(v))
		}
		entries = append(entries, entry{key: rowset.FormatValue(row[ki]), fields: fields})
		return nil
	})
	if err != nil {
		return models.WriteResult{}, err
	}

	if err := w.client.Del(ctx, staged).Err(); err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "clearing staged key set")
	}
	for start := 0; start < len(entries); start += w.chunkSize {
		chunk := entries[start:min(start+w.chunkSize, len(entries))]
		_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range chunk {
				pipe.Del(ctx, RowKey(dest.Table, e.key))
				pipe.HSet(ctx, RowKey(dest.Table, e.key), e.fields...)
				pipe.SAdd(ctx, KeySet(dest.Table), e.key)
				pipe.SAdd(ctx, staged, e.key)
			}
			return nil
		})
		if err != nil {
			return models.WriteResult{}, unavailable(ctx, err, "writing online rows")
		}
	}

	if err := w.prune(ctx, dest.Table, staged); err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "pruning stale keys")
	}
	return models.WriteResult{
		Table:    dest.Table,
		Rows:     rs.Len(),
		Mode:     models.ReplaceWriteMode,
		Replaced: previous > 0,
	}, nil
}

// prune deletes rows of earlier snapshots that the staged key set does not
// contain.
func (w *OnlineWriter) prune(ctx context.Context, table, staged string) error {
	stale, err := w.client.SDiff(ctx, KeySet(table), staged).Result()
	if err != nil {
		return err
	}
	_, err = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range stale {
			pipe.Del(ctx, RowKey(table, key))
			pipe.SRem(ctx, KeySet(table), key)
		}
		pipe.Del(ctx, staged)
		return nil
	})
	return err
}

// Read returns the stored fields of one row.
func (w *OnlineWriter) Read(ctx context.Context, table, key string) (map[string]string, error) {
	fields, err := w.client.HGetAll(ctx, RowKey(table, key)).Result()
	if err != nil {
		return nil, unavailable(ctx, err, "reading online row")
	}
	if len(fields) == 0 {
		return nil, errkind.New(errkind.NotFound, "no row %q in %s", key, table)
	}
	return fields, nil
}
