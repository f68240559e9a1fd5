// Package backend writes RowSets into the online key-value store and the
// offline SQL warehouse.
package backend

import (
	"context"
	"regexp"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
)

// Destination names where a RowSet goes. Key is the column rows are keyed
// by in stores that need one; empty means the first column.
type Destination struct {
	Table string
	Key   string
}

// Writer persists a RowSet at a destination.
type Writer interface {
	Write(ctx context.Context, dest Destination, rs *rowset.RowSet) (models.WriteResult, error)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a table or column
// name without quoting tricks.
func ValidIdentifier(name string) bool {
	return len(name) <= 63 && identPattern.MatchString(name)
}

func checkIdentifiers(dest Destination, rs *rowset.RowSet) error {
	if !ValidIdentifier(dest.Table) {
		return errkind.New(errkind.FormatMismatch, "invalid table name %q", dest.Table)
	}
	for _, c := range rs.Columns() {
		if !ValidIdentifier(c) {
			return errkind.New(errkind.FormatMismatch, "invalid column name %q", c)
		}
	}
	return nil
}

// keyIndex resolves the key column of dest within rs.
func keyIndex(dest Destination, rs *rowset.RowSet) (int, error) {
	if len(rs.Schema()) == 0 {
		return 0, errkind.New(errkind.EmptyDataset, "%s has no columns", dest.Table)
	}
	if dest.Key == "" {
		return 0, nil
	}
	i := rs.FieldIndex(dest.Key)
	if i < 0 {
		return 0, errkind.New(errkind.FormatMismatch, "key column %q not in %s", dest.Key, dest.Table)
	}
	return i, nil
}

// unavailable classifies a store error, keeping deadlines distinct from
// connectivity failures.
func unavailable(ctx context.Context, err error, detail string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Timeout, err, detail)
	}
	return errkind.Wrap(errkind.BackendUnavailable, err, detail)
}
