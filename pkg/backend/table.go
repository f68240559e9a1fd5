package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// most drivers cap bind parameters per statement near 32k
const maxParams = 30000

type dialect struct {
	name  string
	quote func(string) string
	types map[rowset.FieldType]string
	// transactionalDDL is false where CREATE/DROP commit implicitly
	transactionalDDL bool
}

var dialects = map[string]dialect{
	"postgres": {
		name:  "postgres",
		quote: func(s string) string { return `"` + s + `"` },
		types: map[rowset.FieldType]string{
			rowset.String: "TEXT",
			rowset.Int:    "BIGINT",
			rowset.Float:  "DOUBLE PRECISION",
			rowset.Bool:   "BOOLEAN",
		},
		transactionalDDL: true,
	},
	"mysql": {
		name:  "mysql",
		quote: func(s string) string { return "`" + s + "`" },
		types: map[rowset.FieldType]string{
			rowset.String: "TEXT",
			rowset.Int:    "BIGINT",
			rowset.Float:  "DOUBLE",
			rowset.Bool:   "BOOLEAN",
		},
	},
	"sqlite": {
		name:  "sqlite",
		quote: func(s string) string { return `"` + s + `"` },
		types: map[rowset.FieldType]string{
			rowset.String: "TEXT",
			rowset.Int:    "INTEGER",
			rowset.Float:  "REAL",
			rowset.Bool:   "BOOLEAN",
		},
		transactionalDDL: true,
	},
}

// Drivers lists the SQL drivers a TableWriter can run on.
func Drivers() []string { return []string{"postgres", "mysql", "sqlite"} }

// TableWriter materializes RowSets as SQL tables. In replace mode the new
// rows land in a staging table that is swapped in inside one transaction,
// or by a single multi-table RENAME where DDL is not transactional, so
// readers see either the old table or the complete new one.
type TableWriter struct {
	db      *sqlx.DB
	dialect dialect
	mode    models.WriteMode
}

// NewTableWriter wraps an open pool. Mode must be append or replace.
func NewTableWriter(db *sqlx.DB, mode models.WriteMode) (*TableWriter, error) {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return nil, errors.Errorf("unsupported SQL driver %q", db.DriverName())
	}
	if mode != models.AppendWriteMode && mode != models.ReplaceWriteMode {
		return nil, errors.Errorf("unsupported write mode %q for SQL tables", mode)
	}
	return &TableWriter{db: db, dialect: d, mode: mode}, nil
}

func (w *TableWriter) Mode() models.WriteMode { return w.mode }

func (w *TableWriter) Close() error { return w.db.Close() }

func (w *TableWriter) Write(ctx context.Context, dest Destination, rs *rowset.RowSet) (models.WriteResult, error) {
	if err := checkIdentifiers(dest, rs); err != nil {
		return models.WriteResult{}, err
	}
	if len(rs.Schema()) == 0 {
		return models.WriteResult{}, errkind.New(errkind.EmptyDataset, "%s has no columns", dest.Table)
	}
	if w.mode == models.AppendWriteMode {
		return w.appendRows(ctx, dest.Table, rs)
	}
	return w.replace(ctx, dest.Table, rs)
}

func (w *TableWriter) replace(ctx context.Context, table string, rs *rowset.RowSet) (models.WriteResult, error) {
	existed, err := w.tableExists(ctx, table)
	if err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "warehouse")
	}
	staging := stagingName(table)
	if !w.dialect.transactionalDDL {
		return w.renameSwap(ctx, table, staging, existed, rs)
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "warehouse")
	}
	err = func() error {
		if _, err := tx.ExecContext(ctx, w.createSQL(staging, rs, false)); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if err := w.insert(ctx, tx, staging, rs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+w.dialect.quote(table)); err != nil {
			return errors.Wrap(err, "drop previous table")
		}
		rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", w.dialect.quote(staging), w.dialect.quote(table))
		if _, err := tx.ExecContext(ctx, rename); err != nil {
			return errors.Wrap(err, "swap staging table")
		}
		return tx.Commit()
	}()
	if err != nil {
		tx.Rollback()
		return models.WriteResult{}, aborted(ctx, err, table)
	}
	return models.WriteResult{Table: table, Rows: rs.Len(), Mode: models.ReplaceWriteMode, Replaced: existed}, nil
}

// renameSwap replaces table where DDL commits implicitly. The staging table
// is filled first, then a single RENAME TABLE moves the old table aside and
// the staging table in, so the target name always points at a complete table.
// Staging is dropped only when the swap never ran.
func (w *TableWriter) renameSwap(ctx context.Context, table, staging string, existed bool, rs *rowset.RowSet) (models.WriteResult, error) {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "warehouse")
	}
	err = func() error {
		if _, err := tx.ExecContext(ctx, w.createSQL(staging, rs, false)); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if err := w.insert(ctx, tx, staging, rs); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		tx.Rollback()
		w.dropTable(staging)
		return models.WriteResult{}, aborted(ctx, err, table)
	}

	old := retiredName(table)
	if _, err := w.db.ExecContext(ctx, w.swapSQL(table, staging, old, existed)); err != nil {
		w.dropTable(staging)
		return models.WriteResult{}, aborted(ctx, errors.Wrap(err, "swap staging table"), table)
	}
	if existed {
		w.dropTable(old)
	}
	return models.WriteResult{Table: table, Rows: rs.Len(), Mode: models.ReplaceWriteMode, Replaced: existed}, nil
}

// swapSQL renames staging onto table in one statement, parking the previous
// table under old when there is one.
func (w *TableWriter) swapSQL(table, staging, old string, existed bool) string {
	q := w.dialect.quote
	if !existed {
		return fmt.Sprintf("RENAME TABLE %s TO %s", q(staging), q(table))
	}
	return fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", q(table), q(old), q(staging), q(table))
}

// stagingName keeps the staging table within the 63 byte identifier limit.
func stagingName(table string) string {
	base := table
	if len(base) > 49 {
		base = base[:49]
	}
	return fmt.Sprintf("%s__stg_%s", base, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func retiredName(table string) string {
	return strings.Replace(stagingName(table), "__stg_", "__old_", 1)
}

func (w *TableWriter) appendRows(ctx context.Context, table string, rs *rowset.RowSet) (models.WriteResult, error) {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.WriteResult{}, unavailable(ctx, err, "warehouse")
	}
	err = func() error {
		if _, err := tx.ExecContext(ctx, w.createSQL(table, rs, true)); err != nil {
			return errors.Wrap(err, "create table")
		}
		if err := w.insert(ctx, tx, table, rs); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		tx.Rollback()
		return models.WriteResult{}, aborted(ctx, err, table)
	}
	return models.WriteResult{Table: table, Rows: rs.Len(), Mode: models.AppendWriteMode}, nil
}

// dropTable removes a staging or retired table outside the request context,
// which may already be canceled.
func (w *TableWriter) dropTable(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+w.dialect.quote(name))
}

func aborted(ctx context.Context, err error, table string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errkind.Wrapf(errkind.Timeout, err, "writing %s", table)
	}
	return errkind.Wrapf(errkind.PartialWriteAborted, err, "writing %s rolled back", table)
}

func (w *TableWriter) createSQL(table string, rs *rowset.RowSet, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(w.dialect.quote(table))
	b.WriteString(" (")
	for i, f := range rs.Schema() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.dialect.quote(f.Name))
		b.WriteString(" ")
		b.WriteString(w.dialect.types[f.Type])
	}
	b.WriteString(")")
	return b.String()
}

func (w *TableWriter) insert(ctx context.Context, tx *sqlx.Tx, table string, rs *rowset.RowSet) error {
	columns := rs.Columns()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = w.dialect.quote(c)
	}
	batch := maxParams / len(columns)
	if batch > 1000 {
		batch = 1000
	}
	if batch < 1 {
		batch = 1
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", w.dialect.quote(table), strings.Join(quoted, ", "))

	var (
		tuples []string
		args   []interface{}
		done   int
	)
	flush := func() error {
		if len(tuples) == 0 {
			return nil
		}
		query := tx.Rebind(prefix + strings.Join(tuples, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "insert rows %d-%d", done+1, done+len(tuples))
		}
		done += len(tuples)
		tuples, args = tuples[:0], args[:0]
		return nil
	}
	return rs.Each(func(i int, row []interface{}) error {
		tuples = append(tuples, tuple)
		args = append(args, row...)
		if len(tuples) == batch {
			return flush()
		}
		if i == rs.Len()-1 {
			return flush()
		}
		return nil
	})
}

func (w *TableWriter) tableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch w.dialect.name {
	case "postgres":
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	case "mysql":
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}
	var n int
	if err := w.db.GetContext(ctx, &n, w.db.Rebind(query), table); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Load reads a whole table back as a RowSet. Column types follow the
// declared SQL types.
func (w *TableWriter) Load(ctx context.Context, table string) (*rowset.RowSet, error) {
	if !ValidIdentifier(table) {
		return nil, errkind.New(errkind.FormatMismatch, "invalid table name %q", table)
	}
	exists, err := w.tableExists(ctx, table)
	if err != nil {
		return nil, unavailable(ctx, err, "warehouse")
	}
	if !exists {
		return nil, errkind.New(errkind.NotFound, "table %s does not exist", table)
	}
	rows, err := w.db.QueryxContext(ctx, "SELECT * FROM "+w.dialect.quote(table))
	if err != nil {
		return nil, unavailable(ctx, err, "reading "+table)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, unavailable(ctx, err, "reading "+table)
	}
	schema := make([]rowset.Field, len(types))
	for i, ct := range types {
		schema[i] = rowset.Field{Name: ct.Name(), Type: sqlFieldType(ct)}
	}

	var out [][]interface{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, unavailable(ctx, err, "reading "+table)
		}
		for j, v := range values {
			if values[j], err = coerce(schema[j].Type, v); err != nil {
				return nil, errkind.Wrapf(errkind.FormatMismatch, err, "%s.%s row %d", table, schema[j].Name, len(out)+1)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(ctx, err, "reading "+table)
	}
	return rowset.New(schema, out)
}

func sqlFieldType(ct *sql.ColumnType) rowset.FieldType {
	name := strings.ToUpper(ct.DatabaseTypeName())
	switch {
	case strings.Contains(name, "BOOL"):
		return rowset.Bool
	case strings.Contains(name, "INT"):
		return rowset.Int
	case strings.Contains(name, "FLOAT"), strings.Contains(name, "DOUBLE"),
		strings.Contains(name, "REAL"), strings.Contains(name, "NUMERIC"), strings.Contains(name, "DECIMAL"):
		return rowset.Float
	}
	return rowset.String
}

// coerce converts a driver value to the RowSet representation of t.
func coerce(t rowset.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	var s string
	switch x := v.(type) {
	case []byte:
		s = string(x)
	case string:
		s = x
	case time.Time:
		s = x.UTC().Format(time.RFC3339Nano)
	case int64:
		switch t {
		case rowset.Int:
			return x, nil
		case rowset.Float:
			return float64(x), nil
		case rowset.Bool:
			return x != 0, nil
		}
		s = strconv.FormatInt(x, 10)
	case float64:
		switch t {
		case rowset.Float:
			return x, nil
		case rowset.Int:
			return int64(x), nil
		}
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if t == rowset.Bool {
			return x, nil
		}
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprint(x)
	}
	switch t {
	case rowset.Int:
		return strconv.ParseInt(s, 10, 64)
	case rowset.Float:
		return strconv.ParseFloat(s, 64)
	case rowset.Bool:
		return strconv.ParseBool(s)
	}
	return s, nil
}
