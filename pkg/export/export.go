// Package export writes training datasets to distributed file storage.
package export

import (
	"bufio"
	"context"
	"path"
	"sort"
	"strings"

	"github.com/bayuaji732/data-prep-api/pkg/dfs"
	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/format"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/google/uuid"
)

// Writer encodes RowSets and publishes them at a destination. A reader of
// the destination sees either the previous file or the complete new one.
type Writer struct {
	resolver *dfs.Resolver
	encoders map[string]format.Encoder
}

// NewWriter uses the built-in encoders unless others are given.
func NewWriter(resolver *dfs.Resolver, encoders ...format.Encoder) *Writer {
	w := &Writer{resolver: resolver, encoders: make(map[string]format.Encoder)}
	if len(encoders) == 0 {
		for name, e := range format.Encoders() {
			w.encoders[name] = e
		}
	}
	for _, e := range encoders {
		w.encoders[e.Format()] = e
	}
	return w
}

// Formats lists the export formats in sorted order.
func (w *Writer) Formats() []string {
	names := make([]string, 0, len(w.encoders))
	for name := range w.encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether name is a known export format.
func (w *Writer) Supports(name string) bool {
	_, ok := w.encoders[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (w *Writer) Export(ctx context.Context, rs *rowset.RowSet, dest, formatName string) (models.WriteResult, error) {
	enc, ok := w.encoders[strings.ToLower(strings.TrimSpace(formatName))]
	if !ok {
		return models.WriteResult{}, errkind.New(errkind.FormatMismatch, "unsupported export format %q (supported: %s)",
			formatName, strings.Join(w.Formats(), ", "))
	}
	fs, target, err := w.resolver.Resolve(dest)
	if err != nil {
		return models.WriteResult{}, errkind.Wrap(errkind.BackendUnavailable, err, "resolve destination")
	}
	if err := ctx.Err(); err != nil {
		return models.WriteResult{}, errkind.Wrap(errkind.Timeout, err, "before export")
	}

	dir, base := path.Split(target)
	if base == "" {
		return models.WriteResult{}, errkind.New(errkind.FormatMismatch, "destination %q names a directory", dest)
	}
	if dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return models.WriteResult{}, errkind.Wrapf(errkind.BackendUnavailable, err, "create %s", dir)
		}
	}
	_, statErr := fs.Stat(target)
	replaced := statErr == nil

	tmp := path.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	if err := writeFile(fs, tmp, enc, rs); err != nil {
		_ = fs.Remove(tmp)
		return models.WriteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		_ = fs.Remove(tmp)
		return models.WriteResult{}, errkind.Wrap(errkind.Timeout, err, "export interrupted")
	}
	if err := fs.Rename(tmp, target); err != nil {
		_ = fs.Remove(tmp)
		return models.WriteResult{}, errkind.Wrapf(errkind.PartialWriteAborted, err, "publish %s", target)
	}
	return models.WriteResult{
		Table:    target,
		Rows:     rs.Len(),
		Mode:     models.ReplaceWriteMode,
		Replaced: replaced,
	}, nil
}

func writeFile(fs dfs.FileSystem, name string, enc format.Encoder, rs *rowset.RowSet) error {
	f, err := fs.Create(name)
	if err != nil {
		return errkind.Wrapf(errkind.BackendUnavailable, err, "create %s", name)
	}
	bw := bufio.NewWriter(f)
	if err := enc.Encode(bw, rs); err != nil {
		f.Close()
		return encodeError(err, enc.Format())
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errkind.Wrapf(errkind.PartialWriteAborted, err, "write %s", name)
	}
	if err := f.Close(); err != nil {
		return errkind.Wrapf(errkind.PartialWriteAborted, err, "close %s", name)
	}
	return nil
}

func encodeError(err error, name string) error {
	if errkind.KindOf(err) != errkind.Internal {
		return err
	}
	return errkind.Wrap(errkind.PartialWriteAborted, err, "encode "+name)
}
