// Package format turns raw file bytes into validated RowSets and RowSets
// back into bytes. Each supported encoding is an Adapter registered by its
// declared type; the engine never branches on the type itself.
package format

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxSize mirrors the upload ceiling of the upload service.
	DefaultMaxSize int64 = 100 * 1024 * 1024
	// DefaultParseTimeout bounds a single parse.
	DefaultParseTimeout = 5 * time.Minute
)

// Adapter decodes one file format.
type Adapter interface {
	// Type is the declared file type this adapter serves, e.g. "csv".
	Type() string
	// Detect reports whether data looks like this format.
	Detect(data []byte) bool
	// Parse decodes data into a RowSet.
	Parse(ctx context.Context, data []byte) (*rowset.RowSet, error)
}

// Encoder writes a RowSet in one format.
type Encoder interface {
	Format() string
	Encode(w io.Writer, rs *rowset.RowSet) error
}

// Source is a staged file handed to the registry.
type Source struct {
	Name   string
	Size   int64 // -1 when unknown
	Reader io.Reader
}

// Registry maps declared types to adapters and enforces the checks shared
// by all formats.
type Registry struct {
	maxSize int64
	timeout time.Duration

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry holding the given adapters.
func NewRegistry(maxSize int64, timeout time.Duration, adapters ...Adapter) *Registry {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if timeout <= 0 {
		timeout = DefaultParseTimeout
	}
	r := &Registry{maxSize: maxSize, timeout: timeout, adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Builtin returns one adapter per format this module ships.
func Builtin() []Adapter {
	return []Adapter{
		NewCSV(),
		NewTSV(),
		NewXLSX(),
		NewXLS(),
		NewSAV(),
		NewTFRecord(),
		NewParquet(),
	}
}

// Register adds or replaces the adapter for a.Type().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Type())] = a
}

// Lookup returns the adapter for a declared type.
func (r *Registry) Lookup(declared string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(declared))]
	return a, ok
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Parse validates src against the declared type and decodes it. Failures
// are classified as FormatMismatch, PayloadTooLarge, EmptyDataset or
// Timeout.
func (r *Registry) Parse(ctx context.Context, src Source, declared string) (*rowset.RowSet, error) {
	if src.Size > r.maxSize {
		return nil, errkind.New(errkind.PayloadTooLarge, "%s is %d bytes, limit is %d", src.Name, src.Size, r.maxSize)
	}
	a, ok := r.Lookup(declared)
	if !ok {
		return nil, errkind.New(errkind.FormatMismatch, "unsupported file type %q", declared)
	}

	data, err := io.ReadAll(io.LimitReader(src.Reader, r.maxSize+1))
	if err != nil {
		return nil, errkind.Wrapf(errkind.BackendUnavailable, err, "reading %s", src.Name)
	}
	if int64(len(data)) > r.maxSize {
		return nil, errkind.New(errkind.PayloadTooLarge, "%s exceeds %d bytes", src.Name, r.maxSize)
	}
	if !a.Detect(data) {
		return nil, errkind.New(errkind.FormatMismatch, "content of %s is not %s", src.Name, a.Type())
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		rs  *rowset.RowSet
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{nil, errors.Errorf("%s adapter panicked: %v", a.Type(), r)}
			}
		}()
		rs, err := a.Parse(ctx, data)
		resultCh <- result{rs, err}
	}()

	var res result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		return nil, errkind.Wrapf(errkind.Timeout, ctx.Err(), "parsing %s", src.Name)
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, errkind.Wrapf(errkind.Timeout, res.err, "parsing %s", src.Name)
		}
		var classified *errkind.Error
		if errors.As(res.err, &classified) {
			return nil, res.err
		}
		return nil, errkind.Wrapf(errkind.FormatMismatch, res.err, "decoding %s as %s", src.Name, a.Type())
	}
	if res.rs == nil || res.rs.Len() == 0 {
		return nil, errkind.New(errkind.EmptyDataset, "%s contains no records", src.Name)
	}
	return res.rs, nil
}

// Encoders returns the built-in encoders keyed by format name.
func Encoders() map[string]Encoder {
	out := make(map[string]Encoder)
	for _, e := range []Encoder{NewCSV(), NewTFRecord(), NewParquet()} {
		out[e.Format()] = e
	}
	return out
}
