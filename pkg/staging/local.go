package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/format"
	"github.com/spf13/afero"
)

// Local reads staged files from a directory, named <file_id>.<file_type>
// or just <file_id>.
type Local struct {
	fs  afero.Fs
	dir string
}

func NewLocal(fs afero.Fs, dir string) *Local {
	return &Local{fs: fs, dir: dir}
}

func (l *Local) Open(ctx context.Context, fileID, fileType string) (*File, error) {
	if fileID == "" || strings.ContainsAny(fileID, `/\`) || strings.HasPrefix(fileID, ".") {
		return nil, errkind.New(errkind.NotFound, "invalid file id %q", fileID)
	}
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Timeout, err, "open staged file")
	}

	candidates := []string{fileID}
	if ext := strings.ToLower(strings.TrimSpace(fileType)); ext != "" {
		candidates = []string{fileID + "." + ext, fileID}
	}
	for _, name := range candidates {
		p := filepath.Join(l.dir, name)
		fi, err := l.fs.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errkind.Wrapf(errkind.BackendUnavailable, err, "stat %s", p)
		}
		if fi.IsDir() {
			continue
		}
		f, err := l.fs.Open(p)
		if err != nil {
			return nil, errkind.Wrapf(errkind.BackendUnavailable, err, "open %s", p)
		}
		return &File{
			Source: format.Source{Name: name, Size: fi.Size(), Reader: f},
			Closer: f,
		}, nil
	}
	return nil, errkind.New(errkind.NotFound, "no staged file for %s in %s", fileID, l.dir)
}
