package dfs

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// Local is a FileSystem backed by afero, the OS file system in production
// and a memory file system in tests.
type Local struct {
	fs afero.Fs
}

func NewLocal(fs afero.Fs) *Local { return &Local{fs: fs} }

// NewOSLocal returns a Local on the host file system.
func NewOSLocal() *Local { return &Local{fs: afero.NewOsFs()} }

func (l *Local) Create(name string) (io.WriteCloser, error) {
	return l.fs.Create(name)
}

func (l *Local) Open(name string) (io.ReadCloser, error) {
	return l.fs.Open(name)
}

func (l *Local) Rename(oldpath, newpath string) error {
	return l.fs.Rename(oldpath, newpath)
}

func (l *Local) MkdirAll(path string, perm os.FileMode) error {
	return l.fs.MkdirAll(path, perm)
}

func (l *Local) Remove(name string) error {
	return l.fs.Remove(name)
}

func (l *Local) Stat(name string) (os.FileInfo, error) {
	return l.fs.Stat(name)
}
