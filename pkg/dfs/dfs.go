// Package dfs abstracts the file systems training datasets are exported to.
package dfs

import (
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FileSystem is the subset of file operations exports need. Rename must
// replace an existing destination.
type FileSystem interface {
	Create(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	Rename(oldpath, newpath string) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
}

// Location is a parsed export destination.
type Location struct {
	Scheme  string // "hdfs" or "" for the default file system
	Address string // namenode host:port, empty for the default
	Path    string
}

// ParseLocation accepts hdfs://host:port/path, file:///path and plain paths.
func ParseLocation(dest string) (Location, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return Location{}, errors.New("empty destination")
	}
	if !strings.Contains(dest, "://") {
		return Location{Path: dest}, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return Location{}, errors.Wrapf(err, "parse destination %q", dest)
	}
	switch u.Scheme {
	case "hdfs":
		if u.Path == "" || u.Path == "/" {
			return Location{}, errors.Errorf("destination %q has no path", dest)
		}
		return Location{Scheme: "hdfs", Address: u.Host, Path: u.Path}, nil
	case "file":
		return Location{Path: u.Path}, nil
	}
	return Location{}, errors.Errorf("unsupported destination scheme %q", u.Scheme)
}

// Dialer connects to the namenode at address.
type Dialer func(address string) (FileSystem, error)

// Resolver maps destinations to file systems, caching one client per
// namenode.
type Resolver struct {
	defaultFS   FileSystem
	defaultAddr string
	dial        Dialer

	mu      sync.Mutex
	clients map[string]FileSystem
}

// NewResolver returns a resolver that sends plain paths to defaultFS and
// hdfs:// destinations to clients made by dial. dial may be nil when only
// the default file system is used.
func NewResolver(defaultFS FileSystem, dial Dialer) *Resolver {
	return &Resolver{defaultFS: defaultFS, dial: dial, clients: make(map[string]FileSystem)}
}

// NewNamenodeResolver sends plain paths to the namenode at address. The
// client is dialed on first use.
func NewNamenodeResolver(address string, dial Dialer) *Resolver {
	return &Resolver{defaultAddr: address, dial: dial, clients: make(map[string]FileSystem)}
}

func (r *Resolver) Resolve(dest string) (FileSystem, string, error) {
	loc, err := ParseLocation(dest)
	if err != nil {
		return nil, "", err
	}
	if loc.Address == "" && r.defaultAddr != "" {
		loc.Address = r.defaultAddr
	}
	if loc.Address == "" {
		if r.defaultFS == nil {
			return nil, "", errors.Errorf("no default file system for %q", dest)
		}
		return r.defaultFS, loc.Path, nil
	}
	if r.dial == nil {
		return nil, "", errors.Errorf("no hdfs client configured for %q", dest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.clients[loc.Address]; ok {
		return fs, loc.Path, nil
	}
	fs, err := r.dial(loc.Address)
	if err != nil {
		return nil, "", errors.Wrapf(err, "connect to namenode %s", loc.Address)
	}
	r.clients[loc.Address] = fs
	return fs, loc.Path, nil
}

// Close closes every cached client that supports it.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for addr, fs := range r.clients {
		if c, ok := fs.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(r.clients, addr)
	}
	return first
}
