package dfs_test

import (
	"io"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/dfs"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		dest string
		want dfs.Location
	}{
		{"hdfs://nn1:8020/data/td/td-1.csv", dfs.Location{Scheme: "hdfs", Address: "nn1:8020", Path: "/data/td/td-1.csv"}},
		{"hdfs:///data/td-1.csv", dfs.Location{Scheme: "hdfs", Path: "/data/td-1.csv"}},
		{"file:///tmp/out.csv", dfs.Location{Path: "/tmp/out.csv"}},
		{"/tmp/out.csv", dfs.Location{Path: "/tmp/out.csv"}},
		{"  exports/out.csv ", dfs.Location{Path: "exports/out.csv"}},
	}
	for _, c := range cases {
		t.Run(c.dest, func(t *testing.T) {
			got, err := dfs.ParseLocation(c.dest)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}

	for _, bad := range []string{"", "s3://bucket/key", "hdfs://nn1:8020/"} {
		_, err := dfs.ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}

type closingFS struct {
	dfs.FileSystem
	closed bool
}

func (c *closingFS) Close() error {
	c.closed = true
	return nil
}

func TestResolver(t *testing.T) {
	local := dfs.NewLocal(afero.NewMemMapFs())

	t.Run("plain path uses default", func(t *testing.T) {
		r := dfs.NewResolver(local, nil)
		fs, p, err := r.Resolve("/exports/a.csv")
		require.NoError(t, err)
		assert.Same(t, local, fs)
		assert.Equal(t, "/exports/a.csv", p)
	})

	t.Run("hdfs without dialer", func(t *testing.T) {
		r := dfs.NewResolver(local, nil)
		_, _, err := r.Resolve("hdfs://nn1:8020/a.csv")
		assert.Error(t, err)
	})

	t.Run("clients are cached per namenode", func(t *testing.T) {
		dials := map[string]int{}
		var made []*closingFS
		r := dfs.NewResolver(local, func(address string) (dfs.FileSystem, error) {
			dials[address]++
			c := &closingFS{FileSystem: dfs.NewLocal(afero.NewMemMapFs())}
			made = append(made, c)
			return c, nil
		})
		for i := 0; i < 3; i++ {
			_, p, err := r.Resolve("hdfs://nn1:8020/td/a.csv")
			require.NoError(t, err)
			assert.Equal(t, "/td/a.csv", p)
		}
		_, _, err := r.Resolve("hdfs://nn2:8020/td/a.csv")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"nn1:8020": 1, "nn2:8020": 1}, dials)

		require.NoError(t, r.Close())
		for _, c := range made {
			assert.True(t, c.closed)
		}
	})

	t.Run("plain path uses default namenode", func(t *testing.T) {
		var dialed []string
		remote := dfs.NewLocal(afero.NewMemMapFs())
		r := dfs.NewNamenodeResolver("nn0:8020", func(address string) (dfs.FileSystem, error) {
			dialed = append(dialed, address)
			return remote, nil
		})
		fs, p, err := r.Resolve("/td/a.csv")
		require.NoError(t, err)
		assert.Same(t, remote, fs)
		assert.Equal(t, "/td/a.csv", p)

		_, _, err = r.Resolve("hdfs:///td/b.csv")
		require.NoError(t, err)
		assert.Equal(t, []string{"nn0:8020"}, dialed)
	})

	t.Run("dial failure", func(t *testing.T) {
		r := dfs.NewResolver(local, func(string) (dfs.FileSystem, error) {
			return nil, errors.New("connection refused")
		})
		_, _, err := r.Resolve("hdfs://nn1:8020/a.csv")
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestLocalRenameReplaces(t *testing.T) {
	local := dfs.NewLocal(afero.NewMemMapFs())
	require.NoError(t, local.MkdirAll("/out", 0o755))
	write := func(name, body string) {
		w, err := local.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	write("/out/a.csv", "old")
	write("/out/.a.tmp", "new")
	require.NoError(t, local.Rename("/out/.a.tmp", "/out/a.csv"))

	r, err := local.Open("/out/a.csv")
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))
}
