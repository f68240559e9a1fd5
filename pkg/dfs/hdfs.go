package dfs

import (
	"io"
	"os"

	"github.com/colinmarc/hdfs/v2"
	krbclient "github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/pkg/errors"
)

// HDFSConfig holds the client settings shared by every namenode.
type HDFSConfig struct {
	User string
	// Kerberos is used when CCachePath is set.
	CCachePath       string
	Krb5ConfPath     string
	ServicePrincipal string
}

// HDFS is a FileSystem on one namenode.
type HDFS struct {
	client *hdfs.Client
}

func NewHDFS(address string, cfg HDFSConfig) (*HDFS, error) {
	opts := hdfs.ClientOptions{
		Addresses: []string{address},
		User:      cfg.User,
	}
	if cfg.CCachePath != "" {
		kc, err := kerberosClient(cfg)
		if err != nil {
			return nil, err
		}
		opts.KerberosClient = kc
		opts.KerberosServicePrincipleName = cfg.ServicePrincipal
		if opts.KerberosServicePrincipleName == "" {
			opts.KerberosServicePrincipleName = "nn/_HOST"
		}
	}
	client, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "hdfs client for %s", address)
	}
	return &HDFS{client: client}, nil
}

func kerberosClient(cfg HDFSConfig) (*krbclient.Client, error) {
	confPath := cfg.Krb5ConfPath
	if confPath == "" {
		confPath = "/etc/krb5.conf"
	}
	kcfg, err := krbconfig.Load(confPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", confPath)
	}
	ccache, err := credentials.LoadCCache(cfg.CCachePath)
	if err != nil {
		return nil, errors.Wrapf(err, "load credential cache %s", cfg.CCachePath)
	}
	kc, err := krbclient.NewFromCCache(ccache, kcfg, krbclient.DisablePAFXFAST(true))
	if err != nil {
		return nil, errors.Wrap(err, "kerberos client")
	}
	return kc, nil
}

// DialHDFS returns a Dialer connecting with cfg.
func DialHDFS(cfg HDFSConfig) Dialer {
	return func(address string) (FileSystem, error) {
		return NewHDFS(address, cfg)
	}
}

func (h *HDFS) Create(name string) (io.WriteCloser, error) {
	return h.client.Create(name)
}

func (h *HDFS) Open(name string) (io.ReadCloser, error) {
	return h.client.Open(name)
}

func (h *HDFS) Rename(oldpath, newpath string) error {
	return h.client.Rename(oldpath, newpath)
}

func (h *HDFS) MkdirAll(path string, perm os.FileMode) error {
	return h.client.MkdirAll(path, perm)
}

func (h *HDFS) Remove(name string) error {
	return h.client.Remove(name)
}

func (h *HDFS) Stat(name string) (os.FileInfo, error) {
	return h.client.Stat(name)
}

func (h *HDFS) Close() error {
	return h.client.Close()
}
