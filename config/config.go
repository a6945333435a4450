// Package config describes how to assemble a gcd.Store
// from a backlog backend and an attachment store,
// and loads that description from a JSON or YAML file.
package config

import (
	"context"
	"encoding/json"
	stderrs "errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/ldotlopez/gcd"
	afile "github.com/ldotlopez/gcd/attachment/file"
	"github.com/ldotlopez/gcd/attachment/gcs"
	amem "github.com/ldotlopez/gcd/attachment/mem"
	"github.com/ldotlopez/gcd/attachment/replica"
	bfile "github.com/ldotlopez/gcd/backend/file"
	"github.com/ldotlopez/gcd/backend/leveldb"
	"github.com/ldotlopez/gcd/backend/logging"
	"github.com/ldotlopez/gcd/backend/lru"
	bmem "github.com/ldotlopez/gcd/backend/mem"
	"github.com/ldotlopez/gcd/backend/pg"
	"github.com/ldotlopez/gcd/backend/sqlite3"
)

// BackendType names a backlog backend.
type BackendType string

const (
	Mem     BackendType = "mem"
	File    BackendType = "file"
	LevelDB BackendType = "leveldb"
	SQLite3 BackendType = "sqlite3"
	PG      BackendType = "pg"
)

// UnmarshalText implements encoding.TextUnmarshaler,
// rejecting names that are not one of the BackendType constants.
func (t *BackendType) UnmarshalText(text []byte) error {
	switch v := BackendType(text); v {
	case Mem, File, LevelDB, SQLite3, PG:
		*t = v
		return nil
	}
	return errors.Errorf("unknown backend type %q", text)
}

// AttachmentType names an attachment store.
type AttachmentType string

const (
	AttachMem  AttachmentType = "mem"
	AttachFile AttachmentType = "file"
	AttachGCS  AttachmentType = "gcs"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AttachmentType) UnmarshalText(text []byte) error {
	switch v := AttachmentType(text); v {
	case AttachMem, AttachFile, AttachGCS:
		*t = v
		return nil
	}
	return errors.Errorf("unknown attachment store type %q", text)
}

// Config is the configuration of a store and of the server in front of it.
type Config struct {
	// Backend selects the backlog backend.
	Backend BackendType `json:"backend" yaml:"backend"`

	// Root is the data directory of the file and leveldb backends.
	Root string `json:"root" yaml:"root"`

	// Conn is the connection string of the sqlite3 and pg backends.
	Conn string `json:"conn" yaml:"conn"`

	// LRUSize, if positive, caches that many backlog heads in memory.
	LRUSize int `json:"lru_size" yaml:"lru_size"`

	// Logging logs every backend operation.
	Logging bool `json:"logging" yaml:"logging"`

	Attachments Attachments `json:"attachments" yaml:"attachments"`

	// Addr is the listen address of the HTTP server.
	Addr string `json:"addr" yaml:"addr"`

	// CORSOrigins, if not empty, enables CORS for these origins ("*" for any).
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

// Attachments configures the attachment store.
type Attachments struct {
	Type AttachmentType `json:"type" yaml:"type"`

	// Root is the directory of a file store.
	// It defaults to the attachments subdirectory of Config.Root.
	Root string `json:"root" yaml:"root"`

	// Bucket and Credentials (the name of a credentials file) configure a gcs store.
	// Without Credentials, the application default credentials are used.
	Bucket      string `json:"bucket" yaml:"bucket"`
	Credentials string `json:"credentials" yaml:"credentials"`

	// Mirrors are further stores that receive a copy of every attachment.
	// Reads fall back to them, in order, when this store lacks a blob.
	Mirrors []Attachments `json:"mirrors" yaml:"mirrors"`
}

// DefaultAddr is the default listen address of the HTTP server.
const DefaultAddr = "localhost:8080"

// Default is the configuration in effect for anything a config file leaves out:
// file backlogs and attachments under ./gcd-data.
func Default() Config {
	return Config{
		Backend:     File,
		Root:        "gcd-data",
		Attachments: Attachments{Type: AttachFile},
		Addr:        DefaultAddr,
	}
}

// Load reads a Config from the named file,
// starting from Default.
// Files named *.yaml or *.yml are parsed as YAML, anything else as JSON.
func Load(filename string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return c, errors.Wrapf(err, "reading config file %s", filename)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return c, errors.Wrapf(err, "decoding config file %s", filename)
	}

	return c, c.Validate()
}

// Validate checks that c has the settings its backend and attachment store need.
func (c Config) Validate() error {
	switch c.Backend {
	case Mem:
	case File, LevelDB:
		if c.Root == "" {
			return errors.Errorf("%s backend requires root", c.Backend)
		}
	case SQLite3, PG:
		if c.Conn == "" {
			return errors.Errorf("%s backend requires conn", c.Backend)
		}
	default:
		return errors.Errorf("unknown backend type %q", c.Backend)
	}

	if err := c.Attachments.validate(c.Root); err != nil {
		return err
	}

	if c.LRUSize < 0 {
		return errors.Errorf("negative lru_size %d", c.LRUSize)
	}
	return nil
}

func (a Attachments) validate(root string) error {
	switch a.Type {
	case AttachMem:
	case AttachFile:
		if a.Root == "" && root == "" {
			return errors.New("file attachment store requires a root")
		}
	case AttachGCS:
		if a.Bucket == "" {
			return errors.New("gcs attachment store requires bucket")
		}
	default:
		return errors.Errorf("unknown attachment store type %q", a.Type)
	}

	for i, m := range a.Mirrors {
		if len(m.Mirrors) > 0 {
			return errors.Errorf("attachment mirror %d has mirrors of its own", i)
		}
		if err := m.validate(root); err != nil {
			return errors.Wrapf(err, "attachment mirror %d", i)
		}
	}
	return nil
}

// Open constructs the Store that c describes.
// The returned Closer releases the databases and clients the store uses;
// call it when done with the store.
func Open(ctx context.Context, c Config, opts ...gcd.Option) (*gcd.Store, io.Closer, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	var cl closers

	b, err := openBackend(ctx, c, &cl)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}

	a, err := openAttachments(ctx, c, &cl)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}

	return gcd.New(b, a, opts...), cl, nil
}

func openBackend(ctx context.Context, c Config, cl *closers) (gcd.Backend, error) {
	var b gcd.Backend

	switch c.Backend {
	case Mem:
		b = bmem.New()

	case File:
		fb, err := bfile.New(c.Root)
		if err != nil {
			return nil, errors.Wrap(err, "creating file backend")
		}
		b = fb

	case LevelDB:
		lb, err := leveldb.Open(filepath.Join(c.Root, "leveldb"))
		if err != nil {
			return nil, err
		}
		*cl = append(*cl, lb)
		b = lb

	case SQLite3:
		sb, err := sqlite3.Open(ctx, c.Conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening sqlite3 backend")
		}
		*cl = append(*cl, sb)
		b = sb

	case PG:
		pb, err := pg.Open(ctx, c.Conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening pg backend")
		}
		*cl = append(*cl, pb)
		b = pb
	}

	if c.LRUSize > 0 {
		lb, err := lru.New(b, c.LRUSize)
		if err != nil {
			return nil, errors.Wrap(err, "creating lru cache")
		}
		b = lb
	}
	if c.Logging {
		b = logging.New(b)
	}

	return b, nil
}

func openAttachments(ctx context.Context, c Config, cl *closers) (gcd.Attachments, error) {
	primary, err := openAttachmentStore(ctx, c.Attachments, c.Root, cl)
	if err != nil {
		return nil, err
	}
	if len(c.Attachments.Mirrors) == 0 {
		return primary, nil
	}

	stores := []gcd.Attachments{primary}
	for i, m := range c.Attachments.Mirrors {
		a, err := openAttachmentStore(ctx, m, c.Root, cl)
		if err != nil {
			return nil, errors.Wrapf(err, "attachment mirror %d", i)
		}
		stores = append(stores, a)
	}
	r, err := replica.New(stores...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func openAttachmentStore(ctx context.Context, a Attachments, root string, cl *closers) (gcd.Attachments, error) {
	switch a.Type {
	case AttachMem:
		return amem.New(), nil

	case AttachGCS:
		var copts []option.ClientOption
		if a.Credentials != "" {
			copts = append(copts, option.WithCredentialsFile(a.Credentials))
		}
		client, err := storage.NewClient(ctx, copts...)
		if err != nil {
			return nil, errors.Wrap(err, "creating gcs client")
		}
		*cl = append(*cl, client)
		return gcs.New(client.Bucket(a.Bucket)), nil
	}

	dir := a.Root
	if dir == "" {
		dir = filepath.Join(root, "attachments")
	}
	s, err := afile.New(dir)
	if err != nil {
		return nil, errors.Wrap(err, "creating file attachment store")
	}
	return s, nil
}

type closers []io.Closer

// Close closes in reverse order of opening.
func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrs.Join(errs...)
}
