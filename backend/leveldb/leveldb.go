// Package leveldb implements a backlog backend on a LevelDB database,
// one serialized backlog per key.
package leveldb

import (
	"context"
	stderrs "errors"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

// Backlogs are stored under this prefix, followed by the key.
const backlogPrefix = "b:"

// Backend is a LevelDB-based implementation of gcd.Backend.
type Backend struct {
	db *leveldb.DB

	mu sync.Mutex // serializes the read-modify-write in Append
}

// New produces a new Backend using db for storage.
func New(db *leveldb.DB) *Backend {
	return &Backend{db: db}
}

// Open opens (creating if necessary) the LevelDB database at path
// and produces a Backend on it.
func Open(path string) (*Backend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %s", path)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Append implements gcd.Backend.Append.
func (b *Backend) Append(_ context.Context, p *gcd.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog, err := b.read(p.Key)
	if errors.Is(err, gcd.ErrKeyNotFound) {
		backlog = nil
	} else if err != nil {
		return err
	}

	backlog = append([]*gcd.Packet{p}, backlog...)
	enc, err := gcd.EncodeBacklog(backlog)
	if err != nil {
		return errors.Wrapf(err, "encoding backlog of %s", p.Key)
	}

	err = b.db.Put([]byte(backlogPrefix+p.Key), enc, nil)
	return errors.Wrapf(err, "storing backlog of %s", p.Key)
}

func (b *Backend) read(key string) ([]*gcd.Packet, error) {
	enc, err := b.db.Get([]byte(backlogPrefix+key), nil)
	if stderrs.Is(err, leveldb.ErrNotFound) {
		return nil, gcd.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading backlog of %s", key)
	}
	backlog, err := gcd.DecodeBacklog(enc)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding backlog of %s", key)
	}
	if len(backlog) == 0 {
		return nil, gcd.ErrKeyNotFound
	}
	return backlog, nil
}

// Head implements gcd.Backend.Head.
func (b *Backend) Head(_ context.Context, key string) (*gcd.Packet, error) {
	backlog, err := b.read(key)
	if err != nil {
		return nil, err
	}
	return backlog[0], nil
}

// Backlog implements gcd.Backend.Backlog.
func (b *Backend) Backlog(_ context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	backlog, err := b.read(key)
	if err != nil {
		return nil, err
	}
	start, end = gcd.Window(len(backlog), start, end)
	return backlog[start:end], nil
}

// ListKeys implements gcd.Backend.ListKeys.
// LevelDB iterates in key order, so no sorting is needed.
func (b *Backend) ListKeys(ctx context.Context, prefix string, f func(string) error) error {
	iter := b.db.NewIterator(util.BytesPrefix([]byte(backlogPrefix+prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := strings.TrimPrefix(string(iter.Key()), backlogPrefix)
		if err := f(key); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "iterating over backlogs")
}
