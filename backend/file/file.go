// Package file implements a backlog backend as a directory of files,
// one serialized backlog per key.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

// Backend is a file-based implementation of gcd.Backend.
//
// Each key's backlog is the file root/backlogs/<key>,
// replaced atomically on every append.
// Appends hold a file lock on root/locks/<key>,
// so processes sharing root do not lose each other's updates.
type Backend struct {
	root    string
	flocker flock.Locker
}

// New produces a new Backend storing data beneath `root`.
func New(root string) (*Backend, error) {
	b := &Backend{root: root}
	for _, dir := range []string{b.backlogdir(), b.lockdir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "ensuring %s exists", dir)
		}
	}
	return b, nil
}

func (b *Backend) backlogdir() string {
	return filepath.Join(b.root, "backlogs")
}

func (b *Backend) lockdir() string {
	return filepath.Join(b.root, "locks")
}

// Keys are valid file names: no slashes, and no leading dot.
func (b *Backend) backlogpath(key string) string {
	return filepath.Join(b.backlogdir(), key)
}

func (b *Backend) lockpath(key string) string {
	return filepath.Join(b.lockdir(), key)
}

// Append implements gcd.Backend.Append.
func (b *Backend) Append(_ context.Context, p *gcd.Packet) error {
	lockpath := b.lockpath(p.Key)
	if err := b.flocker.Lock(lockpath); err != nil {
		return errors.Wrapf(err, "locking %s", lockpath)
	}
	defer b.flocker.Unlock(lockpath)

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

	return b.write(p.Key, enc)
}

// Caller must hold the lock for key.
func (b *Backend) write(key string, enc []byte) error {
	tmp, err := os.CreateTemp(b.backlogdir(), ".tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(enc); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}

	path := b.backlogpath(key)
	err = os.Rename(tmp.Name(), path)
	return errors.Wrapf(err, "renaming %s to %s", tmp.Name(), path)
}

func (b *Backend) read(key string) ([]*gcd.Packet, error) {
	path := b.backlogpath(key)
	enc, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, gcd.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	backlog, err := gcd.DecodeBacklog(enc)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
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
func (b *Backend) ListKeys(_ context.Context, prefix string, f func(string) error) error {
	entries, err := os.ReadDir(b.backlogdir())
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", b.backlogdir())
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := f(key); err != nil {
			return err
		}
	}
	return nil
}
