// Package file implements an attachment store as a file hierarchy.
package file

import (
	"context"
	"crypto/sha1"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Attachments = &Store{}

// ChunkSize is the size of the reads Write makes from its input.
const ChunkSize = 4 << 20

// Store is a file-based implementation of gcd.Attachments.
// Blobs live at root/<h0>/<h0h1>/<h>, where h is the hex AID.
type Store struct {
	root string
}

// New produces a new Store storing blobs beneath `root`.
func New(root string) (*Store, error) {
	s := &Store{root: root}
	err := os.MkdirAll(s.tmpdir(), 0755)
	return s, errors.Wrapf(err, "ensuring %s exists", s.tmpdir())
}

func (s *Store) tmpdir() string {
	return filepath.Join(s.root, "tmp")
}

// Path is where the blob with the given id lives.
func (s *Store) Path(id gcd.AID) string {
	h := id.String()
	return filepath.Join(s.root, h[:1], h[:2], h)
}

// Write implements gcd.Attachments.Write.
//
// The input is copied to a temporary file while being hashed,
// then linked into place.
// If a blob with the same id is already in place the temporary file is discarded,
// so concurrent writers of the same content add it exactly once.
func (s *Store) Write(ctx context.Context, r io.Reader) (gcd.AID, bool, error) {
	tmp, err := os.CreateTemp(s.tmpdir(), "write-")
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "creating temp file")
	}
	tmpname := tmp.Name()
	defer os.Remove(tmpname)

	h := sha1.New()
	_, err = io.CopyBuffer(io.MultiWriter(tmp, h), r, make([]byte, ChunkSize))
	if err != nil {
		tmp.Close()
		return gcd.ZeroAID, false, errors.Wrap(err, "copying attachment to temp file")
	}
	if err = tmp.Close(); err != nil {
		return gcd.ZeroAID, false, errors.Wrapf(err, "closing %s", tmpname)
	}
	if err = ctx.Err(); err != nil {
		return gcd.ZeroAID, false, err
	}

	var id gcd.AID
	copy(id[:], h.Sum(nil))

	var (
		path = s.Path(id)
		dir  = filepath.Dir(path)
	)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return id, false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	err = os.Link(tmpname, path)
	if os.IsExist(err) {
		return id, false, nil
	}
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrapf(err, "linking %s to %s", tmpname, path)
	}
	return id, true, nil
}

// Open implements gcd.Attachments.Open.
func (s *Store) Open(_ context.Context, id gcd.AID) (io.ReadCloser, error) {
	path := s.Path(id)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, gcd.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}
