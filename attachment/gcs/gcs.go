// Package gcs implements an attachment store on Google Cloud Storage.
package gcs

import (
	"context"
	"crypto/sha1"
	stderrs "errors"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Attachments = &Store{}

// ChunkSize is the size of the reads Write makes from its input.
const ChunkSize = 4 << 20

// Store is a Google Cloud Storage-based implementation of gcd.Attachments.
// Blobs are objects named <h0>/<h0h1>/<h>, where h is the hex AID.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// ObjName is the name of the object holding the blob with the given id.
func ObjName(id gcd.AID) string {
	h := id.String()
	return h[:1] + "/" + h[:2] + "/" + h
}

// Write implements gcd.Attachments.Write.
//
// The object name depends on the hash of the whole input,
// so the input is first spooled to a local temp file.
// The upload is conditional on the object not existing;
// a failed precondition means the blob is already stored.
func (s *Store) Write(ctx context.Context, r io.Reader) (gcd.AID, bool, error) {
	tmp, err := os.CreateTemp("", "gcd-attachment-")
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha1.New()
	if _, err = io.CopyBuffer(io.MultiWriter(tmp, h), r, make([]byte, ChunkSize)); err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "spooling attachment to temp file")
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "rewinding temp file")
	}

	var id gcd.AID
	copy(id[:], h.Sum(nil))

	var (
		name = ObjName(id)
		obj  = s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
		w    = obj.NewWriter(ctx)
	)
	_, err = io.Copy(w, tmp)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if isPreconditionFailed(err) {
		return id, false, nil
	}
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrapf(err, "writing object %s", name)
	}
	return id, true, nil
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

// Open implements gcd.Attachments.Open.
func (s *Store) Open(ctx context.Context, id gcd.AID) (io.ReadCloser, error) {
	name := ObjName(id)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, gcd.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading object %s", name)
	}
	return r, nil
}
