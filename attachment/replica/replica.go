// Package replica implements an attachment store that mirrors blobs
// across a set of nested stores.
package replica

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Attachments = (*Store)(nil)

// Store is an attachment store that delegates writes to all of a set of nested stores
// and reads to the first one that has the blob.
type Store struct {
	stores []gcd.Attachments
}

// New produces a new Store.
// The set of nested stores must be non-empty.
// Reads try the stores in the order given.
func New(stores ...gcd.Attachments) (*Store, error) {
	if len(stores) == 0 {
		return nil, errors.New("no nested stores")
	}
	return &Store{stores: stores}, nil
}

// Write implements gcd.Attachments.Write.
// The blob is spooled to a temporary file
// and then written to all nested stores concurrently.
// An error from any of them causes Write to return an error.
//
// The value of `added` is that of the first nested store,
// which is the primary: the others may already have had the blob, or not.
func (s *Store) Write(ctx context.Context, r io.Reader) (gcd.AID, bool, error) {
	tmp, err := os.CreateTemp("", "gcd-replica-")
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrapf(err, "spooling attachment to %s", tmp.Name())
	}

	var (
		ids   = make([]gcd.AID, len(s.stores))
		added = make([]bool, len(s.stores))
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, store := range s.stores {
		i, store := i, store
		g.Go(func() error {
			id, a, err := store.Write(gctx, io.NewSectionReader(tmp, 0, n))
			if err != nil {
				return errors.Wrapf(err, "writing to nested store %d", i)
			}
			ids[i], added[i] = id, a
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return gcd.ZeroAID, false, err
	}

	for _, id := range ids[1:] {
		if id != ids[0] {
			return gcd.ZeroAID, false, errors.Errorf("nested stores disagree on id: %s vs. %s", ids[0], id)
		}
	}
	return ids[0], added[0], nil
}

// Open implements gcd.Attachments.Open.
// It returns the blob from the first nested store that has it.
// If none has it, the result is gcd.ErrAttachmentNotFound,
// unless some store failed for another reason,
// in which case that error is returned.
func (s *Store) Open(ctx context.Context, id gcd.AID) (io.ReadCloser, error) {
	var firstErr error
	for i, store := range s.stores {
		rc, err := store.Open(ctx, id)
		if err == nil {
			return rc, nil
		}
		if errors.Is(err, gcd.ErrAttachmentNotFound) {
			continue
		}
		if firstErr == nil {
			firstErr = errors.Wrapf(err, "opening %s in nested store %d", id, i)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, gcd.ErrAttachmentNotFound
}
