// Package mem implements an in-memory attachment store.
package mem

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Attachments = &Store{}

// Store is a memory-based implementation of gcd.Attachments.
type Store struct {
	mu    sync.Mutex
	blobs map[gcd.AID][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{blobs: make(map[gcd.AID][]byte)}
}

// Write implements gcd.Attachments.Write.
func (s *Store) Write(_ context.Context, r io.Reader) (gcd.AID, bool, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return gcd.ZeroAID, false, errors.Wrap(err, "reading attachment")
	}
	id := gcd.AIDOf(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; ok {
		return id, false, nil
	}
	s.blobs[id] = b
	return id, true, nil
}

// Open implements gcd.Attachments.Open.
func (s *Store) Open(_ context.Context, id gcd.AID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return nil, gcd.ErrAttachmentNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Len is the number of distinct blobs stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
