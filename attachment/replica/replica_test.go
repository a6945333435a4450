package replica

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/attachment/mem"
	"github.com/ldotlopez/gcd/testutil"
)

func TestStore(t *testing.T) {
	s, err := New(mem.New(), mem.New())
	if err != nil {
		t.Fatal(err)
	}
	testutil.Attachments(context.Background(), t, s)
}

func TestReplicaSets(t *testing.T) {
	var (
		ctx = context.Background()
		m1  = mem.New()
		m2  = mem.New()
	)
	s, err := New(m1, m2)
	if err != nil {
		t.Fatal(err)
	}

	id1, _, err := m1.Write(ctx, bytes.NewReader([]byte("foo")))
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := m2.Write(ctx, bytes.NewReader([]byte("bar")))
	if err != nil {
		t.Fatal(err)
	}
	id3, added, err := s.Write(ctx, bytes.NewReader([]byte("baz")))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("new blob not reported as added")
	}
	if m1.Len() != 2 || m2.Len() != 2 {
		t.Errorf("got nested sizes %d and %d, want 2 and 2", m1.Len(), m2.Len())
	}

	// Already in the primary: not added, but mirrored to m2.
	_, added, err = s.Write(ctx, bytes.NewReader([]byte("foo")))
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("blob already in the primary reported as added")
	}
	if m2.Len() != 3 {
		t.Errorf("m2 has %d blobs, want 3", m2.Len())
	}

	// Only in m2: added to the primary.
	_, added, err = s.Write(ctx, bytes.NewReader([]byte("bar")))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("blob missing from the primary not reported as added")
	}
	if m1.Len() != 3 {
		t.Errorf("m1 has %d blobs, want 3", m1.Len())
	}

	for _, c := range []struct {
		id   gcd.AID
		want string
	}{{id1, "foo"}, {id2, "bar"}, {id3, "baz"}} {
		got, err := gcd.ReadAttachment(ctx, s, c.id)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}

	if _, err = New(); err == nil {
		t.Error("got no error for an empty replica set")
	}
}

type brokenStore struct{}

func (brokenStore) Write(context.Context, io.Reader) (gcd.AID, bool, error) {
	return gcd.ZeroAID, false, errors.New("broken")
}

func (brokenStore) Open(context.Context, gcd.AID) (io.ReadCloser, error) {
	return nil, errors.New("broken")
}

func TestNestedFailure(t *testing.T) {
	var (
		ctx = context.Background()
		m   = mem.New()
	)
	s, err := New(brokenStore{}, m)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err = s.Write(ctx, bytes.NewReader([]byte("foo"))); err == nil {
		t.Error("got no error writing to a broken nested store")
	}

	// Reads fall through to a store that has the blob.
	id, _, err := m.Write(ctx, bytes.NewReader([]byte("bar")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = gcd.ReadAttachment(ctx, s, id); err != nil {
		t.Errorf("got error %v reading from the healthy nested store", err)
	}

	_, err = s.Open(ctx, gcd.AIDOf([]byte("nope")))
	if err == nil || errors.Is(err, gcd.ErrAttachmentNotFound) {
		t.Errorf("got error %v, want the broken store's error", err)
	}
}
