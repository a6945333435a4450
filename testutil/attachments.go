package testutil

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/ldotlopez/gcd"
)

// Attachments checks that a stores blobs under the SHA-1 of their content,
// deduplicates identical content (also under concurrent writers),
// and reports missing blobs as gcd.ErrAttachmentNotFound.
// The store must be empty.
func Attachments(ctx context.Context, t *testing.T, a gcd.Attachments) {
	contents := []byte("hi!")

	id, added, err := a.Write(ctx, bytes.NewReader(contents))
	if err != nil {
		t.Fatal(err)
	}
	if want := gcd.AIDOf(contents); id != want {
		t.Errorf("got id %s, want %s", id, want)
	}
	if !added {
		t.Error("first write of new content not reported as added")
	}

	id2, added, err := a.Write(ctx, bytes.NewReader(contents))
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Errorf("second write got id %s, want %s", id2, id)
	}
	if added {
		t.Error("second write of the same content reported as added")
	}

	got, err := gcd.ReadAttachment(ctx, a, id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, contents) {
		t.Errorf("got %q, want %q", got, contents)
	}

	if _, err := a.Open(ctx, gcd.AIDOf([]byte("never written"))); !errors.Is(err, gcd.ErrAttachmentNotFound) {
		t.Errorf("got error %v opening missing blob, want %v", err, gcd.ErrAttachmentNotFound)
	}

	// Larger than one read chunk.
	big := make([]byte, 9<<20+17)
	rand.New(rand.NewSource(1)).Read(big)
	bigID, _, err := a.Write(ctx, bytes.NewReader(big))
	if err != nil {
		t.Fatal(err)
	}
	if want := gcd.AIDOf(big); bigID != want {
		t.Errorf("got id %s for big blob, want %s", bigID, want)
	}
	got, err = gcd.ReadAttachment(ctx, a, bigID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("big blob mismatch: got %d bytes, want %d", len(got), len(big))
	}

	var (
		shared = []byte("written concurrently")
		wg     sync.WaitGroup
		mu     sync.Mutex
		nadded int
		ids    = make(map[gcd.AID]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, added, err := a.Write(ctx, bytes.NewReader(shared))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[id] = struct{}{}
			if added {
				nadded++
			}
		}()
	}
	wg.Wait()
	if len(ids) != 1 {
		t.Errorf("concurrent writers got %d distinct ids, want 1", len(ids))
	}
	if nadded != 1 {
		t.Errorf("concurrent writers added the blob %d times, want 1", nadded)
	}
}
