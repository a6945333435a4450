package gcd

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Backend is durable storage for per-key backlogs.
// It only ever sees persisted packets:
// attachments are content ids and Pending is empty.
//
// Implementations must report a key with no backlog as ErrKeyNotFound,
// never as an empty backlog.
type Backend interface {
	// Append makes p the newest entry in the backlog for p.Key,
	// creating the backlog if necessary.
	Append(ctx context.Context, p *Packet) error

	// Head returns the newest entry in the backlog for key.
	Head(ctx context.Context, key string) (*Packet, error)

	// Backlog returns the entries with newest-first indexes in [start, end).
	// The result is empty, not an error, when the key exists but start is past its length.
	Backlog(ctx context.Context, key string, start, end int) ([]*Packet, error)

	// ListKeys calls f for each stored key beginning with prefix,
	// in lexicographic order.
	// If f returns an error, ListKeys exits with that error.
	ListKeys(ctx context.Context, prefix string, f func(key string) error) error
}

// Attachments is a content-addressed blob store for attachment bytes.
// Writing the same bytes twice yields the same id and stores them once.
type Attachments interface {
	// Write stores the contents of r and returns their id,
	// plus a boolean that is true iff the blob had to be added.
	Write(ctx context.Context, r io.Reader) (id AID, added bool, err error)

	// Open returns a reader for the blob with the given id,
	// or ErrAttachmentNotFound.
	Open(ctx context.Context, id AID) (io.ReadCloser, error)
}

// ReadAttachment reads the whole blob with the given id.
func ReadAttachment(ctx context.Context, a Attachments, id AID) ([]byte, error) {
	rc, err := a.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	return b, errors.Wrapf(err, "reading attachment %s", id)
}

// Window clips the newest-first slice [start, end) of a backlog of length n.
// It is a helper for Backend implementations that hold a whole backlog in memory.
func Window(n, start, end int) (int, int) {
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return start, end
}
