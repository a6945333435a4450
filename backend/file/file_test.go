package file

import (
	"context"
	"os"
	"testing"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/testutil"
)

func TestBackend(t *testing.T) {
	dirname, err := os.MkdirTemp("", "backlogs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	b, err := New(dirname)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Backend(context.Background(), t, b)
}

func TestReopen(t *testing.T) {
	dirname, err := os.MkdirTemp("", "backlogs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	ctx := context.Background()

	b1, err := New(dirname)
	if err != nil {
		t.Fatal(err)
	}
	p, err := gcd.NewPacket("foo", "bar")
	if err != nil {
		t.Fatal(err)
	}
	if err = b1.Append(ctx, p); err != nil {
		t.Fatal(err)
	}

	b2, err := New(dirname)
	if err != nil {
		t.Fatal(err)
	}
	got, err := b2.Head(ctx, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload != "bar" {
		t.Errorf("got payload %v, want bar", got.Payload)
	}
	if !got.Timestamp.Equal(p.Timestamp) {
		t.Errorf("got timestamp %s, want %s", got.Timestamp, p.Timestamp)
	}
}
