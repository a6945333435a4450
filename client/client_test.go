package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ldotlopez/gcd"
	amem "github.com/ldotlopez/gcd/attachment/mem"
	bmem "github.com/ldotlopez/gcd/backend/mem"
	"github.com/ldotlopez/gcd/server"
)

func newClient(t *testing.T) (*Client, *gcd.Store) {
	t.Helper()

	s := gcd.New(bmem.New(), amem.New())
	ts := httptest.NewServer(server.New(s))
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", ts.Client()), s
}

func save(ctx context.Context, t *testing.T, c *Client, key string, payload interface{}, opts ...gcd.PacketOption) *gcd.Packet {
	t.Helper()

	p, err := gcd.NewPacket(key, payload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := c.Save(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	return saved
}

func TestGetSave(t *testing.T) {
	var (
		ctx  = context.Background()
		c, s = newClient(t)
		at   = time.Date(2018, 3, 4, 5, 6, 7, 890123000, time.UTC)
	)

	saved := save(ctx, t, c, "sensor.kitchen", map[string]interface{}{"temp": 20}, gcd.WithTimestamp(time.Time{}))
	if saved.Timestamp.IsZero() {
		t.Error("server did not assign a timestamp")
	}
	got, err := c.Get(ctx, "sensor.kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(saved.Exchange(), got.Exchange()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]interface{}{"temp": float64(20)}, got.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	save(ctx, t, c, "sensor.kitchen", 21.5, gcd.WithTimestamp(at))
	local, err := s.Get(ctx, "sensor.kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if local.Payload != 21.5 || !local.Timestamp.Equal(at) {
		t.Errorf("store has %v at %s, want 21.5 at %s", local.Payload, local.Timestamp, at)
	}

	if _, err = c.Get(ctx, "nope"); !errors.Is(err, gcd.ErrKeyNotFound) {
		t.Errorf("got error %v, want %v", err, gcd.ErrKeyNotFound)
	}
	if _, err = c.Get(ctx, "Nope"); !errors.Is(err, gcd.ErrInvalidKey) {
		t.Errorf("got error %v, want %v", err, gcd.ErrInvalidKey)
	}
}

func TestBacklog(t *testing.T) {
	var (
		ctx  = context.Background()
		c, _ = newClient(t)
		at   = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	)
	for i := 0; i < 5; i++ {
		save(ctx, t, c, "foo", i, gcd.WithTimestamp(at.Add(time.Duration(i)*time.Minute)))
	}

	cases := []struct {
		start, end int
		want       []interface{}
	}{
		{start: 0, end: gcd.DefaultBacklogWindow, want: []interface{}{float64(4), float64(3), float64(2), float64(1), float64(0)}},
		{start: 1, end: 3, want: []interface{}{float64(3), float64(2)}},
		{start: 7, end: 9, want: []interface{}{}},
	}
	for i, cs := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			backlog, err := c.Backlog(ctx, "foo", cs.start, cs.end)
			if err != nil {
				t.Fatal(err)
			}
			got := []interface{}{}
			for _, p := range backlog {
				if p.Key != "foo" {
					t.Errorf("got key %q, want foo", p.Key)
				}
				got = append(got, p.Payload)
			}
			if diff := cmp.Diff(cs.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	backlog, err := c.Backlog(ctx, "foo", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := at.Add(4 * time.Minute); len(backlog) != 1 || !backlog[0].Timestamp.Equal(want) {
		t.Errorf("got %v, want one packet at %s", backlog, want)
	}

	if _, err = c.Backlog(ctx, "nope", 0, 1); !errors.Is(err, gcd.ErrKeyNotFound) {
		t.Errorf("got error %v, want %v", err, gcd.ErrKeyNotFound)
	}
	if _, err = c.Backlog(ctx, "foo", 2, 1); !errors.Is(err, gcd.ErrInvalidRange) {
		t.Errorf("got error %v, want %v", err, gcd.ErrInvalidRange)
	}
}

func TestList(t *testing.T) {
	var (
		ctx  = context.Background()
		c, _ = newClient(t)
	)
	for _, key := range []string{"x", "ns.a", "ns.b.c"} {
		save(ctx, t, c, key, key)
	}

	cases := []struct {
		ns   string
		want []string
	}{
		{ns: "", want: []string{"ns", "x"}},
		{ns: "ns", want: []string{"a", "b"}},
		{ns: "ns.b", want: []string{"c"}},
		{ns: "x", want: []string{}},
	}
	for i, cs := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := c.List(ctx, cs.ns)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(cs.want, got); diff != "" {
				t.Errorf("List(%q) mismatch (-want +got):\n%s", cs.ns, diff)
			}
		})
	}
}

func TestAttachments(t *testing.T) {
	var (
		ctx  = context.Background()
		c, _ = newClient(t)
		text = "build ok\n"
		id   = gcd.AIDOf([]byte(text))
	)

	saved := save(ctx, t, c, "ci.job", map[string]interface{}{"ok": true}, gcd.WithAttachments(map[string]io.Reader{
		"stdout": strings.NewReader(text),
		"stderr": strings.NewReader(""),
	}))
	want := map[string]gcd.AID{"stdout": id, "stderr": gcd.AIDOf(nil)}
	if diff := cmp.Diff(want, saved.Attachments); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}

	rc, err := c.OpenAttachment(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != text {
		t.Errorf("got attachment %q, want %q", b, text)
	}

	// Carry the stored id over to a new version without resending the bytes.
	p, err := gcd.NewPacket("ci.job", 2)
	if err != nil {
		t.Fatal(err)
	}
	p.Attachments["stdout"] = id
	saved, err = c.Save(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Attachments["stdout"] != id {
		t.Errorf("got id %s, want %s", saved.Attachments["stdout"], id)
	}

	p.Attachments["stdout"] = gcd.AIDOf([]byte("never stored"))
	if _, err = c.Save(ctx, p); !errors.Is(err, gcd.ErrInvalidAttachment) {
		t.Errorf("got error %v, want %v", err, gcd.ErrInvalidAttachment)
	}
	if _, err = c.OpenAttachment(ctx, gcd.AIDOf([]byte("nope"))); !errors.Is(err, gcd.ErrAttachmentNotFound) {
		t.Errorf("got error %v, want %v", err, gcd.ErrAttachmentNotFound)
	}
}
