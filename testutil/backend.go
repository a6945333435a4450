// Package testutil holds conformance tests shared by the gcd.Backend
// and gcd.Attachments implementations.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ldotlopez/gcd"
)

// Backend checks that b stores, orders, windows and lists backlogs
// the way every gcd.Backend must.
// The backend must be empty.
func Backend(ctx context.Context, t *testing.T, b gcd.Backend) {
	var (
		t1 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.UTC)
		a1 = gcd.AIDOf([]byte("attachment 1"))
	)

	if _, err := b.Head(ctx, "foo"); !errors.Is(err, gcd.ErrKeyNotFound) {
		t.Fatalf("got error %v from Head on empty backend, want %v", err, gcd.ErrKeyNotFound)
	}
	if _, err := b.Backlog(ctx, "foo", 0, gcd.DefaultBacklogWindow); !errors.Is(err, gcd.ErrKeyNotFound) {
		t.Fatalf("got error %v from Backlog on empty backend, want %v", err, gcd.ErrKeyNotFound)
	}

	var foo []*gcd.Packet // oldest first
	for i := 0; i < 3; i++ {
		p := mustPacket(t, "foo", map[string]interface{}{"n": i, "s": fmt.Sprintf("value %d", i)}, t1.Add(time.Duration(i)*time.Minute))
		if i == 1 {
			p.Attachments["stdout"] = a1
		}
		if err := b.Append(ctx, p); err != nil {
			t.Fatal(err)
		}
		foo = append(foo, p)
	}
	for _, key := range []string{"ns.bar", "ns.baz.x", "ns_other", "other", "foo_bar"} {
		if err := b.Append(ctx, mustPacket(t, key, nil, t1)); err != nil {
			t.Fatal(err)
		}
	}

	head, err := b.Head(ctx, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(foo[2].Exchange(), head.Exchange()); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}

	cases := []struct {
		start, end int
		want       []*gcd.Packet
	}{
		{start: 0, end: gcd.DefaultBacklogWindow, want: []*gcd.Packet{foo[2], foo[1], foo[0]}},
		{start: 0, end: 1, want: []*gcd.Packet{foo[2]}},
		{start: 1, end: 2, want: []*gcd.Packet{foo[1]}},
		{start: 1, end: 3, want: []*gcd.Packet{foo[1], foo[0]}},
		{start: 2, end: 2},
		{start: 3, end: 10},
		{start: 7, end: 10},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("backlog_%02d", i+1), func(t *testing.T) {
			got, err := b.Backlog(ctx, "foo", c.start, c.end)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(records(c.want), records(got)); diff != "" {
				t.Errorf("backlog [%d, %d) mismatch (-want +got):\n%s", c.start, c.end, diff)
			}
		})
	}

	listCases := []struct {
		prefix string
		want   []string
	}{
		{prefix: "", want: []string{"foo", "foo_bar", "ns.bar", "ns.baz.x", "ns_other", "other"}},
		{prefix: "ns.", want: []string{"ns.bar", "ns.baz.x"}},
		{prefix: "foo.", want: nil},
		{prefix: "nope", want: nil},
	}
	for i, c := range listCases {
		t.Run(fmt.Sprintf("list_%02d", i+1), func(t *testing.T) {
			var got []string
			err := b.ListKeys(ctx, c.prefix, func(key string) error {
				got = append(got, key)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("ListKeys(%q) mismatch (-want +got):\n%s", c.prefix, diff)
			}
		})
	}

	stop := errors.New("stop")
	var n int
	err = b.ListKeys(ctx, "", func(string) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("got error %v from ListKeys with failing callback, want %v", err, stop)
	}
	if n != 1 {
		t.Errorf("callback called %d times after failing, want 1", n)
	}
}

func mustPacket(t *testing.T, key string, payload interface{}, at time.Time) *gcd.Packet {
	t.Helper()
	p, err := gcd.NewPacket(key, payload, gcd.WithTimestamp(at))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func records(packets []*gcd.Packet) []gcd.Record {
	var result []gcd.Record
	for _, p := range packets {
		result = append(result, p.Exchange())
	}
	return result
}
