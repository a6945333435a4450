package gcd

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExchange(t *testing.T) {
	at := time.Date(2018, 3, 4, 5, 6, 7, 890123000, time.UTC)
	p, err := NewPacket("a.b", []interface{}{"1", 2, false, map[string]interface{}{"foo": "bar"}, 1.8}, WithTimestamp(at))
	if err != nil {
		t.Fatal(err)
	}
	id := AIDOf([]byte("hi!"))
	p.Attachments["stdout"] = id

	r := p.Exchange()
	want := Record{
		Key:         "a.b",
		Payload:     []interface{}{"1", float64(2), false, map[string]interface{}{"foo": "bar"}, 1.8},
		Timestamp:   "2018-03-04 05:06:07.890123",
		Attachments: map[string]string{"stdout": "/attachment/" + id.String()},
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	back, err := FromExchange(r)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, back.Exchange()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !back.Timestamp.Equal(at) {
		t.Errorf("got timestamp %s, want %s", back.Timestamp, at)
	}

	// Bare ids are accepted too.
	r.Attachments["stdout"] = id.String()
	back, err = FromExchange(r)
	if err != nil {
		t.Fatal(err)
	}
	if back.Attachments["stdout"] != id {
		t.Errorf("got attachment id %s, want %s", back.Attachments["stdout"], id)
	}
}

func TestFromExchangeErrors(t *testing.T) {
	cases := []struct {
		r    Record
		want error
	}{
		{r: Record{Key: "..", Timestamp: "2018-03-04 05:06:07.000000"}, want: ErrInvalidKey},
		{r: Record{Key: "foo", Timestamp: "yesterday"}, want: ErrInvalidTimestamp},
		{r: Record{Key: "foo", Timestamp: "2999-01-01 00:00:00.000000"}, want: ErrInvalidTimestamp},
		{r: Record{Key: "foo", Attachments: map[string]string{"x": "/attachment/nothex"}}, want: ErrInvalidAID},
	}
	for _, c := range cases {
		if _, err := FromExchange(c.r); !errors.Is(err, c.want) {
			t.Errorf("FromExchange(%+v): got error %v, want %v", c.r, err, c.want)
		}
	}
}

func TestFromPersisted(t *testing.T) {
	id := AIDOf([]byte("hi!"))
	r := Record{
		Key:         "foo",
		Payload:     map[string]interface{}{"temp": float64(20)},
		Timestamp:   "2999-01-01 00:00:00.000000",
		Attachments: map[string]string{"stdout": AttachmentPath(id)},
	}
	p, err := FromPersisted(r)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, p.Exchange()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	r.Timestamp = ""
	if _, err = FromPersisted(r); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("got error %v, want %v", err, ErrInvalidTimestamp)
	}
}

func TestBacklogCodec(t *testing.T) {
	var packets []*Packet
	for i, payload := range []interface{}{nil, "x", map[string]interface{}{"n": []interface{}{1.5, true}}} {
		p, err := NewPacket("foo", payload, WithTimestamp(time.Date(2000, 1, 1, 0, 0, i, 1000*i, time.UTC)))
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			p.Attachments["log"] = AIDOf([]byte("log"))
		}
		packets = append(packets, p)
	}

	enc, err := EncodeBacklog(packets)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBacklog(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(packets) {
		t.Fatalf("got %d packets, want %d", len(got), len(packets))
	}
	for i := range got {
		if diff := cmp.Diff(packets[i].Exchange(), got[i].Exchange()); diff != "" {
			t.Errorf("packet %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestAIDFromHex(t *testing.T) {
	id := AIDOf([]byte("hi!"))
	got, err := AIDFromHex(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
	for _, bad := range []string{"", "abc", id.String()[:39] + "z"} {
		if _, err := AIDFromHex(bad); !errors.Is(err, ErrInvalidAID) {
			t.Errorf("AIDFromHex(%q): got error %v, want %v", bad, err, ErrInvalidAID)
		}
	}
}
