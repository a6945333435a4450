package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobg/subcmd"
	"github.com/google/go-cmp/cmp"

	"github.com/ldotlopez/gcd"
	amem "github.com/ldotlopez/gcd/attachment/mem"
	bmem "github.com/ldotlopez/gcd/backend/mem"
	"github.com/ldotlopez/gcd/client"
	"github.com/ldotlopez/gcd/config"
	"github.com/ldotlopez/gcd/server"
)

func TestCommands(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		s := gcd.New(bmem.New(), amem.New())
		runCommands(t, maincmd{s: s, store: s, conf: config.Default()})
	})
	t.Run("remote", func(t *testing.T) {
		ts := httptest.NewServer(server.New(gcd.New(bmem.New(), amem.New())))
		defer ts.Close()
		runCommands(t, maincmd{s: client.New(ts.URL, ts.Client())})
	})
}

func runCommands(t *testing.T, c maincmd) {
	ctx := context.Background()

	run := func(stdin string, args ...string) []byte {
		t.Helper()

		out := new(bytes.Buffer)
		c.in, c.out = strings.NewReader(stdin), out
		if err := subcmd.Run(ctx, c, args); err != nil {
			t.Fatalf("%v: %s", args, err)
		}
		return out.Bytes()
	}

	var rec gcd.Record
	if err := json.Unmarshal(run(`{"temp": 20}`, "put", "sensor.kitchen"), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Key != "sensor.kitchen" || rec.Timestamp == "" {
		t.Errorf("put printed %+v", rec)
	}

	run("", "put", "-at", "2020-01-02T03:04:05Z", "sensor.hall", "21")

	if err := json.Unmarshal(run("", "get", "sensor.kitchen"), &rec); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]interface{}{"temp": float64(20)}, rec.Payload); diff != "" {
		t.Errorf("get mismatch (-want +got):\n%s", diff)
	}

	run("", "put", "sensor.hall", "22")
	var versions []server.Version
	if err := json.Unmarshal(run("", "backlog", "-start", "1", "sensor.hall"), &versions); err != nil {
		t.Fatal(err)
	}
	want := []server.Version{{Payload: float64(21), Timestamp: "2020-01-02 03:04:05.000000"}}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Errorf("backlog mismatch (-want +got):\n%s", diff)
	}

	if got := string(run("", "ls", "sensor")); got != "sensor.hall\nsensor.kitchen\n" {
		t.Errorf("ls printed %q", got)
	}

	const text = "build ok\n"
	logfile := filepath.Join(t.TempDir(), "build.log")
	if err := os.WriteFile(logfile, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(run("", "put", "-attach", "log="+logfile, "ci.job", "true"), &rec); err != nil {
		t.Fatal(err)
	}
	id := gcd.AIDOf([]byte(text))
	if got := rec.Attachments["log"]; got != gcd.AttachmentPath(id) {
		t.Errorf("got attachment reference %q, want %q", got, gcd.AttachmentPath(id))
	}
	if got := string(run("", "attachment", id.String())); got != text {
		t.Errorf("attachment printed %q, want %q", got, text)
	}

	c.out = new(bytes.Buffer)
	if err := subcmd.Run(ctx, c, []string{"put", "-attach", "log", "ci.job", "1"}); err == nil {
		t.Error("got no error for a malformed -attach")
	}
	if err := subcmd.Run(ctx, c, []string{"get", "nope"}); err == nil {
		t.Error("got no error for a missing key")
	}
}

func TestParseAttach(t *testing.T) {
	got, err := parseAttach("out=a.txt,err=b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"out": "a.txt", "err": "b.txt"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, s := range []string{"out", "=a.txt", "out=", "out=a,out=b"} {
		if _, err := parseAttach(s); err == nil {
			t.Errorf("parseAttach(%q): got no error", s)
		}
	}
}

func TestServeNeedsStore(t *testing.T) {
	c := maincmd{s: client.New("http://localhost:1", nil)}
	if err := subcmd.Run(context.Background(), c, []string{"serve"}); err == nil {
		t.Error("got no error serving without a local store")
	}
}
