package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
)

// parseAttach parses a comma-separated list of name=path pairs.
func parseAttach(s string) (map[string]string, error) {
	result := make(map[string]string)
	if s == "" {
		return result, nil
	}
	for _, item := range strings.Split(s, ",") {
		name, path, ok := strings.Cut(item, "=")
		if !ok || name == "" || path == "" {
			return nil, errors.Errorf("want name=path, got %q", item)
		}
		if _, ok := result[name]; ok {
			return nil, errors.Errorf("duplicate attachment %s", name)
		}
		result[name] = path
	}
	return result, nil
}

func (c maincmd) put(ctx context.Context, atstr, attach string, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: put [-at TIME] [-attach NAME=PATH,...] KEY [JSON]")
	}
	key := args[0]

	attachs, err := parseAttach(attach)
	if err != nil {
		return errors.Wrap(err, "parsing -attach")
	}

	// The payload is the second argument, or else standard input.
	var raw []byte
	if len(args) == 2 {
		raw = []byte(args[1])
	} else {
		raw, err = io.ReadAll(c.in)
		if err != nil {
			return errors.Wrap(err, "reading stdin")
		}
	}
	var payload interface{}
	if err = json.Unmarshal(raw, &payload); err != nil {
		return errors.Wrap(err, "decoding payload")
	}

	// Without -at the timestamp is left for the store to assign.
	var at time.Time
	if atstr != "" {
		at, err = parsetime(atstr)
		if err != nil {
			return errors.Wrap(err, "parsing -at")
		}
	}
	opts := []gcd.PacketOption{gcd.WithTimestamp(at)}

	if len(attachs) > 0 {
		streams := make(map[string]io.Reader, len(attachs))
		for name, path := range attachs {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "opening %s", path)
			}
			defer f.Close()
			streams[name] = f
		}
		opts = append(opts, gcd.WithAttachments(streams))
	}

	p, err := gcd.NewPacket(key, payload, opts...)
	if err != nil {
		return err
	}
	saved, err := c.s.Save(ctx, p)
	if err != nil {
		return errors.Wrapf(err, "saving %s", key)
	}

	for name, id := range saved.Attachments {
		log.Printf("attachment %s: %s", name, id)
	}
	return c.printJSON(saved.Exchange())
}
