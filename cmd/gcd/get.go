package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/server"
)

func (c maincmd) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get KEY")
	}

	p, err := c.s.Get(ctx, args[0])
	if err != nil {
		return errors.Wrapf(err, "getting %s", args[0])
	}
	return c.printJSON(p.Exchange())
}

func (c maincmd) backlog(ctx context.Context, start, end int, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: backlog [-start N] [-end N] KEY")
	}
	if end < 0 {
		end = start + gcd.DefaultBacklogWindow
	}

	packets, err := c.s.Backlog(ctx, args[0], start, end)
	if err != nil {
		return errors.Wrapf(err, "getting backlog of %s", args[0])
	}

	versions := make([]server.Version, 0, len(packets))
	for _, p := range packets {
		versions = append(versions, server.Version{
			Payload:   p.Payload,
			Timestamp: p.Timestamp.UTC().Format(gcd.TimeLayout),
		})
	}
	return c.printJSON(versions)
}

func (c maincmd) attachment(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: attachment ID")
	}

	id, err := gcd.AIDFromHex(args[0])
	if err != nil {
		return err
	}
	rc, err := c.s.OpenAttachment(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "opening attachment %s", id)
	}
	defer rc.Close()

	_, err = io.Copy(c.out, rc)
	return errors.Wrap(err, "writing attachment")
}

func (c maincmd) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing JSON")
}
