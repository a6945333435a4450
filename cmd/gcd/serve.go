package main

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/server"
)

func (c maincmd) serve(ctx context.Context, addr string, _ []string) error {
	if c.store == nil {
		return errors.New("serve needs a local store, not -url")
	}

	c.store.Dispatcher().Subscribe(gcd.EventValueChanged, func(_ context.Context, ev gcd.Event) error {
		log.Printf("%s %s: %v -> %v", ev.Kind, ev.Key, ev.Prev, ev.Value)
		return nil
	})

	srv := server.New(c.store, server.WithGatherer(c.reg), server.WithCORS(c.conf.CORSOrigins))
	return srv.ListenAndServe(ctx, addr)
}
