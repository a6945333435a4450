// Package lru implements a backlog backend that caches the head of each key
// for a nested backend.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

// Backend is a memory-based least-recently-used cache of backlog heads.
// At present it caches only heads, not whole backlogs.
// Writes pass through to the nested backend and then refresh the cache.
//
// The cache is only coherent if every write to the nested backend goes through this Backend.
type Backend struct {
	c *lru.Cache // key->*gcd.Packet
	b gcd.Backend
}

// New produces a new Backend backed by `b` and caching up to `size` heads.
func New(b gcd.Backend, size int) (*Backend, error) {
	c, err := lru.New(size)
	return &Backend{b: b, c: c}, err
}

// Append implements gcd.Backend.Append.
func (b *Backend) Append(ctx context.Context, p *gcd.Packet) error {
	if err := b.b.Append(ctx, p); err != nil {
		b.c.Remove(p.Key)
		return err
	}
	b.c.Add(p.Key, p)
	return nil
}

// Head implements gcd.Backend.Head.
func (b *Backend) Head(ctx context.Context, key string) (*gcd.Packet, error) {
	if got, ok := b.c.Get(key); ok {
		return got.(*gcd.Packet), nil
	}
	p, err := b.b.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	b.c.Add(key, p)
	return p, nil
}

// Backlog implements gcd.Backend.Backlog.
func (b *Backend) Backlog(ctx context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	return b.b.Backlog(ctx, key, start, end)
}

// ListKeys implements gcd.Backend.ListKeys.
func (b *Backend) ListKeys(ctx context.Context, prefix string, f func(string) error) error {
	return b.b.ListKeys(ctx, prefix, f)
}

// Len is the number of cached heads.
func (b *Backend) Len() int {
	return b.c.Len()
}
