// Package mem implements an in-memory backlog backend.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

// Backend is a memory-based implementation of gcd.Backend.
type Backend struct {
	mu       sync.Mutex
	backlogs map[string][]*gcd.Packet // newest first
}

// New produces a new Backend.
func New() *Backend {
	return &Backend{backlogs: make(map[string][]*gcd.Packet)}
}

// Append implements gcd.Backend.Append.
func (b *Backend) Append(_ context.Context, p *gcd.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.backlogs[p.Key]
	backlog := make([]*gcd.Packet, 0, len(old)+1)
	backlog = append(backlog, p)
	backlog = append(backlog, old...)
	b.backlogs[p.Key] = backlog
	return nil
}

// Head implements gcd.Backend.Head.
func (b *Backend) Head(_ context.Context, key string) (*gcd.Packet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog, ok := b.backlogs[key]
	if !ok {
		return nil, gcd.ErrKeyNotFound
	}
	return backlog[0], nil
}

// Backlog implements gcd.Backend.Backlog.
func (b *Backend) Backlog(_ context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog, ok := b.backlogs[key]
	if !ok {
		return nil, gcd.ErrKeyNotFound
	}
	start, end = gcd.Window(len(backlog), start, end)
	result := make([]*gcd.Packet, end-start)
	copy(result, backlog[start:end])
	return result, nil
}

// ListKeys implements gcd.Backend.ListKeys.
func (b *Backend) ListKeys(_ context.Context, prefix string, f func(string) error) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.backlogs))
	for key := range b.backlogs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	b.mu.Unlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := f(key); err != nil {
			return err
		}
	}
	return nil
}
