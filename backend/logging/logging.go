// Package logging implements a backlog backend that delegates everything to a nested backend,
// logging operations as they happen.
package logging

import (
	"context"
	"log"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

type Backend struct {
	b gcd.Backend
	l *log.Logger
}

// New produces a Backend logging to the standard logger.
func New(b gcd.Backend) *Backend {
	return &Backend{b: b, l: log.Default()}
}

// NewWithLogger produces a Backend logging to l.
func NewWithLogger(b gcd.Backend, l *log.Logger) *Backend {
	return &Backend{b: b, l: l}
}

func (b *Backend) Append(ctx context.Context, p *gcd.Packet) error {
	err := b.b.Append(ctx, p)
	if err != nil {
		b.l.Printf("ERROR in Append(%s, %s): %s", p.Key, p.Timestamp.Format(gcd.TimeLayout), err)
	} else {
		b.l.Printf("Append(%s, %s), %d attachments", p.Key, p.Timestamp.Format(gcd.TimeLayout), len(p.Attachments))
	}
	return err
}

func (b *Backend) Head(ctx context.Context, key string) (*gcd.Packet, error) {
	p, err := b.b.Head(ctx, key)
	if err != nil {
		b.l.Printf("ERROR in Head(%s): %s", key, err)
	} else {
		b.l.Printf("Head(%s): %s", key, p.Timestamp.Format(gcd.TimeLayout))
	}
	return p, err
}

func (b *Backend) Backlog(ctx context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	packets, err := b.b.Backlog(ctx, key, start, end)
	if err != nil {
		b.l.Printf("ERROR in Backlog(%s, %d, %d): %s", key, start, end, err)
	} else {
		b.l.Printf("Backlog(%s, %d, %d): %d packets", key, start, end, len(packets))
	}
	return packets, err
}

func (b *Backend) ListKeys(ctx context.Context, prefix string, f func(string) error) error {
	b.l.Printf("ListKeys, prefix=%q", prefix)
	return b.b.ListKeys(ctx, prefix, func(key string) error {
		err := f(key)
		if err != nil {
			b.l.Printf("  ERROR in ListKeys at %s: %s", key, err)
		} else {
			b.l.Printf("  ListKeys: %s", key)
		}
		return err
	})
}
