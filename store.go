package gcd

import (
	"context"
	"io"
	"log"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultBacklogWindow is the number of packets Backlog returns
// when the caller does not ask for a specific window.
const DefaultBacklogWindow = 100

// Service is the set of packet operations offered both by a local Store
// and by a client of a remote gcd server.
type Service interface {
	Save(ctx context.Context, p *Packet) (*Packet, error)
	Get(ctx context.Context, key string) (*Packet, error)
	Backlog(ctx context.Context, key string, start, end int) ([]*Packet, error)
	List(ctx context.Context, namespace string) ([]string, error)
	OpenAttachment(ctx context.Context, id AID) (io.ReadCloser, error)
}

var _ Service = &Store{}

// Store keeps a versioned history of packets per key,
// with attachment bytes kept once per distinct content.
type Store struct {
	b Backend
	a Attachments
	d *Dispatcher
	m *Metrics

	locks keyLocks
}

// Option configures a Store.
type Option func(*Store)

// WithDispatcher sets the dispatcher the Store publishes events to.
// By default a Store has a dispatcher of its own, available from Dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(s *Store) {
		s.d = d
	}
}

// WithMetrics makes the Store record operations in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.m = m
	}
}

// New produces a new Store keeping backlogs in b and attachment bytes in a.
func New(b Backend, a Attachments, opts ...Option) *Store {
	s := &Store{b: b, a: a}
	for _, opt := range opts {
		opt(s)
	}
	if s.d == nil {
		s.d = NewDispatcher()
	}
	return s
}

// Dispatcher returns the dispatcher to which s publishes events.
func (s *Store) Dispatcher() *Dispatcher {
	return s.d
}

// Save persists p as the newest version of p.Key.
//
// Pending attachment streams are written to the attachment store
// and replaced by their content ids in the returned packet,
// which is the authoritative persisted form of p.
// Ids already present in p.Attachments must name stored blobs.
// A zero timestamp is replaced with the current time.
// Saves to the same key are serialized;
// saves to different keys proceed in parallel.
//
// If the payload differs from the previous head,
// an EventValueChanged event is published while the key is still locked,
// so handlers see the events for one key in backlog order.
// A handler must therefore not Save to the key it was notified about.
// Handler errors are logged, not returned, since the save has already happened.
func (s *Store) Save(ctx context.Context, p *Packet) (_ *Packet, err error) {
	defer func(t0 time.Time) { s.m.observe("save", t0, err) }(time.Now())

	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := NormalizePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	if err := s.checkAttachments(ctx, p); err != nil {
		return nil, err
	}

	ids, err := s.writeAttachments(ctx, p.Pending)
	if err != nil {
		return nil, err
	}

	saved := &Packet{
		Key:         p.Key,
		Payload:     payload,
		Timestamp:   NormalizeTime(p.Timestamp),
		Attachments: make(map[string]AID, len(p.Attachments)+len(ids)),
	}
	if saved.Timestamp.IsZero() {
		saved.Timestamp = NormalizeTime(time.Now())
	}
	for name, id := range p.Attachments {
		saved.Attachments[name] = id
	}
	for name, id := range ids {
		saved.Attachments[name] = id
	}

	if err := s.commit(ctx, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// commit appends p to its backlog and publishes the resulting change,
// all under the lock for p.Key.
func (s *Store) commit(ctx context.Context, p *Packet) error {
	unlock := s.locks.lock(p.Key)
	defer unlock()

	prev, err := s.b.Head(ctx, p.Key)
	if errors.Is(err, ErrKeyNotFound) {
		prev = nil
	} else if err != nil {
		return errors.Wrapf(err, "getting previous head of %s", p.Key)
	}

	if err := s.b.Append(ctx, p); err != nil {
		return errors.Wrapf(err, "appending to backlog of %s", p.Key)
	}

	if prev != nil && reflect.DeepEqual(prev.Payload, p.Payload) {
		return nil
	}
	ev := Event{
		Kind:   EventValueChanged,
		Key:    p.Key,
		Value:  p.Payload,
		Prev:   NoValue,
		Packet: p,
	}
	if prev != nil {
		ev.Prev = prev.Payload
	}
	s.m.event(ev.Kind)
	if err := s.d.Publish(ctx, ev); err != nil {
		log.Printf("ERROR publishing %s for %s: %s", ev.Kind, ev.Key, err)
	}
	return nil
}

// checkAttachments makes sure every id p carries over
// (one not replaced by a pending stream of the same name)
// refers to a blob in the attachment store.
func (s *Store) checkAttachments(ctx context.Context, p *Packet) error {
	for name, id := range p.Attachments {
		if _, ok := p.Pending[name]; ok {
			continue
		}
		r, err := s.a.Open(ctx, id)
		if errors.Is(err, ErrAttachmentNotFound) {
			return errors.Wrapf(ErrInvalidAttachment, "attachment %s refers to missing blob %s", name, id)
		}
		if err != nil {
			return errors.Wrapf(err, "checking attachment %s", name)
		}
		r.Close()
	}
	return nil
}

func (s *Store) writeAttachments(ctx context.Context, pending map[string]io.Reader) (map[string]AID, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]AID, len(pending))
	names := make([]string, 0, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for name, r := range pending {
		var (
			i    = len(names)
			name = name
			cr   = &countingReader{r: r}
		)
		names = append(names, name)
		g.Go(func() error {
			id, added, err := s.a.Write(gctx, cr)
			if err != nil {
				return errors.Wrapf(err, "writing attachment %s", name)
			}
			s.m.attachment(cr.n, added)
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[string]AID, len(names))
	for i, name := range names {
		result[name] = ids[i]
	}
	return result, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(buf []byte) (int, error) {
	n, err := c.r.Read(buf)
	c.n += int64(n)
	return n, err
}

// Get returns the newest packet for key, or ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (_ *Packet, err error) {
	defer func(t0 time.Time) { s.m.observe("get", t0, err) }(time.Now())

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.b.Head(ctx, key)
}

// Backlog returns the newest-first packets for key with indexes in [start, end).
// Use DefaultBacklogWindow for end to get the most recent window.
// Each call reads the backend afresh.
func (s *Store) Backlog(ctx context.Context, key string, start, end int) (_ []*Packet, err error) {
	defer func(t0 time.Time) { s.m.observe("backlog", t0, err) }(time.Now())

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, errors.Wrapf(ErrInvalidRange, "[%d, %d)", start, end)
	}
	return s.b.Backlog(ctx, key, start, end)
}

// List returns the child segments of namespace (see Children).
// An empty namespace lists the top-level segments of all keys.
func (s *Store) List(ctx context.Context, namespace string) (_ []string, err error) {
	defer func(t0 time.Time) { s.m.observe("list", t0, err) }(time.Now())

	prefix := ""
	if namespace != "" {
		if err := ValidateKey(namespace); err != nil {
			return nil, errors.Wrap(err, "validating namespace")
		}
		prefix = namespace + "."
	}

	var keys []string
	err = s.b.ListKeys(ctx, prefix, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing keys with prefix %q", prefix)
	}
	return Children(keys, namespace), nil
}

// OpenAttachment returns a reader for the attachment with the given id.
func (s *Store) OpenAttachment(ctx context.Context, id AID) (_ io.ReadCloser, err error) {
	defer func(t0 time.Time) { s.m.observe("open_attachment", t0, err) }(time.Now())
	return s.a.Open(ctx, id)
}
