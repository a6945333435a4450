// Package sqldb implements a backlog backend on a SQL database,
// storing one row per packet.
// See subpackages sqlite3 and pg for the schemas and drivers.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrs "errors"
	"sort"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
)

var _ gcd.Backend = &Backend{}

// Backend is a SQL-based implementation of gcd.Backend.
//
// It expects a table `packets` with at least the columns
// seq (an auto-incrementing integer primary key),
// key, at, payload and attachments (all text).
// Backlog order is by seq, which is the order of insertion,
// so that every backend orders packets the same way
// regardless of caller-supplied timestamps.
type Backend struct {
	db *sql.DB
}

// New produces a new Backend using db for storage,
// first executing schema (which should create the packets table if needed).
func New(ctx context.Context, db *sql.DB, schema string) (*Backend, error) {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Backend{db: db}, nil
}

// DB is the underlying database.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Append implements gcd.Backend.Append.
// It is a single INSERT, so concurrent appends cannot lose each other's rows.
func (b *Backend) Append(ctx context.Context, p *gcd.Packet) error {
	const q = `INSERT INTO packets (key, at, payload, attachments) VALUES ($1, $2, $3, $4)`

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return errors.Wrapf(err, "encoding payload of %s", p.Key)
	}
	atts := p.Attachments
	if atts == nil {
		atts = map[string]gcd.AID{}
	}
	attachments, err := json.Marshal(atts)
	if err != nil {
		return errors.Wrapf(err, "encoding attachments of %s", p.Key)
	}

	_, err = b.db.ExecContext(ctx, q, p.Key, p.Timestamp.UTC().Format(gcd.TimeLayout), string(payload), string(attachments))
	return errors.Wrapf(err, "inserting packet for %s", p.Key)
}

// Head implements gcd.Backend.Head.
func (b *Backend) Head(ctx context.Context, key string) (*gcd.Packet, error) {
	packets, err := b.Backlog(ctx, key, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, gcd.ErrKeyNotFound
	}
	return packets[0], nil
}

// Backlog implements gcd.Backend.Backlog.
func (b *Backend) Backlog(ctx context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	const q = `SELECT at, payload, attachments FROM packets WHERE key = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`

	packets := []*gcd.Packet{}
	err := sqlutil.ForQueryRows(ctx, b.db, q, key, end-start, start, func(at, payload, attachments string) error {
		p, err := decodeRow(key, at, payload, attachments)
		if err != nil {
			return err
		}
		packets = append(packets, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "querying backlog of %s", key)
	}
	if len(packets) > 0 {
		return packets, nil
	}

	// An empty window is only an error if the key has no rows at all.
	const q2 = `SELECT 1 FROM packets WHERE key = $1 LIMIT 1`

	var one int
	err = b.db.QueryRowContext(ctx, q2, key).Scan(&one)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, gcd.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "checking existence of %s", key)
	}
	return packets, nil
}

func decodeRow(key, at, payload, attachments string) (*gcd.Packet, error) {
	t, err := time.ParseInLocation(gcd.TimeLayout, at, time.UTC)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing time %s", at)
	}
	p := &gcd.Packet{
		Key:         key,
		Timestamp:   t,
		Attachments: make(map[string]gcd.AID),
	}
	if err = json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return nil, errors.Wrapf(err, "decoding payload of %s at %s", key, at)
	}
	if err = json.Unmarshal([]byte(attachments), &p.Attachments); err != nil {
		return nil, errors.Wrapf(err, "decoding attachments of %s at %s", key, at)
	}
	return p, nil
}

// ListKeys implements gcd.Backend.ListKeys.
func (b *Backend) ListKeys(ctx context.Context, prefix string, f func(string) error) error {
	const q = `SELECT DISTINCT key FROM packets WHERE substr(key, 1, length(CAST($1 AS TEXT))) = CAST($1 AS TEXT)`

	var keys []string
	err := sqlutil.ForQueryRows(ctx, b.db, q, prefix, func(key string) {
		keys = append(keys, key)
	})
	if err != nil {
		return errors.Wrapf(err, "querying keys with prefix %q", prefix)
	}

	// Byte order, independent of the database's collation.
	sort.Strings(keys)

	for _, key := range keys {
		if err := f(key); err != nil {
			return err
		}
	}
	return nil
}
