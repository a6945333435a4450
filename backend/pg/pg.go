// Package pg provides the Postgresql schema and driver for the sqldb backlog backend.
package pg

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd/backend/sqldb"
)

// Schema is the SQL that New executes.
// It creates the `packets` table if it does not exist.
// (If it does exist, it must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS packets (
  seq BIGSERIAL PRIMARY KEY,
  key TEXT NOT NULL,
  at TEXT NOT NULL,
  payload TEXT NOT NULL,
  attachments TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS packets_key_seq_idx ON packets (key, seq);
`

// New produces a new sqldb.Backend using `db` for storage.
func New(ctx context.Context, db *sql.DB) (*sqldb.Backend, error) {
	return sqldb.New(ctx, db, Schema)
}

// Open connects to the Postgresql database described by conn
// and produces a backend on it.
func Open(ctx context.Context, conn string) (*sqldb.Backend, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	b, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}
