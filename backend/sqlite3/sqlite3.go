// Package sqlite3 provides the Sqlite schema and driver for the sqldb backlog backend.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd/backend/sqldb"
)

// Schema is the SQL that New executes.
// It creates the `packets` table if it does not exist.
// (If it does exist, it must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS packets (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
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

// Open opens the Sqlite database named by conn
// (a file name or a "file:" URI)
// and produces a backend on it.
func Open(ctx context.Context, conn string) (*sqldb.Backend, error) {
	db, err := sql.Open("sqlite3", conn)
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
