package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/ldotlopez/gcd/backend/sqldb"
	"github.com/ldotlopez/gcd/testutil"
)

func TestBackend(t *testing.T) {
	withBackend(t, func(ctx context.Context, b *sqldb.Backend) {
		testutil.Backend(ctx, t, b)
	})
}

const connVar = "GCD_PG_TESTING_CONN"

// withBackend runs f against a fresh packets table.
// The table is dropped afterwards, so point connVar at a scratch database.
func withBackend(t *testing.T, f func(context.Context, *sqldb.Backend)) {
	connstr := os.Getenv(connVar)
	if connstr == "" {
		t.Skipf("to run %s, set %s to a valid Postgresql connection string", t.Name(), connVar)
	}

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err = db.ExecContext(ctx, `DROP TABLE IF EXISTS packets`); err != nil {
		t.Fatal(err)
	}
	defer db.ExecContext(ctx, `DROP TABLE IF EXISTS packets`)

	b, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	f(ctx, b)
}
