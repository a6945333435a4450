package logging

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/ldotlopez/gcd/backend/mem"
	"github.com/ldotlopez/gcd/testutil"
)

func TestBackend(t *testing.T) {
	var (
		buf = new(bytes.Buffer)
		b   = NewWithLogger(mem.New(), log.New(buf, "", 0))
	)
	testutil.Backend(context.Background(), t, b)

	out := buf.String()
	for _, want := range []string{"ERROR in Head(foo): key not found", "Append(foo, 1977-08-05 12:00:00.000000)", "ListKeys, prefix=\"ns.\""} {
		if !strings.Contains(out, want) {
			t.Errorf("log output does not contain %q", want)
		}
	}
}
