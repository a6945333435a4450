package mem

import (
	"context"
	"testing"

	"github.com/ldotlopez/gcd/testutil"
)

func TestStore(t *testing.T) {
	testutil.Attachments(context.Background(), t, New())
}
