package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed identifier, e.g. "sale-4f9c...". The prefix keeps
// ids self-describing in logs and test failures.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
