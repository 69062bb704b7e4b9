package xid

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator hands out opaque identifiers. Uniqueness of invoice numbers does
// not depend on it; those come from the ledger sequence.
type Generator interface {
	New(prefix string) string
}

type Random struct{}

func (Random) New(prefix string) string {
	return New(prefix)
}

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Sequential produces prefix-1, prefix-2, ... and is handy in tests.
type Sequential struct {
	n atomic.Int64
}

func (s *Sequential) New(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.n.Add(1))
}
