package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a lexicographically sortable unique id.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

func NewRequestID() domain.RequestID { return domain.RequestID(NewULID()) }
