package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/habitfeed/internal/feed"
)

// SequentialIDGenerator hands out temporary ids "tmp-1", "tmp-2", ... so
// golden snapshots and assertions can name optimistic posts up front.
//
// Thread-safety: safe for concurrent use.
type SequentialIDGenerator struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next temporary id.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", feed.TempIDPrefix, g.n)
}
