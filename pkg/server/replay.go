package server

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxReplayEntries = 16_384

// replayGuard remembers accepted admin requests for as long as their issuedAt
// could still pass the age check. Entries evicted by size before then are no
// longer caught.
type replayGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[common.Hash, struct{}]
}

// newReplayGuard keeps entries for twice maxAge since issuedAt may sit on
// either side of now. A zero maxAge keeps entries until evicted by size.
func newReplayGuard(maxAge time.Duration) *replayGuard {
	return &replayGuard{
		seen: expirable.NewLRU[common.Hash, struct{}](maxReplayEntries, nil, 2*maxAge),
	}
}

// observe records key and reports whether it was new.
func (g *replayGuard) observe(key common.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return false
	}
	g.seen.Add(key, struct{}{})
	return true
}
