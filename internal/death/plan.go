package death

import (
	"sync"
	"time"

	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

// localPlan holds the Death Pipeline's locally-computed respawn
// candidate (spec.md §4.8 "Local plan"). It starts empty, is seeded from
// the warm cache if a fresh candidate exists, and is filled in by an
// asynchronous finder refresh.
type localPlan struct {
	mu       sync.Mutex
	location *rtpkeys.Location
}

func (lp *localPlan) set(loc rtpkeys.Location) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.location = &loc
}

func (lp *localPlan) get() (rtpkeys.Location, bool) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.location == nil {
		return rtpkeys.Location{}, false
	}
	return *lp.location, true
}

// remotePlan is the Death Pipeline's remote-compute future (spec.md §4.8
// "Remote plan"): closed exactly once, by buildRemotePlan, when the
// compute/pending round trip finishes or gives up.
type remotePlan struct {
	server         string
	pendingWritten bool
	done           chan struct{}
	once           sync.Once
}

func newRemotePlan(server string) *remotePlan {
	return &remotePlan{server: server, done: make(chan struct{})}
}

func (rp *remotePlan) resolve(pendingWritten bool) {
	rp.once.Do(func() {
		rp.pendingWritten = pendingWritten
		close(rp.done)
	})
}

// plan is one player's precomputed death-time decision, consulted by the
// respawn handler if still within deathPlanValidity.
type plan struct {
	createdAt time.Time
	world     string
	kind      string // "local" or "remote"
	local     *localPlan
	remote    *remotePlan
}

// warmEntry is a per-world cached safe-location candidate, reused across
// deaths in the same world so the local plan can answer instantly while
// the finder refresh runs in the background (spec.md §4.8).
type warmEntry struct {
	location rtpkeys.Location
	at       time.Time
}

// spawnCacheEntry is a player's death-time snapshot of their shared
// SpawnPoint record, read once from the store at death and consulted
// without a further round trip at respawn (spec.md §4.8).
type spawnCacheEntry struct {
	point   rtpkeys.SpawnPoint
	expires time.Time
}
