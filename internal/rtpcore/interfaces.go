// Package rtpcore defines the cross-component context value and the
// consumed external collaborator interfaces (spec.md §6). It resolves
// the plugin-root/listener cyclic reference the spec's design notes call
// out: instead of a global singleton, every component takes a *Context
// at construction, modeled on the teacher's Config dependency-bag
// constructors (notification.Config, RouterConfig).
package rtpcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/gamethread"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
)

// Proxy is the external proxy connector (spec.md §6): it can move a
// connected player between backends. A returned false is a permanent
// failure for the current attempt.
type Proxy interface {
	RequestSwitch(ctx context.Context, player uuid.UUID, server string) (bool, error)
}

// Finder is the external safe-location finder (spec.md §6). It may take
// seconds and perform async chunk loads; returning (nil, nil) means the
// configured max tries were exhausted with no safe candidate found.
type Finder interface {
	FindSafe(ctx context.Context, world string) (*rtpkeys.Location, error)
}

// Notifier is the external player-messaging surface (spec.md §6),
// addressed by message key. Formatting, sounds, boss bars, and titles
// are the collaborator's concern.
type Notifier interface {
	Notify(player uuid.UUID, key string, params map[string]string)
}

// Teleporter is the local-backend execution surface behind a finalized
// RTP: preloading the destination chunk and performing the actual
// teleport (spec.md §4.5 Dispatching, §4.7 step 6). Not named as a
// top-level external collaborator in spec.md §6 because it is local
// game-engine work rather than a cross-process protocol, but it is still
// consumed only through this interface — never called directly by
// component logic — so tests can substitute a fake.
type Teleporter interface {
	PreloadChunk(ctx context.Context, world string, loc rtpkeys.Location) error
	Teleport(ctx context.Context, player uuid.UUID, loc rtpkeys.Location) (bool, error)
}

// PlayerFreezer applies and releases the Join Finalizer's visual freeze
// (spec.md §4.7 step 5): invulnerable, flight enabled, zero movement
// speed, brief blindness. The Death Pipeline's respawn-time "brief
// visual mask" (spec.md §4.8) reuses the same collaborator — both are
// the same engine-level effect applied for different durations.
type PlayerFreezer interface {
	Freeze(player uuid.UUID)
	Unfreeze(player uuid.UUID)
}

// RespawnSetter pins a player's respawn location on this backend
// (spec.md §4.8 "local setRespawnLocation"). It is never called for a
// remote respawn decision — those go through Proxy.RequestSwitch instead.
type RespawnSetter interface {
	SetRespawnLocation(player uuid.UUID, loc rtpkeys.Location)
}

// Position is a player's current location, used only by the movement
// monitor's stillness/jump detection (spec.md §4.5). It keeps exact
// coordinates (the jump check compares fractional Y) and derives block
// cells from them; unlike rtpkeys.Location it carries no yaw or pitch.
type Position struct {
	World  string
	X, Y, Z float64
}

// BlockX, BlockY, BlockZ are the block-cell coordinates used for the
// movement monitor's "block-cell change" cancel cause.
func (p Position) BlockX() int64 { return int64(floor(p.X)) }
func (p Position) BlockY() int64 { return int64(floor(p.Y)) }
func (p Position) BlockZ() int64 { return int64(floor(p.Z)) }

func floor(v float64) float64 {
	i := int64(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return float64(i)
}

// OnlinePlayers reports the currently-connected player ids, read on the
// game thread (spec.md §4.3: the Presence Service's periodic snapshot).
type OnlinePlayers interface {
	OnlinePlayerIDs() []uuid.UUID
}

// PositionSource reports a connected player's current position. It is
// the game-state read the movement monitor needs every 4 ticks; reads
// must only happen on the game thread (spec.md §5), so implementations
// are expected to be called from within gamethread.Scheduler.RunOnGameThread.
type PositionSource interface {
	Position(player uuid.UUID) (Position, bool)
}

// Clock abstracts "now" for record timestamps (NowMs) and the Death
// Pipeline's cache and plan ages, so tests can pin those values. Poll
// deadlines, the countdown, and the movement monitor use real time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Context bundles every collaborator a component needs, constructed once
// in cmd/rtpd and passed into each component's constructor.
type Context struct {
	Cfg       *config.Config
	Store     store.Client
	Notify    Notifier
	Proxy     Proxy
	Finder    Finder
	Clock     Clock
	Scheduler *gamethread.Scheduler
	Keys      rtpkeys.Keys
	Positions PositionSource
	Teleport  Teleporter
	Freezer   PlayerFreezer
	Respawn   RespawnSetter
	Online    OnlinePlayers
}

// NowMs returns the current time in milliseconds since epoch, the
// timestamp unit used by every record in spec.md §3.
func (c *Context) NowMs() int64 {
	return c.Clock.Now().UnixMilli()
}
