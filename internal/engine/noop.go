// Package engine provides a reference adapter for every game-engine
// collaborator interface rtpcore defines (Proxy, Finder, Notifier,
// Teleporter, PlayerFreezer, RespawnSetter, PositionSource,
// OnlinePlayers). spec.md §1 keeps the real versions of these
// deliberately out of scope — "external collaborators, only their
// interfaces are specified" — since they belong to whatever game server
// process embeds this coordination layer.
//
// Logger is a standalone, dependency-free stand-in so cmd/rtpd can start
// and exercise the coordination layer's wiring without a real game
// engine attached. A production deployment replaces every field here
// with an adapter into its own world/player/proxy APIs.
package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

// Logger implements every rtpcore collaborator interface by logging the
// call and returning a conservative default (no candidates found, no
// players online, switch/teleport accepted). It never touches real game
// state because it has none.
type Logger struct {
	log *zap.Logger
}

// New constructs a Logger adapter.
func New(log *zap.Logger) *Logger {
	return &Logger{log: log.Named("engine")}
}

func (l *Logger) RequestSwitch(ctx context.Context, player uuid.UUID, server string) (bool, error) {
	l.log.Info("proxy switch requested", zap.String("player", player.String()), zap.String("server", server))
	return true, nil
}

func (l *Logger) FindSafe(ctx context.Context, world string) (*rtpkeys.Location, error) {
	l.log.Warn("no finder attached — returning no candidate", zap.String("world", world))
	return nil, nil
}

func (l *Logger) Notify(player uuid.UUID, key string, params map[string]string) {
	l.log.Info("notify", zap.String("player", player.String()), zap.String("key", key), zap.Any("params", params))
}

func (l *Logger) PreloadChunk(ctx context.Context, world string, loc rtpkeys.Location) error {
	l.log.Info("preload chunk", zap.String("world", world))
	return nil
}

func (l *Logger) Teleport(ctx context.Context, player uuid.UUID, loc rtpkeys.Location) (bool, error) {
	l.log.Info("teleport", zap.String("player", player.String()), zap.String("world", loc.World))
	return true, nil
}

func (l *Logger) Freeze(player uuid.UUID) {
	l.log.Debug("freeze", zap.String("player", player.String()))
}

func (l *Logger) Unfreeze(player uuid.UUID) {
	l.log.Debug("unfreeze", zap.String("player", player.String()))
}

func (l *Logger) SetRespawnLocation(player uuid.UUID, loc rtpkeys.Location) {
	l.log.Info("set respawn location", zap.String("player", player.String()), zap.String("world", loc.World))
}

func (l *Logger) OnlinePlayerIDs() []uuid.UUID {
	return nil
}

func (l *Logger) Position(player uuid.UUID) (rtpcore.Position, bool) {
	return rtpcore.Position{}, false
}

var (
	_ rtpcore.Proxy          = (*Logger)(nil)
	_ rtpcore.Finder         = (*Logger)(nil)
	_ rtpcore.Notifier       = (*Logger)(nil)
	_ rtpcore.Teleporter     = (*Logger)(nil)
	_ rtpcore.PlayerFreezer  = (*Logger)(nil)
	_ rtpcore.RespawnSetter  = (*Logger)(nil)
	_ rtpcore.OnlinePlayers  = (*Logger)(nil)
	_ rtpcore.PositionSource = (*Logger)(nil)
)
