// Package config holds the configuration surface consumed by every
// component of the RTP coordination layer (spec.md §6). It is plain
// data — no parsing logic beyond env-or-default flag wiring, which lives
// in cmd/rtpd per the teacher's convention.
package config

import "time"

// FallbackMode selects how the Death Pipeline picks among configured
// fallback servers when the death world's RTP is disabled locally.
type FallbackMode string

const (
	FallbackFirst  FallbackMode = "first"
	FallbackRandom FallbackMode = "random"
)

// WorldConfig is the per-world enablement and override block for a
// single server entry.
type WorldConfig struct {
	Enabled bool
}

// ServerConfig is the per-server entry in the fleet's routing table.
type ServerConfig struct {
	Enabled      bool
	DefaultWorld string
	Worlds       map[string]WorldConfig
}

// Spawning bundles the cross-server respawn toggles from spec.md §6.
type Spawning struct {
	CrossServerRespawn  bool
	AlwaysSpawnAtSpawn  bool
	RandomTeleportRespawn bool
	RespectBedSpawn     bool
	RespectAnchorSpawn  bool
}

// Config is the full configuration surface for one backend instance.
type Config struct {
	ServerName string

	RequestTTL    time.Duration
	Cooldown      time.Duration
	Countdown     time.Duration

	// ResponsePollInterval is clamped to [1,40] ticks (50ms/tick) by
	// ClampResponsePollInterval, matching spec.md §4.6 step 3.
	ResponsePollInterval time.Duration

	PendingMaxFinalizeAttempts uint32

	FallbackEnabledServers []string
	FallbackMode           FallbackMode

	Servers map[string]ServerConfig

	Spawning Spawning

	// OverworldServer, when set, names the local server's configured
	// overworld — used by the Death Pipeline to force-route nether/end
	// deaths (spec.md §4.8).
	OverworldServer string
}

const tickDuration = 50 * time.Millisecond

// ClampResponsePollInterval clamps a tick count to [1,40] ticks, per
// spec.md §4.6: "clamped to [1,40] ticks".
func ClampResponsePollInterval(ticks int) time.Duration {
	if ticks < 1 {
		ticks = 1
	}
	if ticks > 40 {
		ticks = 40
	}
	return time.Duration(ticks) * tickDuration
}

// WorldEnabled reports whether world is RTP-enabled on the named server.
// An unknown server or world defaults to disabled.
func (c *Config) WorldEnabled(server, world string) bool {
	sc, ok := c.Servers[server]
	if !ok || !sc.Enabled {
		return false
	}
	wc, ok := sc.Worlds[world]
	if !ok {
		return false
	}
	return wc.Enabled
}

// ServerEnabled reports whether the named server participates in RTP at
// all (distinct from any single world being enabled on it).
func (c *Config) ServerEnabled(server string) bool {
	sc, ok := c.Servers[server]
	return ok && sc.Enabled
}
