// Package death implements the Death Pipeline (spec.md §4.8): it
// precomputes, at death time, what respawn should do — a local
// safe-location candidate or a full remote compute/pending round trip —
// so that the only latency the respawn handler ever waits on is a short,
// already-in-flight future rather than a fresh cross-server request.
package death

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/attempt"
	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
)

const (
	spawnCacheTTL     = 20 * time.Second
	warmCacheTTL      = 45 * time.Second
	deathPlanValidity = 15 * time.Second
	remotePlanWait    = 2 * time.Second

	// spawnPointTTL is long relative to the others: a bed or respawn
	// anchor stays a player's shared spawn until they set a new one, not
	// just for the duration of one death/respawn cycle.
	spawnPointTTL = 30 * 24 * time.Hour
)

// Pipeline is the Death Pipeline.
type Pipeline struct {
	core     *rtpcore.Context
	attempts *attempt.Manager
	metrics  *metrics.Metrics

	mu         sync.Mutex
	spawnCache map[uuid.UUID]spawnCacheEntry
	deathPlans map[uuid.UUID]*plan
	warmCache  map[string]warmEntry
}

// New constructs a Pipeline. attempts is used only for the final
// fallback path — a normal local Attempt started after respawn.
func New(core *rtpcore.Context, attempts *attempt.Manager, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		core:       core,
		attempts:   attempts,
		metrics:    m,
		spawnCache: make(map[uuid.UUID]spawnCacheEntry),
		deathPlans: make(map[uuid.UUID]*plan),
		warmCache:  make(map[string]warmEntry),
	}
}

// RecordSpawnPoint persists a shared bed/anchor spawn for player,
// observed by whichever backend the bed-enter or anchor-charge event
// fired on. kind is "BED", "ANCHOR", or "" for unknown.
func (p *Pipeline) RecordSpawnPoint(ctx context.Context, player uuid.UUID, loc rtpkeys.Location, kind string) error {
	sp := rtpkeys.SpawnPoint{
		Server:   p.core.Cfg.ServerName,
		Location: loc,
		AtMs:     p.core.NowMs(),
		Type:     kind,
	}
	raw, err := rtpkeys.Encode(sp)
	if err != nil {
		return err
	}
	return p.core.Store.SetEx(ctx, p.core.Keys.Spawn(player), spawnPointTTL, raw)
}

// OnDeath is spec.md §4.8's "On death" sequence. dimension is one of
// "normal", "nether", "end".
func (p *Pipeline) OnDeath(ctx context.Context, player uuid.UUID, deathWorld, dimension string) {
	if p.core.Cfg.Spawning.CrossServerRespawn && p.core.Store.IsRunning() {
		go p.cacheSpawnPoint(context.Background(), player)
	}

	if !p.core.Cfg.Spawning.RandomTeleportRespawn {
		return
	}

	world, server := p.selectTarget(dimension, deathWorld)
	if world == "" {
		return
	}

	pl := &plan{createdAt: p.core.Clock.Now(), world: world}
	if server == "" {
		pl.kind = "local"
		pl.local = &localPlan{}
		if warm, ok := p.getWarmCache(world); ok {
			pl.local.set(warm)
		}
		go p.refreshLocalPlan(context.Background(), world, pl.local)
	} else {
		pl.kind = "remote"
		pl.remote = newRemotePlan(server)
		go p.buildRemotePlan(context.Background(), player, world, server, pl.remote)
	}

	p.mu.Lock()
	p.deathPlans[player] = pl
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.DeathPlansBuilt.WithLabelValues(pl.kind).Inc()
	}
}

// OnRespawn is spec.md §4.8's "On respawn" sequence. bedOrAnchor reports
// whether the engine is about to honor a local bed/anchor respawn for
// this death.
func (p *Pipeline) OnRespawn(ctx context.Context, player uuid.UUID, bedOrAnchor bool) {
	spawning := p.core.Cfg.Spawning

	p.mu.Lock()
	pl := p.deathPlans[player]
	delete(p.deathPlans, player)
	p.mu.Unlock()

	if spawning.AlwaysSpawnAtSpawn {
		p.recordOutcome("always_spawn")
		return
	}

	if bedOrAnchor && (spawning.RespectBedSpawn || spawning.RespectAnchorSpawn) {
		p.recordOutcome("bed_or_anchor")
		return
	}

	if sp, ok := p.takeSpawnPoint(player); ok {
		// spec.md §4.8: remote-shared-spawn routing (the SpawnPoint was
		// recorded on another backend) is only performed when both
		// respectBedSpawn and respectAnchorSpawn are enabled — a direct
		// consequence of SpawnPoint.Type tolerating "UNKNOWN" and so not
		// reliably telling a bed record from an anchor record. A local
		// SpawnPoint is always applied; it isn't cross-server routing.
		if sp.Server == p.core.Cfg.ServerName || (spawning.RespectBedSpawn && spawning.RespectAnchorSpawn) {
			p.applySpawnPoint(ctx, player, sp)
			return
		}
	}

	if pl != nil && p.core.Clock.Now().Sub(pl.createdAt) <= deathPlanValidity {
		if pl.kind == "local" {
			if loc, ok := pl.local.get(); ok {
				p.core.Respawn.SetRespawnLocation(player, loc)
				p.recordOutcome("local_plan")
				return
			}
		} else if p.applyRemotePlan(ctx, player, pl.remote) {
			return
		}
	}

	// Final fallback: a normal local Attempt after respawn. Never starts
	// a fresh remote compute from here (spec.md §4.8).
	p.attempts.StartAttempt(ctx, player, attempt.Options{World: p.fallbackWorld()})
	p.recordOutcome("fallback_attempt")
}

func (p *Pipeline) recordOutcome(path string) {
	if p.metrics != nil {
		p.metrics.RespawnOutcomes.WithLabelValues(path).Inc()
	}
}

// applyRemotePlan waits up to remotePlanWait for the death-time remote
// future, then requests the proxy switch if it resolved with a written
// pending record. Returns true only when the proxy accepted the switch;
// on a timeout, an unwritten pending record, or a rejected switch (which
// also deletes the pending record) it returns false so the caller falls
// back to a local attempt.
func (p *Pipeline) applyRemotePlan(ctx context.Context, player uuid.UUID, rp *remotePlan) bool {
	p.core.Freezer.Freeze(player)
	defer p.core.Freezer.Unfreeze(player)

	select {
	case <-rp.done:
	case <-time.After(remotePlanWait):
		return false
	}

	if !rp.pendingWritten {
		return false
	}

	switched, err := p.core.Proxy.RequestSwitch(ctx, player, rp.server)
	if err != nil || !switched {
		_ = p.core.Store.Del(ctx, p.core.Keys.Pending(player))
		p.recordOutcome("remote_plan_switch_failed")
		return false
	}
	p.recordOutcome("remote_plan")
	return true
}

// applySpawnPoint is the shared-SpawnPoint branch of OnRespawn.
func (p *Pipeline) applySpawnPoint(ctx context.Context, player uuid.UUID, sp rtpkeys.SpawnPoint) {
	if sp.Server == p.core.Cfg.ServerName {
		p.core.Respawn.SetRespawnLocation(player, sp.Location)
		if sp.Type == "ANCHOR" {
			// Consuming a charge: the next anchor use re-arms the record.
			_ = p.core.Store.Del(ctx, p.core.Keys.Spawn(player))
		}
		p.recordOutcome("spawn_point_local")
		return
	}

	pending := rtpkeys.PendingTeleport{Server: sp.Server, Location: sp.Location, AtMs: p.core.NowMs()}
	raw, err := rtpkeys.Encode(pending)
	if err != nil {
		p.recordOutcome("spawn_point_encode_failed")
		return
	}
	if err := p.core.Store.SetEx(ctx, p.core.Keys.Pending(player), p.core.Cfg.RequestTTL, raw); err != nil {
		p.recordOutcome("spawn_point_write_failed")
		return
	}

	p.core.Freezer.Freeze(player)
	switched, err := p.core.Proxy.RequestSwitch(ctx, player, sp.Server)
	p.core.Freezer.Unfreeze(player)
	if err != nil || !switched {
		_ = p.core.Store.Del(ctx, p.core.Keys.Pending(player))
		p.recordOutcome("spawn_point_switch_failed")
		return
	}
	p.recordOutcome("spawn_point_remote")
}

// selectTarget is spec.md §4.8's "Target world selection". An empty
// world return means random-teleport respawn has no viable destination
// and OnDeath should build no plan. An empty server return means the
// destination is local.
func (p *Pipeline) selectTarget(dimension, deathWorld string) (world, server string) {
	cfg := p.core.Cfg

	if dimension == "nether" || dimension == "end" {
		if cfg.OverworldServer == cfg.ServerName {
			if sc, ok := cfg.Servers[cfg.ServerName]; ok {
				return sc.DefaultWorld, ""
			}
		} else if cfg.OverworldServer != "" {
			if sc, ok := cfg.Servers[cfg.OverworldServer]; ok {
				return sc.DefaultWorld, cfg.OverworldServer
			}
		}
	}

	if cfg.WorldEnabled(cfg.ServerName, deathWorld) {
		return deathWorld, ""
	}

	if fb, ok := p.pickFallbackServer(); ok {
		if sc, ok := cfg.Servers[fb]; ok {
			return sc.DefaultWorld, fb
		}
	}

	return "", ""
}

func (p *Pipeline) pickFallbackServer() (string, bool) {
	cfg := p.core.Cfg
	candidates := make([]string, 0, len(cfg.FallbackEnabledServers))
	for _, fb := range cfg.FallbackEnabledServers {
		if sc, ok := cfg.Servers[fb]; ok && sc.Enabled {
			candidates = append(candidates, fb)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	if cfg.FallbackMode == config.FallbackRandom {
		return candidates[rand.Intn(len(candidates))], true
	}
	return candidates[0], true
}

func (p *Pipeline) fallbackWorld() string {
	if sc, ok := p.core.Cfg.Servers[p.core.Cfg.ServerName]; ok {
		return sc.DefaultWorld
	}
	return ""
}

func (p *Pipeline) cacheSpawnPoint(ctx context.Context, player uuid.UUID) {
	raw, found, err := p.core.Store.Get(ctx, p.core.Keys.Spawn(player))
	if err != nil || !found {
		return
	}
	sp, err := rtpkeys.Decode[rtpkeys.SpawnPoint](raw)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.spawnCache[player] = spawnCacheEntry{point: sp, expires: p.core.Clock.Now().Add(spawnCacheTTL)}
	p.mu.Unlock()
}

func (p *Pipeline) takeSpawnPoint(player uuid.UUID) (rtpkeys.SpawnPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.spawnCache[player]
	if !ok {
		return rtpkeys.SpawnPoint{}, false
	}
	delete(p.spawnCache, player)
	if p.core.Clock.Now().After(e.expires) {
		return rtpkeys.SpawnPoint{}, false
	}
	return e.point, true
}

func (p *Pipeline) getWarmCache(world string) (rtpkeys.Location, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.warmCache[world]
	if !ok || p.core.Clock.Now().Sub(e.at) > warmCacheTTL {
		return rtpkeys.Location{}, false
	}
	return e.location, true
}

func (p *Pipeline) setWarmCache(world string, loc rtpkeys.Location) {
	p.mu.Lock()
	p.warmCache[world] = warmEntry{location: loc, at: p.core.Clock.Now()}
	p.mu.Unlock()
}

func (p *Pipeline) refreshLocalPlan(ctx context.Context, world string, lp *localPlan) {
	loc, err := p.core.Finder.FindSafe(ctx, world)
	if err != nil || loc == nil {
		return
	}
	lp.set(*loc)
	p.setWarmCache(world, *loc)
}

// buildRemotePlan runs the same publish/poll/pre-write-pending protocol
// as the Remote Dispatcher (spec.md §4.6), stopping short of requesting
// the proxy switch — that happens later, from OnRespawn, once the
// respawn handler actually needs it.
func (p *Pipeline) buildRemotePlan(ctx context.Context, player uuid.UUID, world, server string, rp *remotePlan) {
	requestID := uuid.New().String()
	req := rtpkeys.ComputeRequest{
		RequestID:    requestID,
		PlayerUUID:   player.String(),
		TargetServer: server,
		World:        world,
		CreatedAtMs:  p.core.NowMs(),
	}
	raw, err := rtpkeys.Encode(req)
	if err != nil {
		rp.resolve(false)
		return
	}

	if !p.core.Store.IsRunning() {
		rp.resolve(false)
		return
	}
	if err := p.core.Store.Publish(ctx, p.core.Keys.Compute(), raw); err != nil {
		rp.resolve(false)
		return
	}

	resp, ok := p.pollResponse(ctx, requestID)
	if !ok || !resp.Ok {
		rp.resolve(false)
		return
	}

	pending := rtpkeys.PendingTeleport{Server: resp.Server, Location: resp.Location, AtMs: p.core.NowMs()}
	pendingRaw, err := rtpkeys.Encode(pending)
	if err != nil {
		rp.resolve(false)
		return
	}
	if err := p.core.Store.SetEx(ctx, p.core.Keys.Pending(player), p.core.Cfg.RequestTTL, pendingRaw); err != nil {
		rp.resolve(false)
		return
	}
	if p.metrics != nil {
		p.metrics.PendingWritten.Inc()
	}
	rp.resolve(true)
}

// pollResponse mirrors dispatch.Dispatcher.poll (spec.md §4.6 step 3):
// same key, same deadline/ticker shape, same poison-record handling.
func (p *Pipeline) pollResponse(ctx context.Context, requestID string) (rtpkeys.ComputeResponse, bool) {
	key := p.core.Keys.Resp(requestID)
	interval := p.core.Cfg.ResponsePollInterval
	deadline := time.Now().Add(p.core.Cfg.RequestTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || !p.core.Store.IsRunning() {
			return rtpkeys.ComputeResponse{}, false
		}
		if time.Now().After(deadline) {
			return rtpkeys.ComputeResponse{}, false
		}

		raw, found, err := p.core.Store.Get(ctx, key)
		if err == nil && found {
			_ = p.core.Store.Del(ctx, key)
			resp, decodeErr := rtpkeys.Decode[rtpkeys.ComputeResponse](raw)
			if decodeErr != nil {
				return rtpkeys.ComputeResponse{}, false
			}
			return resp, true
		}

		select {
		case <-ctx.Done():
			return rtpkeys.ComputeResponse{}, false
		case <-ticker.C:
		}
	}
}
