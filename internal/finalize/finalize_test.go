package finalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
)

var errWorldMissing = errors.New("world not loaded")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recordingNotifier struct{ calls []string }

func (n *recordingNotifier) Notify(player uuid.UUID, key string, params map[string]string) {
	n.calls = append(n.calls, key)
}

type fakeFreezer struct{ frozen, unfrozen int }

func (f *fakeFreezer) Freeze(player uuid.UUID)   { f.frozen++ }
func (f *fakeFreezer) Unfreeze(player uuid.UUID) { f.unfrozen++ }

type fakeTeleporter struct {
	preloadErr   error
	teleportOk   bool
	teleportErr  error
	lastLocation rtpkeys.Location
}

func (t *fakeTeleporter) PreloadChunk(ctx context.Context, world string, loc rtpkeys.Location) error {
	return t.preloadErr
}

func (t *fakeTeleporter) Teleport(ctx context.Context, player uuid.UUID, loc rtpkeys.Location) (bool, error) {
	t.lastLocation = loc
	return t.teleportOk, t.teleportErr
}

func newCore(serverName string) (*rtpcore.Context, *store.Fake, *recordingNotifier, *fakeFreezer, *fakeTeleporter) {
	s := store.NewFake(0)
	s.Start()
	notifier := &recordingNotifier{}
	freezer := &fakeFreezer{}
	teleporter := &fakeTeleporter{teleportOk: true}
	core := &rtpcore.Context{
		Cfg: &config.Config{
			ServerName:                 serverName,
			RequestTTL:                 time.Minute,
			PendingMaxFinalizeAttempts: 3,
		},
		Store:    s,
		Clock:    &fakeClock{now: time.Unix(1000, 0)},
		Keys:     rtpkeys.New("rtp:"),
		Notify:   notifier,
		Freezer:  freezer,
		Teleport: teleporter,
	}
	return core, s, notifier, freezer, teleporter
}

func TestFinalizeNoPendingIsNoop(t *testing.T) {
	core, _, notifier, freezer, _ := newCore("smp")
	f := New(core, nil)
	f.OnJoin(context.Background(), uuid.New())
	assert.Empty(t, notifier.calls)
	assert.Equal(t, 0, freezer.frozen)
}

func TestFinalizeSucceeds(t *testing.T) {
	core, s, notifier, freezer, teleporter := newCore("smp")
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{
		Server:   "smp",
		Location: rtpkeys.Location{World: "world", X: 1, Y: 500, Z: 1, Pitch: 120},
		AtMs:     core.NowMs(),
	}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	require.NoError(t, s.SetEx(context.Background(), core.Keys.Pending(player), time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	assert.Equal(t, 1, freezer.frozen)
	assert.Equal(t, 1, freezer.unfrozen)
	assert.Contains(t, notifier.calls, rtpcore.MsgSuccessTeleported)
	assert.LessOrEqual(t, teleporter.lastLocation.Y, float64(318))
	assert.LessOrEqual(t, teleporter.lastLocation.Pitch, float32(90))

	_, found, err := s.Get(context.Background(), core.Keys.Pending(player))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFinalizeIgnoresOtherServer(t *testing.T) {
	core, s, notifier, freezer, _ := newCore("smp")
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{Server: "lobby", AtMs: core.NowMs()}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	key := core.Keys.Pending(player)
	require.NoError(t, s.SetEx(context.Background(), key, time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	assert.Empty(t, notifier.calls)
	assert.Equal(t, 0, freezer.frozen)
	_, found, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, found, "record for another server must be left alone")
}

func TestFinalizeDeletesStalePending(t *testing.T) {
	core, s, _, _, _ := newCore("smp")
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{Server: "smp", AtMs: core.NowMs() - core.Cfg.RequestTTL.Milliseconds() - 1000}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	key := core.Keys.Pending(player)
	require.NoError(t, s.SetEx(context.Background(), key, time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	_, found, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFinalizeBumpsAttemptsOnTeleportFailure(t *testing.T) {
	core, s, notifier, freezer, teleporter := newCore("smp")
	teleporter.teleportOk = false
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{Server: "smp", Location: rtpkeys.Location{World: "world"}, AtMs: core.NowMs(), Attempts: 0}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	key := core.Keys.Pending(player)
	require.NoError(t, s.SetEx(context.Background(), key, time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	assert.Equal(t, 1, freezer.unfrozen)
	assert.Contains(t, notifier.calls, rtpcore.MsgNoSafeLocation)

	got, found, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "record must survive below the attempt ceiling")
	bumped, err := rtpkeys.Decode[rtpkeys.PendingTeleport](got)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), bumped.Attempts)
}

func TestFinalizeBumpsAttemptsOnUnknownWorld(t *testing.T) {
	core, s, notifier, freezer, teleporter := newCore("smp")
	teleporter.preloadErr = errWorldMissing
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{Server: "smp", Location: rtpkeys.Location{World: "nonexistent"}, AtMs: core.NowMs(), Attempts: 0}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	key := core.Keys.Pending(player)
	require.NoError(t, s.SetEx(context.Background(), key, time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	assert.Equal(t, 1, freezer.unfrozen)
	assert.Contains(t, notifier.calls, rtpcore.MsgUnknownWorld)
	assert.NotContains(t, notifier.calls, rtpcore.MsgNoSafeLocation)

	got, found, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "record must survive below the attempt ceiling")
	bumped, err := rtpkeys.Decode[rtpkeys.PendingTeleport](got)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), bumped.Attempts)
}

func TestFinalizeDeletesAfterExhaustingAttempts(t *testing.T) {
	core, s, _, _, teleporter := newCore("smp")
	teleporter.teleportOk = false
	player := uuid.New()
	pending := rtpkeys.PendingTeleport{Server: "smp", Location: rtpkeys.Location{World: "world"}, AtMs: core.NowMs(), Attempts: 2}
	raw, err := rtpkeys.Encode(pending)
	require.NoError(t, err)
	key := core.Keys.Pending(player)
	require.NoError(t, s.SetEx(context.Background(), key, time.Minute, raw))

	f := New(core, nil)
	f.OnJoin(context.Background(), player)

	_, found, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found, "record must be dropped once pendingMaxFinalizeAttempts is reached")
}
