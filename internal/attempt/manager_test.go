package attempt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/gamethread"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
)

type recordedNotify struct {
	key    string
	params map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []recordedNotify
}

func (n *recordingNotifier) Notify(player uuid.UUID, key string, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, recordedNotify{key: key, params: params})
}

func (n *recordingNotifier) has(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if m.key == key {
			return true
		}
	}
	return false
}

type fakeFinder struct {
	loc *rtpkeys.Location
	err error
}

func (f *fakeFinder) FindSafe(ctx context.Context, world string) (*rtpkeys.Location, error) {
	return f.loc, f.err
}

type fakeTeleporter struct {
	mu        sync.Mutex
	preloaded bool
	teleports int
	ok        bool
	err       error
}

func (f *fakeTeleporter) PreloadChunk(ctx context.Context, world string, loc rtpkeys.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloaded = true
	return nil
}

func (f *fakeTeleporter) Teleport(ctx context.Context, player uuid.UUID, loc rtpkeys.Location) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teleports++
	return f.ok, f.err
}

type stillPositions struct{ pos rtpcore.Position }

func (s stillPositions) Position(player uuid.UUID) (rtpcore.Position, bool) { return s.pos, true }

type fakeDispatcher struct {
	ok  bool
	err error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, player uuid.UUID, targetServer, world string) (bool, error) {
	return d.ok, d.err
}

func newTestManager(t *testing.T, countdown time.Duration) (*Manager, *rtpcore.Context, *recordingNotifier, *fakeTeleporter, *store.Fake) {
	t.Helper()
	s := store.NewFake(0)
	s.Start()
	sched := gamethread.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	notify := &recordingNotifier{}
	teleport := &fakeTeleporter{ok: true}

	core := &rtpcore.Context{
		Cfg: &config.Config{
			ServerName: "smp",
			Cooldown:   time.Minute,
			Countdown:  countdown,
		},
		Store:     s,
		Clock:     rtpcore.SystemClock{},
		Scheduler: sched,
		Keys:      rtpkeys.New("rtp:"),
		Notify:    notify,
		Finder:    &fakeFinder{loc: &rtpkeys.Location{World: "world", X: 1, Y: 64, Z: 1}},
		Teleport:  teleport,
		Positions: stillPositions{pos: rtpcore.Position{World: "world", X: 1, Y: 64, Z: 1}},
		Freezer:   noopFreezer{},
	}

	m := New(core, &fakeDispatcher{ok: true}, nil)
	return m, core, notify, teleport, s
}

type noopFreezer struct{}

func (noopFreezer) Freeze(uuid.UUID)   {}
func (noopFreezer) Unfreeze(uuid.UUID) {}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestAttemptLocalBypassTeleportsImmediately(t *testing.T) {
	m, _, notify, teleport, _ := newTestManager(t, 0)
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{Bypass: true})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgSuccessTeleported) })
	assert.True(t, teleport.preloaded)
	assert.Equal(t, 1, teleport.teleports)
}

func TestAttemptZeroCountdownDispatchesImmediately(t *testing.T) {
	m, _, notify, teleport, _ := newTestManager(t, 0)
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgSuccessTeleported) })
	assert.Equal(t, 1, teleport.teleports)
}

func TestAttemptCooldownActiveRejectsAttempt(t *testing.T) {
	m, core, notify, teleport, s := newTestManager(t, 0)
	player := uuid.New()

	require.NoError(t, s.SetEx(context.Background(), core.Keys.Cooldown(player), time.Minute, "1"))

	m.StartAttempt(context.Background(), player, Options{})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgCooldownActive) })
	assert.Equal(t, 0, teleport.teleports)
}

func TestAttemptBypassSkipsCooldownCheck(t *testing.T) {
	m, core, notify, teleport, s := newTestManager(t, 0)
	player := uuid.New()

	require.NoError(t, s.SetEx(context.Background(), core.Keys.Cooldown(player), time.Minute, "1"))

	m.StartAttempt(context.Background(), player, Options{Bypass: true})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgSuccessTeleported) })
	assert.Equal(t, 1, teleport.teleports)
}

func TestAttemptNoSafeLocationFails(t *testing.T) {
	m, core, notify, teleport, _ := newTestManager(t, 0)
	core.Finder = &fakeFinder{loc: nil, err: nil}
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgNoSafeLocation) })
	assert.Equal(t, 0, teleport.teleports)
}

func TestAttemptStartingNewAttemptCancelsPrior(t *testing.T) {
	m, _, _, teleport, _ := newTestManager(t, 2*time.Second)
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{})
	time.Sleep(50 * time.Millisecond)
	m.StartAttempt(context.Background(), player, Options{Bypass: true})

	waitFor(t, 2*time.Second, func() bool { return teleport.teleports == 1 })

	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, 1, teleport.teleports)
}

func TestAttemptRemoteDispatchDelegatesToDispatcher(t *testing.T) {
	s := store.NewFake(0)
	s.Start()
	sched := gamethread.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	notify := &recordingNotifier{}
	core := &rtpcore.Context{
		Cfg: &config.Config{
			ServerName: "smp",
			Cooldown:   time.Minute,
			Countdown:  time.Second,
		},
		Store:     s,
		Clock:     rtpcore.SystemClock{},
		Scheduler: sched,
		Keys:      rtpkeys.New("rtp:"),
		Notify:    notify,
	}
	m := New(core, &fakeDispatcher{ok: true}, nil)
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{TargetServer: "nether_hub"})

	waitFor(t, time.Second, func() bool { return notify.has(rtpcore.MsgStatusSwitching) })
}

func TestAttemptRemoteDispatchFailureClearsAttempt(t *testing.T) {
	s := store.NewFake(0)
	s.Start()
	sched := gamethread.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	notify := &recordingNotifier{}
	core := &rtpcore.Context{
		Cfg: &config.Config{
			ServerName: "smp",
			Cooldown:   time.Minute,
		},
		Store:     s,
		Clock:     rtpcore.SystemClock{},
		Scheduler: sched,
		Keys:      rtpkeys.New("rtp:"),
		Notify:    notify,
	}
	m := New(core, &fakeDispatcher{ok: false}, nil)
	player := uuid.New()

	m.StartAttempt(context.Background(), player, Options{TargetServer: "nether_hub"})

	waitFor(t, time.Second, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, live := m.slots[player]
		return !live
	})
}
