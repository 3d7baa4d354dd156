package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/gamethread"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
)

type fakeOnline struct{ ids []uuid.UUID }

func (f *fakeOnline) OnlinePlayerIDs() []uuid.UUID { return f.ids }

func newTestService(t *testing.T) (*Service, *rtpcore.Context, *store.Fake, *fakeOnline) {
	t.Helper()
	s := store.NewFake(0)
	s.Start()
	sched := gamethread.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	online := &fakeOnline{}
	core := &rtpcore.Context{
		Cfg:       &config.Config{ServerName: "smp"},
		Store:     s,
		Scheduler: sched,
		Keys:      rtpkeys.New("rtp:"),
		Online:    online,
	}

	svc, err := New(core, zap.NewNop())
	require.NoError(t, err)
	return svc, core, s, online
}

func TestPresenceOnJoinWritesRecord(t *testing.T) {
	svc, core, s, _ := newTestService(t)
	player := uuid.New()

	svc.OnJoin(context.Background(), player)

	val, found, err := s.Get(context.Background(), core.Keys.Presence(player))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "smp", val)
}

func TestPresenceOnQuitDeletesRecord(t *testing.T) {
	svc, core, s, _ := newTestService(t)
	player := uuid.New()

	svc.OnJoin(context.Background(), player)
	svc.OnQuit(context.Background(), player)

	_, found, err := s.Get(context.Background(), core.Keys.Presence(player))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPresenceSnapshotWritesAllOnlinePlayers(t *testing.T) {
	svc, core, s, online := newTestService(t)
	p1, p2 := uuid.New(), uuid.New()
	online.ids = []uuid.UUID{p1, p2}

	svc.snapshot(context.Background())
	time.Sleep(50 * time.Millisecond)

	for _, p := range []uuid.UUID{p1, p2} {
		_, found, err := s.Get(context.Background(), core.Keys.Presence(p))
		require.NoError(t, err)
		assert.True(t, found)
	}
}
