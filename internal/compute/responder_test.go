package compute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
)

type fakeFinder struct {
	loc *rtpkeys.Location
	err error
}

func (f *fakeFinder) FindSafe(ctx context.Context, world string) (*rtpkeys.Location, error) {
	return f.loc, f.err
}

func newCore(s store.Client) *rtpcore.Context {
	return &rtpcore.Context{
		Cfg: &config.Config{
			ServerName: "smp",
			RequestTTL: time.Second,
		},
		Store: s,
		Keys:  rtpkeys.New("rtp:"),
	}
}

func TestResponderDropsRequestsForOtherServers(t *testing.T) {
	s := store.NewFake(0)
	s.Start()
	core := newCore(s)
	core.Finder = &fakeFinder{loc: &rtpkeys.Location{World: "world"}}
	r := New(core, nil)

	req := rtpkeys.ComputeRequest{RequestID: "r1", TargetServer: "other", World: "world"}
	raw, err := rtpkeys.Encode(req)
	require.NoError(t, err)
	r.handle(context.Background(), raw)

	_, found, err := s.Get(context.Background(), core.Keys.Resp("r1"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResponderWritesOkResponse(t *testing.T) {
	s := store.NewFake(0)
	s.Start()
	core := newCore(s)
	loc := &rtpkeys.Location{World: "world", X: 1, Y: 2, Z: 3}
	core.Finder = &fakeFinder{loc: loc}
	r := New(core, nil)

	req := rtpkeys.ComputeRequest{RequestID: "r1", TargetServer: "smp", World: "world"}
	raw, err := rtpkeys.Encode(req)
	require.NoError(t, err)
	r.handle(context.Background(), raw)

	got, found, err := s.Get(context.Background(), core.Keys.Resp("r1"))
	require.NoError(t, err)
	require.True(t, found)
	resp, err := rtpkeys.Decode[rtpkeys.ComputeResponse](got)
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	assert.Equal(t, *loc, resp.Location)
}

func TestResponderWritesFailureWhenNoSafeLocation(t *testing.T) {
	s := store.NewFake(0)
	s.Start()
	core := newCore(s)
	core.Finder = &fakeFinder{loc: nil}
	r := New(core, nil)

	req := rtpkeys.ComputeRequest{RequestID: "r1", TargetServer: "smp", World: "world"}
	raw, err := rtpkeys.Encode(req)
	require.NoError(t, err)
	r.handle(context.Background(), raw)

	got, found, err := s.Get(context.Background(), core.Keys.Resp("r1"))
	require.NoError(t, err)
	require.True(t, found)
	resp, err := rtpkeys.Decode[rtpkeys.ComputeResponse](got)
	require.NoError(t, err)
	assert.False(t, resp.Ok)
}

func TestResponderDropsWhenStoreNotRunning(t *testing.T) {
	s := store.NewFake(0)
	s.Stop() // NewFake starts in the running state
	core := newCore(s)
	core.Finder = &fakeFinder{loc: &rtpkeys.Location{World: "world"}}
	r := New(core, nil)

	req := rtpkeys.ComputeRequest{RequestID: "r1", TargetServer: "smp", World: "world"}
	raw, err := rtpkeys.Encode(req)
	require.NoError(t, err)
	r.handle(context.Background(), raw)

	_, found, _ := s.Get(context.Background(), core.Keys.Resp("r1"))
	assert.False(t, found)
}
