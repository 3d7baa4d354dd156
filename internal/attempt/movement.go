package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/gamethread"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
)

const (
	tick           = 50 * time.Millisecond
	sampleInterval = 4 * tick
	sampleDelay    = 4 * tick
	// stillSamplesToArm is the number of consecutive identical samples
	// needed before a baseline arms — ~1s of stillness (spec.md §4.5).
	stillSamplesToArm = 5
	jumpThreshold     = 0.20
)

// monitor samples a player's position on the game thread every 4 ticks
// and detects the movement that should cancel an in-progress countdown.
// A baseline only arms after 5 consecutive identical block-cell samples,
// so a player who was still moving when the RTP command fired is not
// punished immediately.
type monitor struct {
	sched     *gamethread.Scheduler
	positions rtpcore.PositionSource
	player    uuid.UUID
	onCancel  func()

	stop func()

	lastSample   rtpcore.Position
	haveSample   bool
	stillCount   int
	baseline     rtpcore.Position
	baselineSet  bool
	countdownOn  bool
}

// newMonitor constructs a monitor. Call start to begin sampling.
func newMonitor(sched *gamethread.Scheduler, positions rtpcore.PositionSource, player uuid.UUID, onCancel func()) *monitor {
	return &monitor{
		sched:     sched,
		positions: positions,
		player:    player,
		onCancel:  onCancel,
	}
}

// start begins sampling after an initial 4-tick delay. Must be called
// once; ctx governs the sampler's lifetime alongside the explicit Stop
// call.
func (m *monitor) start(ctx context.Context) {
	m.sched.After(sampleDelay, func() {
		if ctx.Err() != nil {
			return
		}
		m.sample()
		m.stop = m.sched.Every(ctx, sampleInterval, m.sample)
	})
}

// armCountdown switches the monitor into cancel-on-movement mode. Called
// when the Attempt Manager enters the Countdown state.
func (m *monitor) armCountdown() {
	m.countdownOn = true
}

// Stop halts sampling. Safe to call multiple times.
func (m *monitor) Stop() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

// sample runs on the game thread (scheduled via RunOnGameThread by After/Every).
func (m *monitor) sample() {
	pos, ok := m.positions.Position(m.player)
	if !ok {
		// Player no longer online; nothing to monitor. The Attempt
		// Manager's own online checks handle termination.
		return
	}

	if !m.haveSample || !sameCell(pos, m.lastSample) {
		m.stillCount = 1
		m.lastSample = pos
		if !m.haveSample {
			m.haveSample = true
		}
	} else {
		m.stillCount++
		m.lastSample = pos
	}

	if !m.baselineSet && m.stillCount >= stillSamplesToArm {
		m.baseline = pos
		m.baselineSet = true
	}

	if m.countdownOn && m.baselineSet {
		if cancelCause(pos, m.baseline) {
			m.onCancel()
		}
	}
}

// sameCell reports whether a and b occupy the same world and block cell.
func sameCell(a, b rtpcore.Position) bool {
	return a.World == b.World && a.BlockX() == b.BlockX() && a.BlockY() == b.BlockY() && a.BlockZ() == b.BlockZ()
}

// cancelCause reports whether pos should cancel a countdown armed against
// baseline: world change, block-cell change, or a jump (spec.md §4.5).
func cancelCause(pos, baseline rtpcore.Position) bool {
	if pos.World != baseline.World {
		return true
	}
	if pos.BlockX() != baseline.BlockX() || pos.BlockY() != baseline.BlockY() || pos.BlockZ() != baseline.BlockZ() {
		return true
	}
	if pos.Y > baseline.Y+jumpThreshold {
		return true
	}
	return false
}
