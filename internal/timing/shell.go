// Package timing is the Go-port concurrency shell (C7): it owns the two
// periodic callback sources the original firmware drove directly off its
// bare-metal timer hardware — the 60 Hz music tick and each channel's
// period-derived phase tick — and serialises them behind one mutex so a
// preemptive Go runtime can't interleave a partially updated channel into
// the mixer, mirroring the corpus's mutex-guarded playback engines.
package timing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nesapu/engine/internal/apu"
	"github.com/nesapu/engine/internal/tracker"
)

// ErrTimerUnavailable marks a host Timer that refused to schedule a
// callback. A refused music tick is fatal to Start, which then arms nothing;
// a refused channel phase tick is recorded through the Recorder instead.
var ErrTimerUnavailable = errors.New("timing: host timer unavailable")

// Recorder observes errors recovered during playback (an engine Step past
// the module's bounds) rather than returned to a caller. A nil Recorder
// drops them silently.
type Recorder interface {
	Record(err error)
}

func record(rec Recorder, err error) {
	if rec != nil {
		rec.Record(err)
	}
}

// TimerHandle is an opaque token a Timer implementation returns from
// SchedulePeriodic and later accepts back into Cancel. Its concrete type is
// the host's to choose; Shell never inspects it.
type TimerHandle interface{}

// Timer is the host's real-time periodic dispatcher, injected so tests can
// drive ticks deterministically with a fake instead of a wall clock.
type Timer interface {
	// SchedulePeriodic arranges for callback to run roughly every interval
	// until Cancel(handle) is called. Sub-microsecond jitter is acceptable.
	SchedulePeriodic(interval time.Duration, callback func()) (handle TimerHandle, err error)
	Cancel(handle TimerHandle)
}

const musicTickInterval = time.Second / 60

// Shell binds a tracker engine and its channel oscillators to a host Timer,
// implementing apu.Scheduler so each channel can (re)arm its own phase tick
// without owning any timer bookkeeping itself.
type Shell struct {
	mu sync.Mutex

	engine   *tracker.Engine
	channels []apu.Channel
	rec      Recorder

	timer        Timer
	musicHandle  TimerHandle
	phaseHandles []TimerHandle
	running      bool
}

// NewShell binds a Shell to engine and its channel oscillators, in the same
// order the engine's tracker.Channels were constructed. rec may be nil.
func NewShell(engine *tracker.Engine, channels []apu.Channel, rec Recorder) *Shell {
	return &Shell{
		engine:       engine,
		channels:     channels,
		rec:          rec,
		phaseHandles: make([]TimerHandle, len(channels)),
	}
}

// Start arms the music tick and every channel's current phase tick against
// timer. It is idempotent: calling it while running cancels the prior
// timers first, per the cancellation policy.
func (s *Shell) Start(timer Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}
	s.timer = timer

	handle, err := timer.SchedulePeriodic(musicTickInterval, s.musicTick)
	if err != nil {
		s.timer = nil
		return fmt.Errorf("%w: music tick: %v", ErrTimerUnavailable, err)
	}
	s.musicHandle = handle
	s.running = true

	for idx, ch := range s.channels {
		if interval := ch.Interval(); interval > 0 {
			s.rearmLocked(idx, interval)
		}
	}
	return nil
}

// Stop cancels both timer sources and disables every channel.
func (s *Shell) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Shell) stopLocked() {
	if s.timer != nil {
		if s.musicHandle != nil {
			s.timer.Cancel(s.musicHandle)
		}
		for _, h := range s.phaseHandles {
			if h != nil {
				s.timer.Cancel(h)
			}
		}
	}
	for i := range s.phaseHandles {
		s.phaseHandles[i] = nil
	}
	s.musicHandle = nil
	s.timer = nil
	s.running = false
	for _, ch := range s.channels {
		ch.Disable()
	}
}

// Rearm implements apu.Scheduler: it (re)schedules channel idx's phase tick
// to fire every interval, or cancels it outright when interval is 0 (the
// channel just disabled). Channels reach it from inside the Shell's own
// locked sections (musicTick, phaseTick, Stop), so it does not take s.mu
// itself. A call before Start (e.g. while the engine primes its first frame
// during Load) is ignored; Start arms each channel from its current Interval.
func (s *Shell) Rearm(idx int, interval time.Duration) {
	if !s.running {
		return
	}
	s.rearmLocked(idx, interval)
}

func (s *Shell) rearmLocked(idx int, interval time.Duration) {
	if h := s.phaseHandles[idx]; h != nil {
		s.timer.Cancel(h)
		s.phaseHandles[idx] = nil
	}
	if interval <= 0 {
		return
	}
	i := idx
	handle, err := s.timer.SchedulePeriodic(interval, func() { s.phaseTick(i) })
	if err != nil {
		record(s.rec, fmt.Errorf("%w: channel %d phase tick: %v", ErrTimerUnavailable, idx, err))
		return
	}
	s.phaseHandles[idx] = handle
}

// musicTick runs the engine's 60 Hz row/tick advance. A Step error means the
// module's structure failed a bounds check that Load should already have
// caught; it is recorded, not propagated, and further ticking continues
// (the current channel states simply hold).
func (s *Shell) musicTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Step(); err != nil {
		record(s.rec, fmt.Errorf("music tick: %w", err))
	}
}

// phaseTick runs one channel's oscillator phase advance.
func (s *Shell) phaseTick(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[idx].PhaseTick()
}
