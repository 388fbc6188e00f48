// Package nesapu wires the four 2A03 channel oscillators, the module
// reader, and the tracker engine into a single playable unit. Load, Start,
// Stop and Output hold the Engine's mutex; the two timer callbacks, and the
// Start/Stop work on the channels, hold the timing.Shell's mutex, so a
// preemptive Go host never sees a partially updated channel mid-mix.
package nesapu

import (
	"sync"

	"github.com/nesapu/engine/internal/apu"
	"github.com/nesapu/engine/internal/module"
	"github.com/nesapu/engine/internal/timing"
	"github.com/nesapu/engine/internal/tracker"
	"github.com/nesapu/engine/internal/waveform"
)

// Sentinel errors, re-exported from the internal packages that actually
// detect them so callers never need to import internal/... themselves.
var (
	ErrInvalidModule     = module.ErrInvalidModule
	ErrUnsupportedOpcode = tracker.ErrUnsupportedOpcode
	ErrOutOfRangePeriod  = apu.ErrOutOfRangePeriod
	ErrTimerUnavailable  = timing.ErrTimerUnavailable
)

// Sink is the abstract DAC the engine writes mixed samples to.
type Sink = apu.Sink

// Timer is the host's real-time periodic dispatcher.
type Timer = timing.Timer

// TimerHandle is the opaque token a Timer hands back from SchedulePeriodic.
type TimerHandle = timing.TimerHandle

// Channel slots, matching the mixer's fixed four-voice layout.
const (
	idxSquare1  = 0
	idxSquare2  = 1
	idxTriangle = 2
	idxNoise    = 3
)

// errorCounter is the "injected counter/logger" the error-handling design
// calls for: it satisfies every internal package's Recorder interface, so
// one value can be handed to apu, tracker, and timing alike.
type errorCounter struct {
	mu    sync.Mutex
	count int
	last  error
}

func (c *errorCounter) Record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.last = err
}

func (c *errorCounter) snapshot() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.last
}

// Engine is the library's root type: four apu channel oscillators behind an
// apu.Mixer, a module.Reader over the currently loaded module bytes, one
// tracker.Channel per oscillator driven by a shared tracker.Engine, and a
// timing.Shell binding the whole thing to a host Timer.
type Engine struct {
	mu sync.Mutex

	sink Sink
	rec  *errorCounter

	mixer    *apu.Mixer
	channels []apu.Channel
	reader   *module.Reader
	tengine  *tracker.Engine
	shell    *timing.Shell

	loaded bool
}

// New constructs an Engine writing mixed samples to sink. sink may be nil
// (useful for tests that only inspect Output()).
func New(sink Sink) *Engine {
	return &Engine{sink: sink, rec: &errorCounter{}}
}

// ErrorCount reports how many playback-time errors (unsupported opcodes,
// out-of-range periods) have been recovered since the last Load. It never
// reflects Load or Start failures, which are returned directly instead.
func (e *Engine) ErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.rec.snapshot()
	return n
}

// Load parses data as a compiled module, resolves songIndex's song info,
// and resets every channel to a known idle state. It tears down any prior
// playback: callers must Start again afterward.
func (e *Engine) Load(data []byte, song int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shell != nil {
		e.shell.Stop()
	}
	e.rec = &errorCounter{}

	reader := module.NewReader(data)
	mixer := apu.NewMixer(e.sink)

	square1 := apu.NewSquare(idxSquare1, mixer, nil, e.rec)
	square2 := apu.NewSquare(idxSquare2, mixer, nil, e.rec)
	triangle := apu.NewTriangle(idxTriangle, mixer, nil, e.rec)
	noise := apu.NewNoise(idxNoise, mixer, nil, e.rec)
	channels := []apu.Channel{square1, square2, triangle, noise}

	tchannels := make([]*tracker.Channel, len(channels))
	tchannels[idxSquare1] = tracker.NewChannel(square1, reader, waveform.NoteToSquarePeriod, e.rec)
	tchannels[idxSquare2] = tracker.NewChannel(square2, reader, waveform.NoteToSquarePeriod, e.rec)
	tchannels[idxTriangle] = tracker.NewChannel(triangle, reader, waveform.NoteToTrianglePeriod, e.rec)
	tchannels[idxNoise] = tracker.NewChannel(noise, reader, waveform.NoteToNoisePeriod, e.rec)

	tengine := tracker.NewEngine(reader, tchannels, e.rec)
	if err := tengine.Load(song); err != nil {
		return err
	}

	shell := timing.NewShell(tengine, channels, e.rec)
	for _, ch := range channels {
		// Wire each channel's back-reference to the shell now that both
		// exist; NewSquare/NewTriangle/NewNoise took nil above because the
		// shell cannot be constructed before the channels it schedules.
		ch.SetScheduler(shell)
	}

	e.mixer = mixer
	e.channels = channels
	e.reader = reader
	e.tengine = tengine
	e.shell = shell
	e.loaded = true
	return nil
}

// Start begins playback against timer: the 60 Hz music tick and every
// channel's current phase tick are armed. Start is idempotent; calling it
// again while running cancels the prior timer's callbacks first.
func (e *Engine) Start(timer Timer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrInvalidModule
	}
	return e.shell.Start(timer)
}

// Stop cancels both timer sources and disables every channel.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shell != nil {
		e.shell.Stop()
	}
}

// Output returns the mixer's last computed 6-bit sample.
func (e *Engine) Output() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return 0
	}
	return e.mixer.Output()
}
