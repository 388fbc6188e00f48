package apu

import (
	"errors"
	"fmt"
	"time"

	"github.com/nesapu/engine/internal/waveform"
)

// nesCycleHz is the NES master audio cycle rate: one NES cycle is
// 1/1,789,772 of a second.
const nesCycleHz = 1789772.0

// ErrOutOfRangePeriod marks a period computed outside (8, 0xFFF]. It is
// never returned to a caller — the channel disables itself and playback
// continues — but is recorded through an optionally injected Recorder so
// tests and debug builds can observe it.
var ErrOutOfRangePeriod = errors.New("apu: period out of range")

// Recorder observes errors that are recovered locally rather than returned,
// such as an out-of-range period. A nil Recorder silently drops them.
type Recorder interface {
	Record(err error)
}

func record(rec Recorder, err error) {
	if rec != nil {
		rec.Record(err)
	}
}

// Scheduler is the non-owning collaborator a Channel uses to (re)arm its own
// phase tick. internal/timing.Shell implements this; injecting it at
// construction, like the Mixer back-reference, avoids the channel owning its
// own timer bookkeeping.
type Scheduler interface {
	// Rearm (re)schedules channel idx's phase tick to fire every interval.
	// interval == 0 means "cancel any scheduled tick" (the channel is
	// disabled).
	Rearm(idx int, interval time.Duration)
}

// Channel is one of the three 2A03 oscillator kinds. All three share the
// setter surface; PhaseTick and Note differ by channel-specific waveform and
// note-to-period tables.
type Channel interface {
	Enable()
	Disable()
	Note(note uint8)
	SetPeriod(period uint16)
	AdjustPeriod(period uint16)
	Period() uint16
	SetVolume(v uint8)
	SetPitch(offset int16)
	SetDuty(d uint8)
	Output() uint8
	Enabled() bool
	Interval() time.Duration
	PhaseTick()
	Snapshot() Snapshot

	// SetScheduler binds the channel's Scheduler after construction, for
	// callers that must build the channel before its scheduler exists (the
	// scheduler and the channels it schedules have a circular dependency at
	// wiring time). It does not itself rearm; the next Enable/Disable/
	// SetPeriod call does.
	SetScheduler(sched Scheduler)
}

// Snapshot captures a channel's state for tests; it plays no role on the
// playback path.
type Snapshot struct {
	Period  uint16
	Pitch   int16
	Duty    uint8
	Volume  uint8
	Tick    uint8
	Shift   uint16
	Output  uint8
	Enabled bool
}

// common holds the state and setter logic shared by square, triangle, and
// noise oscillators: period, pitch, duty, volume, phase tick index, last
// output, and the deferred-retime flag.
type common struct {
	idx   int
	mixer *Mixer
	sched Scheduler
	rec   Recorder

	period        uint16
	pendingPeriod uint16
	pitch         int16
	pendingPitch  int16
	updatePending bool
	duty          uint8
	volume        uint8
	tick          uint8
	output        uint8
}

func inRange(period uint16) bool {
	return period > 8 && period <= 0xfff
}

func (c *common) Enabled() bool {
	return inRange(c.period)
}

func (c *common) Period() uint16 {
	return c.period
}

func (c *common) Output() uint8 {
	return c.output
}

func (c *common) SetVolume(v uint8) {
	c.volume = v
}

func (c *common) SetDuty(d uint8) {
	c.duty = d
}

// SetPitch stores the additive offset and marks a deferred retime: the new
// pitch takes effect at the next natural phase boundary, not immediately
// (the same point at which AdjustPeriod's deferred reschedule happens).
func (c *common) SetPitch(offset int16) {
	c.pendingPitch = offset
	c.pendingPeriod = c.period
	c.updatePending = true
}

// Interval converts the current period (plus pitch) to a phase tick
// duration. A disabled channel (period out of (8, 0xFFF]) reports a zero
// interval, the signal to cancel any scheduled tick.
func (c *common) Interval() time.Duration {
	if !c.Enabled() {
		return 0
	}
	cycles := int32(c.period) + int32(c.pitch)
	if cycles < 1 {
		cycles = 1
	}
	return time.Duration(float64(cycles) / nesCycleHz * float64(time.Second))
}

func (c *common) SetScheduler(sched Scheduler) {
	c.sched = sched
}

func (c *common) rearmNow() {
	if c.sched != nil {
		c.sched.Rearm(c.idx, c.Interval())
	}
}

func (c *common) Enable() {
	c.period = 0xfff
	c.pendingPeriod = 0xfff
	c.pendingPitch = c.pitch
	c.rearmNow()
}

func (c *common) Disable() {
	c.period = 0
	c.pendingPeriod = 0
	c.pendingPitch = c.pitch
	c.updatePending = false
	c.rearmNow()
}

// SetPeriod writes the period and immediately reschedules the phase tick.
// An out-of-range period disables the channel instead.
func (c *common) SetPeriod(period uint16) {
	if !inRange(period) {
		record(c.rec, fmt.Errorf("%w: set_period(%#x)", ErrOutOfRangePeriod, period))
		c.Disable()
		return
	}
	c.period = period
	c.pendingPitch = c.pitch
	c.updatePending = false
	c.rearmNow()
}

// AdjustPeriod writes the period but defers the reschedule to the next
// natural phase boundary, preserving waveform continuity for sweeps and
// slides. An out-of-range period disables the channel immediately, since a
// disabled channel has no future phase boundary to defer to.
func (c *common) AdjustPeriod(period uint16) {
	if !inRange(period) {
		record(c.rec, fmt.Errorf("%w: adjust_period(%#x)", ErrOutOfRangePeriod, period))
		c.Disable()
		return
	}
	c.period = period
	c.pendingPitch = c.pitch
	c.pendingPeriod = period
	c.updatePending = true
}

// commitPending applies a deferred period/pitch retime at the start of a
// phase tick, then rearms using the now-current interval. It is a no-op when
// nothing is pending.
func (c *common) commitPending() {
	if !c.updatePending {
		return
	}
	c.period = c.pendingPeriod
	c.pitch = c.pendingPitch
	c.updatePending = false
	c.rearmNow()
}

func (c *common) snapshot() Snapshot {
	return Snapshot{
		Period:  c.period,
		Pitch:   c.pitch,
		Duty:    c.duty,
		Volume:  c.volume,
		Tick:    c.tick,
		Output:  c.output,
		Enabled: c.Enabled(),
	}
}

// square is one of the two pulse-wave oscillators.
type square struct {
	common
}

// NewSquare constructs a square channel. idx is its slot in mixer; sched may
// be nil for tests that drive PhaseTick directly without a timing shell; rec
// may be nil to drop recovered out-of-range-period errors silently.
func NewSquare(idx int, mixer *Mixer, sched Scheduler, rec Recorder) Channel {
	return &square{common{idx: idx, mixer: mixer, sched: sched, rec: rec}}
}

func (s *square) Note(note uint8) {
	s.SetPeriod(waveform.NoteToSquarePeriod(note))
}

func (s *square) PhaseTick() {
	s.commitPending()
	s.output = s.volume * waveform.Square[s.duty&0x3][s.tick&0x7]
	s.tick = (s.tick + 1) & 0x7
	s.mixer.Set(s.idx, s.output)
}

func (s *square) Snapshot() Snapshot {
	return s.snapshot()
}

// triangle is the single triangle-wave oscillator.
type triangle struct {
	common
}

// NewTriangle constructs the triangle channel.
func NewTriangle(idx int, mixer *Mixer, sched Scheduler, rec Recorder) Channel {
	return &triangle{common{idx: idx, mixer: mixer, sched: sched, rec: rec}}
}

func (t *triangle) Note(note uint8) {
	t.SetPeriod(waveform.NoteToTrianglePeriod(note))
}

func (t *triangle) PhaseTick() {
	t.commitPending()
	if t.volume != 0 {
		t.output = waveform.Triangle[t.tick&0x1f]
	} else {
		t.output = 8
	}
	t.tick = (t.tick + 1) & 0x1f
	t.mixer.Set(t.idx, t.output)
}

func (t *triangle) Snapshot() Snapshot {
	return t.snapshot()
}

// noise is the single pseudo-random noise oscillator, driven by a 15-bit
// linear-feedback shift register seeded to 1 (it must never reach 0).
type noise struct {
	common
	shift uint16
}

// NewNoise constructs the noise channel with its LFSR seeded to 1.
func NewNoise(idx int, mixer *Mixer, sched Scheduler, rec Recorder) Channel {
	return &noise{common: common{idx: idx, mixer: mixer, sched: sched, rec: rec}, shift: 1}
}

func (n *noise) Note(note uint8) {
	n.SetPeriod(waveform.NoteToNoisePeriod(note))
}

func (n *noise) PhaseTick() {
	n.commitPending()
	tap := uint(1)
	if n.duty != 0 {
		tap = 6
	}
	bit := uint16(1) & (n.shift ^ (n.shift >> tap))
	n.shift = (n.shift >> 1) | (bit << 14)
	n.output = (n.volume >> 1) * uint8(bit)
	n.tick = (n.tick + 1) & 1
	n.mixer.Set(n.idx, n.output)
}

func (n *noise) Snapshot() Snapshot {
	s := n.snapshot()
	s.Shift = n.shift
	return s
}
