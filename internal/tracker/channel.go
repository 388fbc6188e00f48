// Package tracker implements the bytecode interpreter that walks a
// FamiTracker-style compiled module and drives the 2A03 channel oscillators:
// one Channel per voice, and an Engine that advances the shared
// frame/pattern/tick cursor at 60 Hz.
package tracker

import (
	"errors"
	"fmt"

	"github.com/nesapu/engine/internal/apu"
	"github.com/nesapu/engine/internal/module"
)

// ErrUnsupportedOpcode marks an opcode that is present in the byte stream
// but not synthesised (DPCM, vibrato, tremolo, volume slide, retrigger). The
// argument byte is consumed so cursor advancement stays correct, and
// playback continues; this is never returned to a caller, only recorded.
var ErrUnsupportedOpcode = errors.New("tracker: unsupported opcode")

// Recorder observes errors recovered locally during playback (unsupported
// opcodes, module reads that fail mid-stream) rather than returned to a
// caller. A nil Recorder drops them silently.
type Recorder interface {
	Record(err error)
}

func record(rec Recorder, err error) {
	if rec != nil {
		rec.Record(err)
	}
}

// sequenceSlot indexes the five per-instrument sequence runners.
const (
	seqVolume = iota
	seqArpeggio
	seqPitch
	seqHiPitch
	seqDuty
	seqSlotCount
)

type seqRunner struct {
	data   []byte
	count  uint8
	repeat uint8
	tick   uint8
}

// Control is the set of song-wide effects a row can trigger, reported back
// to the Engine after Exec: speed changes, frame jumps/skips, and halt.
// These affect the shared cursor, not just one channel, so Channel cannot
// apply them itself.
type Control struct {
	SetSpeed  bool
	Speed     uint8
	Jump      bool
	JumpFrame uint8
	SkipFrame bool
	Halt      bool
}

// Channel is the per-voice command interpreter: it owns a cursor into the
// module's pattern byte stream, the note/effect state described by the
// tracker channel data model, and a non-owning reference to the oscillator
// it drives.
type Channel struct {
	osc      apu.Channel
	reader   *module.Reader
	toPeriod func(note uint8) uint16
	rec      Recorder

	cmds int

	enabled     bool
	note        uint8
	baseVolume  uint8
	pitchOffset int16

	delay  uint8
	pdelay uint8

	cut uint8

	sweep    uint8
	sweepDiv uint8

	arp      uint8
	arpCount uint8

	port        uint8
	slide       uint8
	slideTarget uint16

	seq [seqSlotCount]seqRunner
}

// NewChannel constructs a tracker channel bound to osc. toPeriod converts a
// semitone to that oscillator kind's NES cycle period (one of
// waveform.NoteToSquarePeriod/NoteToTrianglePeriod/NoteToNoisePeriod).
func NewChannel(osc apu.Channel, reader *module.Reader, toPeriod func(note uint8) uint16, rec Recorder) *Channel {
	c := &Channel{osc: osc, reader: reader, toPeriod: toPeriod, rec: rec}
	c.Reset()
	return c
}

// Reset zeroes every tracker-level state field and sets the default base
// volume, per the engine's load/reset behaviour. It also silences the
// oscillator.
func (c *Channel) Reset() {
	c.cmds = 0
	c.enabled = false
	c.note = 0
	c.baseVolume = 0xf
	c.pitchOffset = 0
	c.delay = 0
	c.pdelay = 0xff
	c.cut = 0
	c.sweep = 0
	c.sweepDiv = 0
	c.arp = 0
	c.arpCount = 0
	c.port = 0
	c.slide = 0
	c.slideTarget = 0
	for i := range c.seq {
		c.seq[i] = seqRunner{}
	}
	c.osc.Disable()
}

// Frame resets the row cursor to the start of a new frame's pattern byte
// stream. Sequence state is preserved across frames unless a new
// instrument is selected.
func (c *Channel) Frame(cursor int) {
	c.cmds = cursor
	c.delay = 0
	c.pdelay = 0xff
}

// setInstrument loads a new instrument's sequences and clears the
// oscillator's pitch and duty, per the sequence() operation.
func (c *Channel) setInstrument(instIndex int) {
	seqs, err := c.reader.Instrument(instIndex)
	if err != nil {
		record(c.rec, err)
		return
	}
	for i := range c.seq {
		c.seq[i] = seqRunner{data: seqs[i].Data, count: seqs[i].Count, repeat: seqs[i].Repeat}
	}
	c.osc.SetPitch(0)
	c.osc.SetDuty(0)
}

func (c *Channel) noteOn(note uint8) {
	wasDisabled := !c.enabled
	if wasDisabled {
		c.osc.Enable()
	}
	c.note = note
	if c.port == 0 || wasDisabled {
		c.pitchOffset = 0
		c.osc.SetPitch(0)
		c.osc.Note(note)
	}
	for i := range c.seq {
		c.seq[i].tick = 0
	}
	c.enabled = true
}

func (c *Channel) noteOff() {
	c.enabled = false
	c.osc.Disable()
}

func isReservedOpcode(b uint8) bool {
	switch b {
	case 0x96, 0x98, 0x9c, 0x9e, 0xa2, 0xa8, 0xac, 0xae:
		return true
	}
	return false
}

// Exec runs once per row: it decrements a pending row delay, or else walks
// the command stream until a note opcode terminates the row and a row
// delay is read. It returns any song-wide control the row requested; errors
// are recovered locally (recorded, never returned). A read past the module's
// bounds is recorded too and ends the row with a Halt control, which stops
// the whole Engine.
func (c *Channel) Exec() Control {
	if c.delay > 0 {
		c.delay--
		return Control{}
	}

	var ctl Control
	for {
		b, err := c.reader.Byte(c.cmds)
		if err != nil {
			record(c.rec, fmt.Errorf("row exec: %w", err))
			ctl.Halt = true
			return ctl
		}
		c.cmds++

		terminal := b&0x80 == 0
		if !c.execOpcode(b, &ctl) {
			ctl.Halt = true
			return ctl
		}
		if terminal {
			break
		}
	}

	if c.pdelay == 0xff {
		d, err := c.reader.Byte(c.cmds)
		if err != nil {
			record(c.rec, fmt.Errorf("row delay: %w", err))
			ctl.Halt = true
			return ctl
		}
		c.cmds++
		c.delay = d
	} else {
		c.delay = c.pdelay
	}
	return ctl
}

// execOpcode dispatches one command byte, advancing the cursor past any
// argument bytes it consumes. It returns false if a module read failed
// (bounds error), signalling the caller to halt.
func (c *Channel) execOpcode(b uint8, ctl *Control) bool {
	arg := func() (uint8, bool) {
		v, err := c.reader.Byte(c.cmds)
		if err != nil {
			record(c.rec, fmt.Errorf("opcode %#x argument: %w", b, err))
			return 0, false
		}
		c.cmds++
		return v, true
	}

	switch {
	case b == 0x00:
		// rest: no change.
	case b <= 0x7e:
		c.noteOn(b - 1)
	case b == 0x7f:
		c.noteOff()
	case b == 0x80:
		v, ok := arg()
		if !ok {
			return false
		}
		c.setInstrument(int(v))
	case b == 0x82:
		v, ok := arg()
		if !ok {
			return false
		}
		ctl.SetSpeed = true
		ctl.Speed = v
	case b == 0x84:
		v, ok := arg()
		if !ok {
			return false
		}
		ctl.Jump = true
		ctl.JumpFrame = v
		c.pdelay = 1
	case b == 0x86:
		ctl.SkipFrame = true
		c.pdelay = 1
	case b == 0x88:
		ctl.Halt = true
	case b == 0x8a:
		v, ok := arg()
		if !ok {
			return false
		}
		c.baseVolume = v & 0x0f
		c.osc.SetVolume(c.baseVolume)
	case b == 0x8c:
		v, ok := arg()
		if !ok {
			return false
		}
		c.port = v
		c.slide = 0
	case b == 0x8e:
		c.slide = c.port
		c.slideTarget = 8
	case b == 0x90:
		c.slide = c.port
		c.slideTarget = 0x7ff
	case b == 0x92:
		v, ok := arg()
		if !ok {
			return false
		}
		c.sweep = v
		c.sweepDiv = (v >> 4) & 0x7
		c.osc.Note(c.note)
	case b == 0x94:
		v, ok := arg()
		if !ok {
			return false
		}
		c.arp = v
		c.arpCount = 0
	case b == 0x9a:
		v, ok := arg()
		if !ok {
			return false
		}
		c.pitchOffset = int16(v) - 0x80
		c.osc.SetPitch(c.pitchOffset)
	case b == 0xa0:
		v, ok := arg()
		if !ok {
			return false
		}
		c.osc.SetDuty(v)
	case b == 0xa4 || b == 0xa6:
		v, ok := arg()
		if !ok {
			return false
		}
		semis := v & 0x0f
		rate := 2*(v>>4) + 1
		var target uint8
		if b == 0xa4 {
			target = c.note + semis
		} else {
			target = c.note - semis
		}
		c.slideTarget = c.toPeriod(target)
		c.slide = rate
	case b == 0xaa:
		v, ok := arg()
		if !ok {
			return false
		}
		c.cut = v
	case b == 0xb0:
		v, ok := arg()
		if !ok {
			return false
		}
		c.pdelay = v
	case b == 0xb2:
		c.pdelay = 0xff
	case isReservedOpcode(b):
		if _, ok := arg(); !ok {
			return false
		}
		record(c.rec, fmt.Errorf("%w: %#x", ErrUnsupportedOpcode, b))
	case b >= 0xe0 && b <= 0xef:
		c.setInstrument(int(b & 0x0f))
	case b >= 0xf0:
		v := b & 0x0f
		c.baseVolume = v
		c.osc.SetVolume(v)
	default:
		record(c.rec, fmt.Errorf("%w: %#x", ErrUnsupportedOpcode, b))
	}
	return true
}

// Tick runs the per-engine-tick (60 Hz) effect chain, in order: note cut,
// hardware sweep, arpeggio, slide, portamento (slide takes priority when
// both are set), then the five instrument sequences.
func (c *Channel) Tick() {
	c.tickCut()
	c.tickSweep()
	c.tickArpeggio()
	slid := c.tickSlide()
	if !slid {
		c.tickPortamento()
	}
	if c.enabled {
		c.tickSequences()
	}
}

func (c *Channel) tickCut() {
	if c.cut == 0 {
		return
	}
	c.cut--
	if c.cut == 0 {
		c.enabled = false
		c.osc.Disable()
	}
}

func (c *Channel) tickSweep() {
	if c.sweep == 0 {
		return
	}
	c.sweepDiv--
	if c.sweepDiv != 0 {
		return
	}
	shift := c.sweep & 0x7
	down := c.sweep&0x8 != 0
	period := c.osc.Period()
	delta := period >> shift
	var target uint16
	if down {
		target = period - delta
	} else {
		target = period + delta
	}
	if target > 0x7ff || target < 8 {
		c.osc.Disable()
		c.sweep = 0
	} else {
		c.osc.AdjustPeriod(target)
	}
	c.sweepDiv = (c.sweep >> 4) & 0x7
}

func (c *Channel) tickArpeggio() {
	if c.arp == 0 {
		return
	}
	high := (c.arp >> 4) & 0xf
	low := c.arp & 0xf

	if high == 0 {
		var note uint8
		if c.arpCount%2 == 0 {
			note = c.note
		} else {
			note = c.note + low
		}
		c.arpCount = (c.arpCount + 1) % 2
		c.osc.Note(note)
		return
	}

	var note uint8
	switch c.arpCount {
	case 0:
		note = c.note
	case 1:
		note = c.note + high
	default:
		note = c.note + low
	}
	c.arpCount = (c.arpCount + 1) % 3
	c.osc.Note(note)
}

// tickSlide moves the period toward slideTarget by slide units, reporting
// whether a slide is active (in which case portamento must not also run).
func (c *Channel) tickSlide() bool {
	if c.slide == 0 {
		return false
	}
	period := c.osc.Period()
	next := steppedToward(period, c.slideTarget, c.slide)
	c.osc.AdjustPeriod(next)
	if next == c.slideTarget {
		c.slide = 0
	}
	return true
}

func (c *Channel) tickPortamento() {
	if c.port == 0 {
		return
	}
	target := c.toPeriod(c.note)
	period := c.osc.Period()
	next := steppedToward(period, target, c.port)
	c.osc.AdjustPeriod(next)
}

// steppedToward moves period one step of size rate toward target, clamping
// on crossing. The crossing check is symmetric in direction, per the
// resolved ambiguity in the design notes.
func steppedToward(period, target uint16, rate uint8) uint16 {
	switch {
	case period < target:
		next := period + uint16(rate)
		if next > target {
			return target
		}
		return next
	case period > target:
		if uint16(rate) >= period {
			return target
		}
		next := period - uint16(rate)
		if next < target {
			return target
		}
		return next
	default:
		return period
	}
}

func (c *Channel) tickSequences() {
	c.tickSequence(seqVolume, func(d uint8) {
		c.osc.SetVolume(uint8(uint16(c.baseVolume) * uint16(d) / 15))
	})
	c.tickSequence(seqArpeggio, func(d uint8) {
		c.osc.Note(c.note + d)
	})
	c.tickSequence(seqPitch, func(d uint8) {
		c.osc.SetPitch(-int16(d))
	})
	c.tickSequence(seqHiPitch, func(d uint8) {
		c.osc.SetPitch(-16 * int16(d))
	})
	c.tickSequence(seqDuty, func(d uint8) {
		c.osc.SetDuty(d)
	})
}

func (c *Channel) tickSequence(slot int, apply func(d uint8)) {
	r := &c.seq[slot]
	if r.count == 0 {
		return
	}
	if r.tick < r.count {
		apply(r.data[r.tick])
		r.tick++
		return
	}
	if r.repeat != 0xff {
		r.tick = r.repeat
	}
}

// Enabled reports whether the channel is currently sounding a note.
func (c *Channel) Enabled() bool {
	return c.enabled
}
